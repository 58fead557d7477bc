package odatalens

import (
	"context"
	"fmt"
	"strconv"

	"github.com/odatalens/odatalens/internal/cache"
	"github.com/odatalens/odatalens/internal/store"
)

// Settings are the persisted user preferences.
type Settings = store.Settings

// Document is a stored $metadata document.
type Document = store.Document

// EnableStore connects the explorer to a database that keeps fetched metadata
// documents and user settings. Supported dialects are "sqlite" and "postgres".
// Call it during startup before Handler is first used.
//
// Example:
//
//	explorer := odatalens.NewExplorer()
//	if err := explorer.EnableStore("sqlite", "odatalens.db"); err != nil {
//		log.Fatalf("Failed to enable store: %v", err)
//	}
//	defer explorer.Close()
func (e *Explorer) EnableStore(dialect, dsn string) error {
	e.logger.Info("Enabling metadata store", "dialect", dialect)

	s, err := store.Open(dialect, dsn)
	if err != nil {
		e.logger.Error("Failed to enable metadata store", "error", err)
		return fmt.Errorf("metadata store cannot be enabled: %w", err)
	}
	s.SetLogger(e.logger)
	e.store = s

	if e.api != nil {
		e.api.SetSettingsStore(s)
	}
	e.logger.Info("Metadata store enabled", "dialect", s.Dialect())
	return nil
}

// IsStoreEnabled reports whether EnableStore succeeded.
func (e *Explorer) IsStoreEnabled() bool {
	return e.store != nil
}

// Settings returns the stored settings, or the defaults without a store.
func (e *Explorer) Settings(ctx context.Context) (Settings, error) {
	if e.store == nil {
		return store.DefaultSettings(), nil
	}
	return e.store.GetSettings(ctx)
}

// SaveSettings persists settings. It fails without a store.
func (e *Explorer) SaveSettings(ctx context.Context, settings Settings) error {
	if e.store == nil {
		return fmt.Errorf("metadata store is not enabled")
	}
	return e.store.SaveSettings(ctx, settings)
}

// ShouldInspect reports whether url is worth probing: it looks like an OData
// service or its host is whitelisted in the settings.
func (e *Explorer) ShouldInspect(ctx context.Context, url string) (bool, error) {
	if store.IsODataURL(url) {
		return true, nil
	}
	if e.store == nil {
		return store.DefaultSettings().Allows(url), nil
	}
	return e.store.IsWhitelisted(ctx, url)
}

// StoredServices lists the service roots with stored metadata documents.
func (e *Explorer) StoredServices(ctx context.Context) ([]string, error) {
	if e.store == nil {
		return nil, fmt.Errorf("metadata store is not enabled")
	}
	return e.store.ListServices(ctx)
}

// StoredDocument returns the newest stored metadata document with the given
// content hash (see DocumentHash).
func (e *Explorer) StoredDocument(ctx context.Context, hash string) (*Document, bool, error) {
	if e.store == nil {
		return nil, false, fmt.Errorf("metadata store is not enabled")
	}
	return e.store.DocumentByHash(ctx, hash)
}

// DocumentHash returns the hash under which a metadata document is stored.
func DocumentHash(data []byte) string {
	return strconv.FormatUint(cache.Key(data), 16)
}

// rememberDocument saves a fetched document unless an identical one is stored.
func (e *Explorer) rememberDocument(ctx context.Context, serviceURL string, data []byte, schema *ParsedSchema) {
	if e.store == nil {
		return
	}
	hash := DocumentHash(data)
	if latest, ok, err := e.store.LatestDocument(ctx, serviceURL); err == nil && ok && latest.Hash == hash {
		return
	}
	doc := &store.Document{
		ServiceURL: serviceURL,
		Hash:       hash,
		Version:    schema.Version,
		Content:    string(data),
	}
	if err := e.store.SaveDocument(ctx, doc); err != nil {
		e.logger.Warn("Failed to store metadata document", "service_url", serviceURL, "error", err)
		return
	}
	pruned, err := e.store.PruneDocuments(ctx, serviceURL, e.cfg.KeepDocuments)
	if err != nil {
		e.logger.Warn("Failed to prune stored metadata", "service_url", serviceURL, "error", err)
		return
	}
	if pruned > 0 {
		e.logger.Debug("Pruned stored metadata", "service_url", serviceURL, "removed", pruned)
	}
}

// offlineDocument returns the last stored document of a service.
func (e *Explorer) offlineDocument(ctx context.Context, serviceURL string) (*store.Document, bool) {
	if e.store == nil {
		return nil, false
	}
	doc, ok, err := e.store.LatestDocument(ctx, serviceURL)
	if err != nil {
		e.logger.Debug("Failed to read stored metadata", "service_url", serviceURL, "error", err)
		return nil, false
	}
	return doc, ok
}
