// Package store persists fetched metadata documents and user settings with gorm.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Dialects accepted by Open.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

// settingsID is the primary key of the single settings row.
const settingsID = 1

// Document is one fetched $metadata payload.
type Document struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ServiceURL string    `gorm:"index;not null" json:"serviceUrl"`
	Hash       string    `gorm:"index;size:16" json:"hash"`
	Version    string    `gorm:"size:16" json:"version"`
	Content    string    `gorm:"type:text" json:"-"`
	FetchedAt  time.Time `gorm:"index" json:"fetchedAt"`
}

// BeforeCreate assigns an ID when the caller did not.
func (d *Document) BeforeCreate(*gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.FetchedAt.IsZero() {
		d.FetchedAt = time.Now().UTC()
	}
	return nil
}

// Settings are the user preferences of the tool.
type Settings struct {
	ID         uint     `gorm:"primaryKey" json:"-"`
	AutoDetect bool     `json:"autoDetect"`
	Theme      string   `gorm:"size:16" json:"theme"`
	Whitelist  []string `gorm:"serializer:json" json:"whitelist"`
}

// DefaultSettings returns the settings used until the user saves their own.
func DefaultSettings() Settings {
	return Settings{ID: settingsID, AutoDetect: true, Theme: "light", Whitelist: []string{}}
}

// Store wraps a gorm connection.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects to the database and migrates the schema. For sqlite the DSN is a
// file name or ":memory:"; for postgres it is a libpq connection string or URL.
func Open(dialect, dsn string) (*Store, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(dialect) {
	case DialectSQLite, "sqlite3", "":
		dialector = sqlite.Open(dsn)
	case DialectPostgres, "postgresql":
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("database dialect '%s' is not supported", dialect)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect, err)
	}
	return New(db)
}

// New wraps an existing connection and migrates the schema.
func New(db *gorm.DB) (*Store, error) {
	if db == nil || db.Dialector == nil {
		return nil, fmt.Errorf("database connection is not initialized")
	}
	if err := db.AutoMigrate(&Document{}, &Settings{}); err != nil {
		return nil, fmt.Errorf("failed to migrate store schema: %w", err)
	}
	return &Store{db: db, logger: slog.Default()}, nil
}

// SetLogger sets the logger. Passing nil restores slog.Default().
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	s.logger = logger
}

// DB exposes the underlying connection.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Dialect returns the name of the connected database dialect.
func (s *Store) Dialect() string {
	return s.db.Name()
}

// SaveDocument stores a fetched document.
func (s *Store) SaveDocument(ctx context.Context, doc *Document) error {
	if doc == nil {
		return errors.New("store: nil document")
	}
	if err := s.db.WithContext(ctx).Create(doc).Error; err != nil {
		return fmt.Errorf("failed to save metadata document: %w", err)
	}
	s.logger.Debug("Saved metadata document", "service_url", doc.ServiceURL, "hash", doc.Hash)
	return nil
}

// LatestDocument returns the most recently fetched document for a service. The
// boolean is false when none has been stored.
func (s *Store) LatestDocument(ctx context.Context, serviceURL string) (*Document, bool, error) {
	var doc Document
	err := s.db.WithContext(ctx).
		Where("service_url = ?", serviceURL).
		Order("fetched_at DESC").
		First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load metadata document: %w", err)
	}
	return &doc, true, nil
}

// DocumentByHash finds a stored document with identical content.
func (s *Store) DocumentByHash(ctx context.Context, hash string) (*Document, bool, error) {
	var doc Document
	err := s.db.WithContext(ctx).Where("hash = ?", hash).Order("fetched_at DESC").First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load metadata document: %w", err)
	}
	return &doc, true, nil
}

// ListServices returns the distinct service URLs with stored documents.
func (s *Store) ListServices(ctx context.Context) ([]string, error) {
	var urls []string
	err := s.db.WithContext(ctx).Model(&Document{}).Distinct().Order("service_url").Pluck("service_url", &urls).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	return urls, nil
}

// PruneDocuments keeps the newest keep documents of a service and deletes the rest.
func (s *Store) PruneDocuments(ctx context.Context, serviceURL string, keep int) (int64, error) {
	var ids []uuid.UUID
	err := s.db.WithContext(ctx).Model(&Document{}).
		Where("service_url = ?", serviceURL).
		Order("fetched_at DESC").
		Pluck("id", &ids).Error
	if err != nil {
		return 0, fmt.Errorf("failed to find stale documents: %w", err)
	}
	if keep < 0 {
		keep = 0
	}
	if len(ids) <= keep {
		return 0, nil
	}
	stale := ids[keep:]
	res := s.db.WithContext(ctx).Where("id IN ?", stale).Delete(&Document{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to prune documents: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// GetSettings returns the saved settings or the defaults.
func (s *Store) GetSettings(ctx context.Context) (Settings, error) {
	var settings Settings
	err := s.db.WithContext(ctx).First(&settings, settingsID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("failed to load settings: %w", err)
	}
	if settings.Whitelist == nil {
		settings.Whitelist = []string{}
	}
	return settings, nil
}

// SaveSettings replaces the stored settings.
func (s *Store) SaveSettings(ctx context.Context, settings Settings) error {
	settings.ID = settingsID
	if settings.Whitelist == nil {
		settings.Whitelist = []string{}
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&settings).Error
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// IsWhitelisted reports whether url contains any whitelisted domain.
func (s *Store) IsWhitelisted(ctx context.Context, url string) (bool, error) {
	settings, err := s.GetSettings(ctx)
	if err != nil {
		return false, err
	}
	return settings.Allows(url), nil
}

// Allows reports whether url contains any whitelisted entry.
func (s Settings) Allows(url string) bool {
	for _, domain := range s.Whitelist {
		if domain != "" && strings.Contains(url, domain) {
			return true
		}
	}
	return false
}

// IsODataURL is a cheap heuristic for URLs that likely point at an OData service.
// A definitive answer needs the $metadata probe.
func IsODataURL(url string) bool {
	lower := strings.ToLower(url)
	return strings.Contains(lower, ".svc") || strings.Contains(lower, "/odata/")
}
