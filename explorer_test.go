package odatalens_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/odatalens/odatalens"
)

const northwindMetadata = `<?xml version="1.0" encoding="utf-8"?>
<edmx:Edmx Version="1.0" xmlns:edmx="http://schemas.microsoft.com/ado/2007/06/edmx">
  <edmx:DataServices m:DataServiceVersion="2.0" xmlns:m="http://schemas.microsoft.com/ado/2007/08/dataservices/metadata">
    <Schema Namespace="NorthwindModel" xmlns="http://schemas.microsoft.com/ado/2008/09/edm">
      <EntityType Name="Category">
        <Key><PropertyRef Name="CategoryID"/></Key>
        <Property Name="CategoryID" Type="Edm.Int32" Nullable="false"/>
        <Property Name="CategoryName" Type="Edm.String" MaxLength="15"/>
        <NavigationProperty Name="Products" Relationship="NorthwindModel.FK_Products_Categories" FromRole="Categories" ToRole="Products"/>
      </EntityType>
      <EntityType Name="Product">
        <Key><PropertyRef Name="ProductID"/></Key>
        <Property Name="ProductID" Type="Edm.Int32" Nullable="false"/>
        <Property Name="ProductName" Type="Edm.String"/>
        <Property Name="CategoryID" Type="Edm.Int32"/>
        <NavigationProperty Name="Category" Relationship="NorthwindModel.FK_Products_Categories" FromRole="Products" ToRole="Categories"/>
      </EntityType>
      <Association Name="FK_Products_Categories">
        <End Role="Categories" Type="NorthwindModel.Category" Multiplicity="0..1"/>
        <End Role="Products" Type="NorthwindModel.Product" Multiplicity="*"/>
        <ReferentialConstraint>
          <Principal Role="Categories"><PropertyRef Name="CategoryID"/></Principal>
          <Dependent Role="Products"><PropertyRef Name="CategoryID"/></Dependent>
        </ReferentialConstraint>
      </Association>
      <EntityContainer Name="NorthwindEntities" m:IsDefaultEntityContainer="true">
        <EntitySet Name="Categories" EntityType="NorthwindModel.Category"/>
        <EntitySet Name="Products" EntityType="NorthwindModel.Product"/>
      </EntityContainer>
    </Schema>
  </edmx:DataServices>
</edmx:Edmx>`

// fakeService is a minimal V2 service recording the writes it receives.
type fakeService struct {
	mu       sync.Mutex
	requests []string
	offline  bool
}

func (f *fakeService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	offline := f.offline
	f.requests = append(f.requests, r.Method+" "+r.URL.Path)
	f.mu.Unlock()

	if offline {
		http.Error(w, "down", http.StatusServiceUnavailable)
		return
	}

	switch {
	case strings.HasSuffix(r.URL.Path, "/$metadata"):
		w.Header().Set("Content-Type", "application/xml")
		w.Header().Set("DataServiceVersion", "2.0")
		_, _ = w.Write([]byte(northwindMetadata))
	case r.Method == http.MethodDelete && strings.Contains(r.URL.Path, "(ProductID=2)"):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"404","message":{"lang":"en","value":"Resource not found"}}}`))
	case r.Method == http.MethodDelete, r.Method == http.MethodPatch:
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeService) writes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, r := range f.requests {
		if !strings.HasPrefix(r, http.MethodGet) {
			out = append(out, r)
		}
	}
	return out
}

func setupExplorer(t *testing.T) (*odatalens.Explorer, *fakeService, string) {
	t.Helper()
	svc := &fakeService{}
	server := httptest.NewServer(svc)
	t.Cleanup(server.Close)

	explorer := odatalens.NewExplorerWithConfig(odatalens.ExplorerConfig{HTTPClient: server.Client()})
	t.Cleanup(func() { _ = explorer.Close() })
	return explorer, svc, server.URL + "/Northwind.svc"
}

func TestLoadSchemaFromService(t *testing.T) {
	explorer, _, serviceURL := setupExplorer(t)

	schema, err := explorer.LoadSchema(context.Background(), "", serviceURL+"/Products?$top=5")
	if err != nil {
		t.Fatalf("LoadSchema() error = %v", err)
	}
	if schema.Namespace != "NorthwindModel" || len(schema.Entities) != 2 {
		t.Fatalf("unexpected schema: %+v", schema)
	}
	if schema.Version != string(odatalens.V2) {
		t.Errorf("schema.Version = %q, want V2", schema.Version)
	}

	category, _ := schema.EntityType("Category")
	nav, _ := category.Navigation("Products")
	if !nav.IsCollection() || len(nav.Constraints) != 1 || nav.Constraints[0].SourceProperty != "CategoryID" {
		t.Errorf("unexpected navigation: %+v", nav)
	}
}

func TestParseMetadataIsCached(t *testing.T) {
	explorer := odatalens.NewExplorer()
	first, err := explorer.ParseMetadata(context.Background(), []byte(northwindMetadata))
	if err != nil {
		t.Fatalf("ParseMetadata() error = %v", err)
	}
	second, err := explorer.ParseMetadata(context.Background(), []byte(northwindMetadata))
	if err != nil {
		t.Fatalf("ParseMetadata() error = %v", err)
	}
	if first != second {
		t.Error("identical documents should return the cached schema")
	}

	if _, err := explorer.ParseMetadata(context.Background(), []byte("<x/>")); err != odatalens.ErrNoSchema {
		t.Errorf("ParseMetadata() error = %v, want ErrNoSchema", err)
	}
}

func TestDetectVersion(t *testing.T) {
	explorer, _, serviceURL := setupExplorer(t)
	if v := explorer.DetectVersion(context.Background(), serviceURL, false); v != odatalens.V2 {
		t.Errorf("DetectVersion(url) = %s, want V2", v)
	}
	if v := explorer.DetectVersion(context.Background(), northwindMetadata, true); v != odatalens.V2 {
		t.Errorf("DetectVersion(content) = %s, want V2", v)
	}
}

func TestColors(t *testing.T) {
	explorer := odatalens.NewExplorer()
	schema, err := explorer.ParseMetadata(context.Background(), []byte(northwindMetadata))
	if err != nil {
		t.Fatal(err)
	}
	colors := explorer.Colors(schema, odatalens.ThemeLight)
	if len(colors) != 2 || colors["Category"] == colors["Product"] {
		t.Errorf("Colors() = %v", colors)
	}
	if got := explorer.Colors(nil, odatalens.ThemeDark); len(got) != 0 {
		t.Errorf("Colors(nil) = %v", got)
	}
}

func TestDeleteSelectedRows(t *testing.T) {
	explorer, svc, serviceURL := setupExplorer(t)
	ctx := context.Background()

	schema, err := explorer.LoadSchema(ctx, "", serviceURL)
	if err != nil {
		t.Fatal(err)
	}

	rows := []any{
		map[string]any{
			"__metadata": map[string]any{"type": "NorthwindModel.Category"},
			"CategoryID": 1,
			"__selected": true,
			"Products": map[string]any{"results": []any{
				map[string]any{"ProductID": 2, "__selected": true},
				map[string]any{"ProductID": 3},
			}},
		},
		map[string]any{"CategoryID": 9},
	}
	body := map[string]any{"d": map[string]any{"results": rows}}

	tasks := explorer.SelectedTasks(body, "Categories", schema)
	if len(tasks) != 2 || tasks[1].EntitySet != "Products" {
		t.Fatalf("SelectedTasks() = %+v", tasks)
	}

	planner := explorer.NewPlanner(schema, serviceURL, odatalens.VersionUnknown, "Categories")
	plan, err := planner.PlanDelete(rows)
	if err != nil {
		t.Fatalf("PlanDelete() error = %v", err)
	}
	if plan.Version != odatalens.V2 {
		t.Errorf("plan version = %s, want V2 from metadata", plan.Version)
	}

	report, err := explorer.ExecutePlan(ctx, plan, false)
	if err != nil {
		t.Fatalf("ExecutePlan() error = %v", err)
	}
	if report.Succeeded != 1 || report.Failed != 1 {
		t.Errorf("report = %+v", report)
	}
	if errs := report.Errors(); len(errs) != 1 || errs[0] != "Resource not found" {
		t.Errorf("Errors() = %v", errs)
	}

	want := []string{"DELETE /Northwind.svc/Categories(CategoryID=1)", "DELETE /Northwind.svc/Products(ProductID=2)"}
	got := svc.writes()
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("writes = %v, want %v", got, want)
	}
}

func TestExecutePlanNil(t *testing.T) {
	explorer := odatalens.NewExplorer()
	if _, err := explorer.ExecutePlan(context.Background(), nil, false); err == nil {
		t.Error("expected error for nil plan")
	}
}

func TestQuery(t *testing.T) {
	explorer := odatalens.NewExplorer()
	got := explorer.Query("https://h/Northwind.svc/$metadata", odatalens.V2).
		EntitySet("Products").
		Filter("CategoryID eq 1").
		Count(true).
		Build()
	want := "https://h/Northwind.svc/Products?$filter=CategoryID%20eq%201&$inlinecount=allpages"
	if got != want {
		t.Errorf("Query() = %q, want %q", got, want)
	}
}

func TestStoreOfflineFallback(t *testing.T) {
	explorer, svc, serviceURL := setupExplorer(t)
	ctx := context.Background()

	if err := explorer.EnableStore("sqlite", filepath.Join(t.TempDir(), "lens.db")); err != nil {
		t.Fatalf("EnableStore() error = %v", err)
	}
	if !explorer.IsStoreEnabled() {
		t.Fatal("store should be enabled")
	}

	if _, err := explorer.LoadSchema(ctx, "", serviceURL); err != nil {
		t.Fatalf("LoadSchema() error = %v", err)
	}

	svc.mu.Lock()
	svc.offline = true
	svc.mu.Unlock()

	schema, err := explorer.LoadSchema(ctx, "", serviceURL)
	if err != nil {
		t.Fatalf("LoadSchema() offline error = %v", err)
	}
	if schema.Namespace != "NorthwindModel" {
		t.Errorf("offline schema namespace = %q", schema.Namespace)
	}

	services, err := explorer.StoredServices(ctx)
	if err != nil {
		t.Fatalf("StoredServices() error = %v", err)
	}
	if len(services) != 1 || services[0] != serviceURL {
		t.Errorf("StoredServices() = %v, want [%s]", services, serviceURL)
	}
	doc, ok, err := explorer.StoredDocument(ctx, odatalens.DocumentHash([]byte(northwindMetadata)))
	if err != nil || !ok {
		t.Fatalf("StoredDocument() = %v, %v", ok, err)
	}
	if doc.ServiceURL != serviceURL || doc.Version != "V2" {
		t.Errorf("stored document = %s %s", doc.ServiceURL, doc.Version)
	}
}

func TestLoadSchemaUnreachableWithoutStore(t *testing.T) {
	explorer, svc, serviceURL := setupExplorer(t)
	svc.offline = true
	if _, err := explorer.LoadSchema(context.Background(), "", serviceURL); err == nil {
		t.Error("expected error when the service is down and nothing is stored")
	}
}

func TestSettingsAndShouldInspect(t *testing.T) {
	explorer := odatalens.NewExplorer()
	ctx := context.Background()

	if err := explorer.SaveSettings(ctx, odatalens.Settings{}); err == nil {
		t.Error("SaveSettings() without store should fail")
	}
	if err := explorer.EnableStore("sqlite", ":memory:"); err != nil {
		t.Fatalf("EnableStore() error = %v", err)
	}
	defer explorer.Close()

	if err := explorer.SaveSettings(ctx, odatalens.Settings{Theme: "dark", Whitelist: []string{"api.example.com"}}); err != nil {
		t.Fatalf("SaveSettings() error = %v", err)
	}

	tests := map[string]bool{
		"https://host/Service.svc/Orders":  true,
		"https://api.example.com/v1/items": true,
		"https://elsewhere.org/":           false,
	}
	for url, want := range tests {
		got, err := explorer.ShouldInspect(ctx, url)
		if err != nil {
			t.Fatalf("ShouldInspect(%q) error = %v", url, err)
		}
		if got != want {
			t.Errorf("ShouldInspect(%q) = %v, want %v", url, got, want)
		}
	}
}

func TestEnableStoreUnsupportedDialect(t *testing.T) {
	explorer := odatalens.NewExplorer()
	if err := explorer.EnableStore("mysql", "x"); err == nil {
		t.Error("expected error for unsupported dialect")
	}
	if explorer.IsStoreEnabled() {
		t.Error("store must stay disabled after a failure")
	}
}

func TestHandler(t *testing.T) {
	explorer, svc, serviceURL := setupExplorer(t)
	if err := explorer.SetObservability(odatalens.ObservabilityConfig{EnableServerTiming: true}); err != nil {
		t.Fatalf("SetObservability() error = %v", err)
	}
	handler := explorer.Handler()

	payload, _ := json.Marshal(map[string]any{
		"serviceUrl": serviceURL,
		"entitySet":  "Products",
		"action":     "update",
		"updates": []any{
			map[string]any{
				"item":    map[string]any{"ProductID": 5, "ProductName": "Old"},
				"changes": map[string]any{"ProductName": "New"},
			},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/execute", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	var report odatalens.Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatal(err)
	}
	if report.Succeeded != 1 {
		t.Errorf("report = %+v", report)
	}
	if got := svc.writes(); len(got) != 1 || got[0] != "PATCH /Northwind.svc/Products(ProductID=5)" {
		t.Errorf("writes = %v", got)
	}
	if rec.Header().Get("Server-Timing") == "" {
		t.Error("expected Server-Timing header")
	}
}
