package edmx

import (
	"errors"
	"testing"

	"github.com/odatalens/odatalens/internal/metadata"
)

const v4Metadata = `<?xml version="1.0" encoding="utf-8"?>
<edmx:Edmx Version="4.0" xmlns:edmx="http://docs.oasis-open.org/odata/ns/edmx">
  <edmx:DataServices>
    <Schema Namespace="NS" xmlns="http://docs.oasis-open.org/odata/ns/edm">
      <EntityType Name="Customer">
        <Key><PropertyRef Name="ID"/></Key>
        <Property Name="ID" Type="Edm.Int32" Nullable="false"/>
        <Property Name="Name" Type=" Edm.String " MaxLength="Max" Unicode="false"/>
        <Property Name="Address" Type="NS.Address"/>
        <NavigationProperty Name="Orders" Type="Collection(NS.Order)"/>
        <NavigationProperty Name="Manager" Type="NS.Customer"/>
      </EntityType>
      <EntityType Name="Order">
        <Key><PropertyRef Name="CustomerID"/><PropertyRef Name="OrderID"/></Key>
        <Property Name="CustomerID" Type="Edm.Int32"/>
        <Property Name="OrderID" Type="Edm.Int32"/>
        <Property Name="Total" Type="Edm.Decimal" Precision="10" Scale="2"/>
        <NavigationProperty Name="Customer" Type="NS.Customer" Nullable="false">
          <ReferentialConstraint Property="CustomerID" ReferencedProperty="ID"/>
        </NavigationProperty>
      </EntityType>
      <EntityType Name="Empty"/>
      <ComplexType Name="Address">
        <Property Name="Street" Type="Edm.String" FixedLength="true"/>
      </ComplexType>
      <EntityContainer Name="Container">
        <EntitySet Name="Customers" EntityType="NS.Customer"/>
        <EntitySet Name="Orders" EntityType="NS.Order"/>
      </EntityContainer>
    </Schema>
  </edmx:DataServices>
</edmx:Edmx>`

const v2Metadata = `<?xml version="1.0" encoding="utf-8"?>
<edmx:Edmx Version="1.0" xmlns:edmx="http://schemas.microsoft.com/ado/2007/06/edmx">
  <edmx:DataServices m:DataServiceVersion="2.0" xmlns:m="http://schemas.microsoft.com/ado/2007/08/dataservices/metadata">
    <Schema Namespace="NS" xmlns="http://schemas.microsoft.com/ado/2008/09/edm"
            xmlns:p6="http://schemas.microsoft.com/ado/2009/02/edm/annotation">
      <EntityType Name="Customer">
        <Key><PropertyRef Name="ID"/></Key>
        <Property Name="ID" Type="Edm.Int32" Nullable="false" p6:StoreGeneratedPattern="Identity"/>
        <NavigationProperty Name="Orders" Relationship="NS.FK_Order_Customer" FromRole="Customer" ToRole="Order"/>
        <NavigationProperty Name="Ghost" Relationship="NS.Missing" FromRole="A" ToRole="B"/>
      </EntityType>
      <EntityType Name="Order">
        <Key><PropertyRef Name="OrderID"/></Key>
        <Property Name="OrderID" Type="Edm.Int32" Nullable="false"/>
        <Property Name="CustomerID" Type="Edm.Int32" MaxLength="abc"/>
        <NavigationProperty Name="Customer" Relationship="FK_Order_Customer" FromRole="Order" ToRole="Customer"/>
      </EntityType>
      <Association Name="FK_Order_Customer">
        <End Type="NS.Customer" Role="Customer" Multiplicity="0..1"/>
        <End Type="NS.Order" Role="Order" Multiplicity="*"/>
        <ReferentialConstraint>
          <Principal Role="Customer"><PropertyRef Name="ID"/></Principal>
          <Dependent Role="Order"><PropertyRef Name="CustomerID"/></Dependent>
        </ReferentialConstraint>
      </Association>
    </Schema>
    <Schema Namespace="NS.Container" xmlns="http://schemas.microsoft.com/ado/2008/09/edm">
      <EntityContainer Name="Entities" m:IsDefaultEntityContainer="true">
        <EntitySet Name="Customers" EntityType="NS.Customer"/>
        <EntitySet Name="Orders" EntityType="NS.Order"/>
        <AssociationSet Name="FK_Set" Association="NS.FK_Order_Customer">
          <End Role="Customer" EntitySet="Customers"/>
          <End Role="Order" EntitySet="Orders"/>
        </AssociationSet>
      </EntityContainer>
    </Schema>
  </edmx:DataServices>
</edmx:Edmx>`

func mustParse(t *testing.T, doc string) *metadata.ParsedSchema {
	t.Helper()
	schema, err := ParseString(doc)
	if err != nil {
		t.Fatalf("ParseString() error = %v", err)
	}
	return schema
}

func mustEntity(t *testing.T, s *metadata.ParsedSchema, name string) *metadata.EntityType {
	t.Helper()
	et, ok := s.EntityType(name)
	if !ok {
		t.Fatalf("entity %q not found", name)
	}
	return et
}

func mustNav(t *testing.T, et *metadata.EntityType, name string) *metadata.NavigationProperty {
	t.Helper()
	nav, ok := et.Navigation(name)
	if !ok {
		t.Fatalf("navigation %q not found on %s", name, et.Name)
	}
	return nav
}

func TestParseV4Document(t *testing.T) {
	s := mustParse(t, v4Metadata)

	if s.Namespace != "NS" {
		t.Errorf("Namespace = %q, want NS", s.Namespace)
	}
	if s.Version != "V4" {
		t.Errorf("Version = %q, want V4", s.Version)
	}
	if len(s.Entities) != 3 {
		t.Fatalf("len(Entities) = %d, want 3", len(s.Entities))
	}
	if len(s.EntitySets) != 2 || s.EntitySets[0].Name != "Customers" || s.EntitySets[0].EntityType != "NS.Customer" {
		t.Errorf("EntitySets = %+v", s.EntitySets)
	}

	customer := mustEntity(t, s, "Customer")
	orders := mustNav(t, customer, "Orders")
	if orders.TargetType == nil || *orders.TargetType != "NS.Order" {
		t.Errorf("Orders.TargetType = %v, want NS.Order", orders.TargetType)
	}
	if orders.TargetMultiplicity != "*" {
		t.Errorf("Orders.TargetMultiplicity = %q, want *", orders.TargetMultiplicity)
	}

	manager := mustNav(t, customer, "Manager")
	if manager.TargetType == nil || *manager.TargetType != "NS.Customer" || manager.TargetMultiplicity != "1" {
		t.Errorf("self-reference not kept: %+v", manager)
	}

	order := mustEntity(t, s, "Order")
	if len(order.Keys) != 2 || order.Keys[0] != "CustomerID" || order.Keys[1] != "OrderID" {
		t.Errorf("Order.Keys = %v, want [CustomerID OrderID]", order.Keys)
	}
	nav := mustNav(t, order, "Customer")
	if len(nav.Constraints) != 1 || nav.Constraints[0] != (metadata.Constraint{SourceProperty: "CustomerID", TargetProperty: "ID"}) {
		t.Errorf("Customer.Constraints = %+v", nav.Constraints)
	}

	empty := mustEntity(t, s, "Empty")
	if empty.Properties == nil || len(empty.Properties) != 0 || len(empty.Keys) != 0 {
		t.Errorf("empty entity = %+v", empty)
	}
}

func TestParsePropertyFacets(t *testing.T) {
	s := mustParse(t, v4Metadata)
	customer := mustEntity(t, s, "Customer")

	id, _ := customer.Property("ID")
	if id.Nullable {
		t.Error("ID.Nullable = true, want false")
	}
	name, _ := customer.Property("Name")
	if name.Type != "Edm.String" {
		t.Errorf("Name.Type = %q, want trimmed Edm.String", name.Type)
	}
	if name.MaxLength != nil {
		t.Errorf("MaxLength=\"Max\" must be absent, got %d", *name.MaxLength)
	}
	if name.Unicode {
		t.Error("Name.Unicode = true, want false")
	}
	if !name.Nullable {
		t.Error("Nullable must default to true")
	}
	if name.CustomAttributes != nil {
		t.Errorf("CustomAttributes = %v, want nil", name.CustomAttributes)
	}

	order := mustEntity(t, s, "Order")
	total, _ := order.Property("Total")
	if total.Precision == nil || *total.Precision != 10 || total.Scale == nil || *total.Scale != 2 {
		t.Errorf("Total facets = %v/%v", total.Precision, total.Scale)
	}

	addr, ok := s.ComplexType("Address")
	if !ok || len(addr.Properties) != 1 || !addr.Properties[0].FixedLength {
		t.Errorf("Address complex type = %+v", addr)
	}
}

func TestParseV2Associations(t *testing.T) {
	s := mustParse(t, v2Metadata)

	if s.Version != "V2" {
		t.Errorf("Version = %q, want V2", s.Version)
	}
	if len(s.EntitySets) != 2 {
		t.Errorf("entity sets from the container schema were not collected: %+v", s.EntitySets)
	}

	customer := mustEntity(t, s, "Customer")
	orders := mustNav(t, customer, "Orders")
	if orders.TargetType == nil || *orders.TargetType != "NS.Order" {
		t.Fatalf("Orders.TargetType = %v, want NS.Order", orders.TargetType)
	}
	if orders.TargetMultiplicity != "*" || orders.SourceMultiplicity != "0..1" {
		t.Errorf("multiplicities = %q -> %q", orders.SourceMultiplicity, orders.TargetMultiplicity)
	}
	if orders.Relationship != "NS.FK_Order_Customer" {
		t.Errorf("Relationship = %q", orders.Relationship)
	}
	want := metadata.Constraint{SourceProperty: "ID", TargetProperty: "CustomerID"}
	if len(orders.Constraints) != 1 || orders.Constraints[0] != want {
		t.Errorf("principal->dependent constraints = %+v, want %+v", orders.Constraints, want)
	}

	order := mustEntity(t, s, "Order")
	back := mustNav(t, order, "Customer")
	if back.TargetType == nil || *back.TargetType != "NS.Customer" || back.TargetMultiplicity != "0..1" {
		t.Errorf("short relationship name not resolved: %+v", back)
	}
	swapped := metadata.Constraint{SourceProperty: "CustomerID", TargetProperty: "ID"}
	if len(back.Constraints) != 1 || back.Constraints[0] != swapped {
		t.Errorf("dependent->principal constraints = %+v, want %+v", back.Constraints, swapped)
	}

	ghost := mustNav(t, customer, "Ghost")
	if ghost.TargetType != nil {
		t.Errorf("unresolved navigation TargetType = %v, want nil", *ghost.TargetType)
	}
}

func TestParseCustomAttributes(t *testing.T) {
	s := mustParse(t, v2Metadata)
	customer := mustEntity(t, s, "Customer")
	id, _ := customer.Property("ID")

	if got := id.CustomAttributes["p6:StoreGeneratedPattern"]; got != "Identity" {
		t.Errorf("CustomAttributes = %v, want p6:StoreGeneratedPattern=Identity", id.CustomAttributes)
	}
	if !metadata.IsIdentity(*id) {
		t.Error("ID should be detected as identity")
	}

	order := mustEntity(t, s, "Order")
	fk, _ := order.Property("CustomerID")
	if fk.MaxLength != nil {
		t.Errorf("non-numeric MaxLength must be absent, got %d", *fk.MaxLength)
	}
}

func TestParseNamespaceDeclaredOnProperty(t *testing.T) {
	doc := `<Edmx Version="4.0"><DataServices><Schema Namespace="X">
<EntityType Name="T"><Property Name="P" Type="Edm.String" xmlns:vnd="urn:vendor" vnd:Label="Name"/></EntityType>
</Schema></DataServices></Edmx>`
	s := mustParse(t, doc)
	p, _ := mustEntity(t, s, "T").Property("P")
	if len(p.CustomAttributes) != 1 || p.CustomAttributes["vnd:Label"] != "Name" {
		t.Errorf("CustomAttributes = %v, want vnd:Label", p.CustomAttributes)
	}
}

func TestParseWithoutEdmxPrefix(t *testing.T) {
	doc := `<Edmx Version="4.0" xmlns="http://docs.oasis-open.org/odata/ns/edmx"><DataServices>
<Schema Namespace="Bare" xmlns="http://docs.oasis-open.org/odata/ns/edm">
<EntityType Name="Thing"><Key><PropertyRef Name="Id"/></Key><Property Name="Id" Type="Edm.Guid"/></EntityType>
</Schema></DataServices></Edmx>`
	s := mustParse(t, doc)
	if s.Namespace != "Bare" || len(s.Entities) != 1 || s.Entities[0].Keys[0] != "Id" {
		t.Errorf("schema = %+v", s)
	}
}

func TestParseFirstSchemaWins(t *testing.T) {
	doc := `<Edmx Version="4.0"><DataServices>
<Schema Namespace="First"><EntityType Name="A"/></Schema>
<Schema Namespace="Second"><EntityType Name="B"/></Schema>
</DataServices></Edmx>`
	s := mustParse(t, doc)
	if s.Namespace != "First" || len(s.Entities) != 1 || s.Entities[0].Name != "A" {
		t.Errorf("schema = %+v", s)
	}
}

func TestParseErrors(t *testing.T) {
	if _, err := ParseString(`<Edmx Version="4.0"><DataServices/></Edmx>`); !errors.Is(err, ErrNoSchema) {
		t.Errorf("error = %v, want ErrNoSchema", err)
	}
	if _, err := ParseString(`<Edmx><Schema>`); err == nil {
		t.Error("expected error for malformed XML")
	}
	if _, err := ParseString(``); !errors.Is(err, ErrNoSchema) {
		t.Errorf("empty document error = %v, want ErrNoSchema", err)
	}
}

func TestParseNonUTF8Charset(t *testing.T) {
	doc := "<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?>\n" +
		"<Edmx Version=\"4.0\"><DataServices><Schema Namespace=\"L\"><EntityType Name=\"Caf\xe9\"/></Schema></DataServices></Edmx>"
	s := mustParse(t, doc)
	if len(s.Entities) != 1 || s.Entities[0].Name != "Café" {
		t.Errorf("Entities = %+v", s.Entities)
	}
}
