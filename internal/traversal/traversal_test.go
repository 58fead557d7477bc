package traversal

import (
	"encoding/json"
	"testing"

	"github.com/odatalens/odatalens/internal/metadata"
)

func strPtr(s string) *string { return &s }

func testSchema() *metadata.ParsedSchema {
	return &metadata.ParsedSchema{
		Namespace: "NS",
		Entities: []metadata.EntityType{
			{
				Name: "Customer",
				Keys: []string{"CustomerID"},
				NavigationProperties: []metadata.NavigationProperty{
					{Name: "Orders", TargetType: strPtr("NS.Order"), TargetMultiplicity: "*"},
				},
			},
			{
				Name: "Order",
				Keys: []string{"CustomerID", "OrderID"},
				NavigationProperties: []metadata.NavigationProperty{
					{Name: "Items", TargetType: strPtr("NS.OrderItem"), TargetMultiplicity: "*"},
				},
			},
			{Name: "OrderItem", Keys: []string{"ItemID"}},
		},
		EntitySets: []metadata.EntitySet{
			{Name: "Customers", EntityType: "NS.Customer"},
			{Name: "Orders", EntityType: "NS.Order"},
			{Name: "OrderItems", EntityType: "NS.OrderItem"},
		},
	}
}

// decode builds rows the way they arrive from encoding/json.
func decode(t *testing.T, s string) []any {
	t.Helper()
	var rows []any
	if err := json.Unmarshal([]byte(s), &rows); err != nil {
		t.Fatalf("json.Unmarshal() error = %v", err)
	}
	return rows
}

func TestKeyPredicate(t *testing.T) {
	s := testSchema()
	order, _ := s.EntityType("Order")

	tests := []struct {
		name   string
		item   map[string]any
		et     *metadata.EntityType
		want   string
		wantOK bool
	}{
		{"single numeric key", map[string]any{"ID": float64(5)}, &metadata.EntityType{Keys: []string{"ID"}}, "(ID=5)", true},
		{"composite key", map[string]any{"CustomerID": "A", "OrderID": float64(7)}, order, "(CustomerID='A',OrderID=7)", true},
		{"fallback key name", map[string]any{"Uuid": "x-1", "Name": "n"}, nil, "(Uuid='x-1')", true},
		{"fallback order", map[string]any{"id": float64(1), "Id": float64(2)}, nil, "(Id=2)", true},
		{"quote escaping", map[string]any{"ID": "O'Brien"}, nil, "(ID='O''Brien')", true},
		{"boolean key", map[string]any{"Key": true}, nil, "(Key=true)", true},
		{"large number no exponent", map[string]any{"ID": float64(1e21)}, nil, "(ID=1000000000000000000000)", true},
		{"no key", map[string]any{"Name": "n"}, nil, "", false},
		{"missing composite part", map[string]any{"CustomerID": "A"}, order, "", false},
		{"null key value", map[string]any{"ID": nil}, nil, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := KeyPredicate(tt.item, tt.et)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("KeyPredicate() = %q, %v, want %q, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestFormatLiteralJSONNumber(t *testing.T) {
	got, ok := FormatLiteral(json.Number("12.50"))
	if !ok || got != "12.5" {
		t.Errorf("FormatLiteral(json.Number) = %q, %v", got, ok)
	}
}

func TestCollectSelectedSelfHealing(t *testing.T) {
	rows := decode(t, `[{"__metadata":{"type":"NS.Order"},"CustomerID":"A","OrderID":1,"__selected":true}]`)
	tasks := CollectSelected(rows, "", nil, testSchema())
	if len(tasks) != 1 {
		t.Fatalf("len(tasks) = %d, want 1", len(tasks))
	}
	if tasks[0].EntitySet != "Orders" {
		t.Errorf("EntitySet = %q, want Orders", tasks[0].EntitySet)
	}
	if tasks[0].EntityType == nil || tasks[0].EntityType.Name != "Order" {
		t.Errorf("EntityType = %v, want Order", tasks[0].EntityType)
	}
}

func TestCollectSelectedV4TypeAnnotation(t *testing.T) {
	rows := decode(t, `[{"@odata.type":"#NS.Customer","CustomerID":"A","__selected":true}]`)
	tasks := CollectSelected(rows, "", nil, testSchema())
	if len(tasks) != 1 || tasks[0].EntitySet != "Customers" || !tasks[0].Resolved() {
		t.Errorf("tasks = %+v", tasks)
	}
}

func TestCollectSelectedNestedGrandchild(t *testing.T) {
	rows := decode(t, `[{
		"CustomerID": "A",
		"Orders": {"results": [{
			"CustomerID": "A", "OrderID": 1,
			"Items": [{"ItemID": 10}, {"ItemID": 11, "__selected": true}]
		}]}
	}]`)
	s := testSchema()
	customer, _ := s.EntityType("Customer")

	tasks := CollectSelected(rows, "Customers", customer, s)
	if len(tasks) != 1 {
		t.Fatalf("len(tasks) = %d, want 1", len(tasks))
	}
	task := tasks[0]
	if task.Item["ItemID"] != float64(11) {
		t.Errorf("selected item = %v, want the grandchild", task.Item)
	}
	if task.EntitySet != "OrderItems" || task.EntityType == nil || task.EntityType.Name != "OrderItem" {
		t.Errorf("grandchild context = %q/%v", task.EntitySet, task.EntityType)
	}
}

func TestCollectSelectedStableOrder(t *testing.T) {
	rows := decode(t, `[{"b":{"__selected":true,"n":2},"a":{"__selected":true,"n":1},"__selected":true,"n":0}]`)
	tasks := CollectSelected(rows, "", nil, nil)
	if len(tasks) != 3 {
		t.Fatalf("len(tasks) = %d, want 3", len(tasks))
	}
	for i, task := range tasks {
		if task.Item["n"] != float64(i) {
			t.Errorf("tasks[%d].n = %v, want %d", i, task.Item["n"], i)
		}
		if task.Resolved() {
			t.Errorf("tasks[%d] should have no context", i)
		}
	}
}

func TestCollectSelectedSkipsReservedKeys(t *testing.T) {
	rows := decode(t, `[{"__deferred":{"__selected":true},"__metadata":{"__selected":true},"x":[1,"two",null]}]`)
	if tasks := CollectSelected(rows, "", nil, nil); len(tasks) != 0 {
		t.Errorf("tasks = %+v, want none", tasks)
	}
}

func TestCollectSelectedSelectedMustBeTrue(t *testing.T) {
	rows := decode(t, `[{"__selected":"true"},{"__selected":false},{"__selected":1}]`)
	if tasks := CollectSelected(rows, "", nil, nil); len(tasks) != 0 {
		t.Errorf("tasks = %+v, want none", tasks)
	}
}

func TestResolveItemURI(t *testing.T) {
	order, _ := testSchema().EntityType("Order")
	base := "https://host/svc.svc/"

	tests := []struct {
		name    string
		item    map[string]any
		set     string
		et      *metadata.EntityType
		wantURL string
		wantPre string
		wantOK  bool
	}{
		{
			name:    "v2 metadata uri",
			item:    map[string]any{"__metadata": map[string]any{"uri": "https://other/svc.svc/Orders(1)"}},
			wantURL: "https://other/svc.svc/Orders(1)", wantPre: "Orders(1)", wantOK: true,
		},
		{
			name:    "relative odata id",
			item:    map[string]any{"@odata.id": "/Customers('A')"},
			wantURL: "https://host/svc.svc/Customers('A')", wantPre: "Customers('A')", wantOK: true,
		},
		{
			name:    "edit link without key",
			item:    map[string]any{"@odata.editLink": "Singleton"},
			wantURL: "https://host/svc.svc/Singleton", wantPre: PredicateFromURI, wantOK: true,
		},
		{
			name:    "odata id wins over edit link",
			item:    map[string]any{"@odata.id": "A(1)", "@odata.editLink": "B(2)"},
			wantURL: "https://host/svc.svc/A(1)", wantPre: "A(1)", wantOK: true,
		},
		{
			name:    "constructed from keys",
			item:    map[string]any{"CustomerID": "A", "OrderID": float64(7)},
			set:     "Orders",
			et:      order,
			wantURL: "https://host/svc.svc/Orders(CustomerID='A',OrderID=7)", wantPre: "(CustomerID='A',OrderID=7)", wantOK: true,
		},
		{
			name: "no set",
			item: map[string]any{"ID": float64(1)},
		},
		{
			name: "no key",
			item: map[string]any{"Name": "x"},
			set:  "Things",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ResolveItemURI(tt.item, base, tt.set, tt.et)
			if ok != tt.wantOK || got.URL != tt.wantURL || got.Predicate != tt.wantPre {
				t.Errorf("ResolveItemURI() = %+v, %v, want %q %q %v", got, ok, tt.wantURL, tt.wantPre, tt.wantOK)
			}
		})
	}
}

func TestInspect(t *testing.T) {
	m := Inspect(map[string]any{"@odata.type": "#NS.Order", "@odata.editLink": "Orders(1)"})
	if m.Kind != MarkerV4 || m.TypeName != "NS.Order" || m.URI != "Orders(1)" || m.ShortType() != "Order" {
		t.Errorf("Inspect(v4) = %+v", m)
	}
	m = Inspect(map[string]any{"__metadata": map[string]any{"type": "NS.Customer", "uri": "u"}})
	if m.Kind != MarkerV2 || m.TypeName != "NS.Customer" || m.URI != "u" {
		t.Errorf("Inspect(v2) = %+v", m)
	}
	if m := Inspect(map[string]any{"ID": 1}); m.Kind != MarkerNone {
		t.Errorf("Inspect(plain) = %+v", m)
	}
}

func TestUnwrapResults(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"v4 value", `{"@odata.context":"x","value":[{},{}]}`, 2},
		{"v2 results", `{"d":{"results":[{},{},{}],"__count":"3"}}`, 3},
		{"v2 array", `{"d":[{}]}`, 1},
		{"v2 single entity", `{"d":{"ID":1}}`, 1},
		{"v4 single entity", `{"@odata.context":"x","ID":1}`, 1},
		{"bare array", `[{}]`, 1},
		{"error body", `{"error":{"message":"x"}}`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body any
			if err := json.Unmarshal([]byte(tt.body), &body); err != nil {
				t.Fatal(err)
			}
			if got := UnwrapResults(body); len(got) != tt.want {
				t.Errorf("len(UnwrapResults()) = %d, want %d", len(got), tt.want)
			}
		})
	}
}

func TestCount(t *testing.T) {
	var v2, v4 any
	_ = json.Unmarshal([]byte(`{"d":{"results":[],"__count":"42"}}`), &v2)
	_ = json.Unmarshal([]byte(`{"@odata.count":7,"value":[]}`), &v4)

	if n, ok := Count(v2); !ok || n != 42 {
		t.Errorf("Count(v2) = %d, %v", n, ok)
	}
	if n, ok := Count(v4); !ok || n != 7 {
		t.Errorf("Count(v4) = %d, %v", n, ok)
	}
	if _, ok := Count([]any{}); ok {
		t.Error("Count(array) should report false")
	}
}
