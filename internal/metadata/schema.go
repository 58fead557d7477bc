package metadata

import "strings"

// EntityProperty holds metadata about a single structural property parsed from a
// <Property> element.
type EntityProperty struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
	// Facets. Pointer facets are nil when the attribute is missing or not numeric.
	MaxLength       *int   `json:"maxLength,omitempty"`
	FixedLength     bool   `json:"fixedLength"`
	Precision       *int   `json:"precision,omitempty"`
	Scale           *int   `json:"scale,omitempty"`
	Unicode         bool   `json:"unicode"`
	DefaultValue    string `json:"defaultValue,omitempty"`
	ConcurrencyMode string `json:"concurrencyMode,omitempty"`
	// CustomAttributes captures vendor attributes (e.g. "p6:StoreGeneratedPattern").
	// Nil when the element carried none.
	CustomAttributes map[string]string `json:"customAttributes,omitempty"`
}

// Constraint maps one foreign-key column of a navigation edge.
type Constraint struct {
	SourceProperty string `json:"sourceProperty"`
	TargetProperty string `json:"targetProperty"`
}

// NavigationProperty describes a typed relationship to another entity.
type NavigationProperty struct {
	Name string `json:"name"`
	// TargetType is the qualified (or short) target type name without any
	// Collection() wrapper. Nil when the relationship could not be resolved.
	TargetType         *string      `json:"targetType"`
	Relationship       string       `json:"relationship,omitempty"` // V2/V3 association name
	SourceMultiplicity string       `json:"sourceMultiplicity,omitempty"`
	TargetMultiplicity string       `json:"targetMultiplicity,omitempty"`
	Constraints        []Constraint `json:"constraints,omitempty"`
}

// Navigable reports whether the navigation property has a resolved target.
func (n NavigationProperty) Navigable() bool {
	return n.TargetType != nil && *n.TargetType != ""
}

// TargetShortName returns the target type without namespace, or "" when unresolved.
func (n NavigationProperty) TargetShortName() string {
	if !n.Navigable() {
		return ""
	}
	inner, _ := StripCollection(*n.TargetType)
	return ShortName(inner)
}

// IsCollection reports whether the navigation points at many target rows.
func (n NavigationProperty) IsCollection() bool {
	return n.TargetMultiplicity == "*"
}

// EntityType is a keyed structural type with navigation.
type EntityType struct {
	Name                 string               `json:"name"`
	Keys                 []string             `json:"keys"`
	Properties           []EntityProperty     `json:"properties"`
	NavigationProperties []NavigationProperty `json:"navigationProperties"`
}

// Property returns the named property.
func (e *EntityType) Property(name string) (*EntityProperty, bool) {
	if e == nil {
		return nil, false
	}
	for i := range e.Properties {
		if e.Properties[i].Name == name {
			return &e.Properties[i], true
		}
	}
	return nil, false
}

// Navigation returns the named navigation property.
func (e *EntityType) Navigation(name string) (*NavigationProperty, bool) {
	if e == nil {
		return nil, false
	}
	for i := range e.NavigationProperties {
		if e.NavigationProperties[i].Name == name {
			return &e.NavigationProperties[i], true
		}
	}
	return nil, false
}

// HasIdentity reports whether the type declares at least one key property.
// Keyless types are legal and are treated as having no identity.
func (e *EntityType) HasIdentity() bool {
	return e != nil && len(e.Keys) > 0
}

// ComplexType is structurally an EntityType without keys. V4 complex types may
// carry navigation; it is recorded but not resolved as rigorously as entity navigation.
type ComplexType struct {
	Name                 string               `json:"name"`
	Properties           []EntityProperty     `json:"properties"`
	NavigationProperties []NavigationProperty `json:"navigationProperties"`
}

// EntitySet is a named collection of an entity type.
type EntitySet struct {
	Name       string `json:"name"`
	EntityType string `json:"entityType"` // qualified type name
}

// ParsedSchema is the normalized, read-only result of parsing one metadata document.
type ParsedSchema struct {
	Entities     []EntityType  `json:"entities"`
	ComplexTypes []ComplexType `json:"complexTypes"`
	EntitySets   []EntitySet   `json:"entitySets"`
	Namespace    string        `json:"namespace"`
	// Version is the protocol version declared by the document ("V2", "V3", "V4"
	// or "Unknown").
	Version string `json:"version"`
}

// ShortName strips the namespace from a qualified type name ("NS.Order" -> "Order").
func ShortName(name string) string {
	if idx := strings.LastIndex(name, "."); idx >= 0 {
		return name[idx+1:]
	}
	return name
}

// StripCollection unwraps "Collection(T)" and reports whether a wrapper was present.
func StripCollection(typeName string) (string, bool) {
	if strings.HasPrefix(typeName, "Collection(") && strings.HasSuffix(typeName, ")") {
		return typeName[len("Collection(") : len(typeName)-1], true
	}
	return typeName, false
}

// QualifiedName returns "{namespace}.{name}" or name when the namespace is empty.
func (s *ParsedSchema) QualifiedName(name string) string {
	if s == nil || s.Namespace == "" {
		return name
	}
	return s.Namespace + "." + name
}

// EntityType looks up an entity type by exact short name.
func (s *ParsedSchema) EntityType(shortName string) (*EntityType, bool) {
	if s == nil || shortName == "" {
		return nil, false
	}
	for i := range s.Entities {
		if s.Entities[i].Name == shortName {
			return &s.Entities[i], true
		}
	}
	return nil, false
}

// ComplexType looks up a complex type by exact short name.
func (s *ParsedSchema) ComplexType(shortName string) (*ComplexType, bool) {
	if s == nil || shortName == "" {
		return nil, false
	}
	for i := range s.ComplexTypes {
		if s.ComplexTypes[i].Name == shortName {
			return &s.ComplexTypes[i], true
		}
	}
	return nil, false
}

// EntitySetForType returns the first entity set whose type is shortName, matching
// on the namespace suffix so that aliases and namespaces do not matter.
func (s *ParsedSchema) EntitySetForType(shortName string) (string, bool) {
	if s == nil || shortName == "" {
		return "", false
	}
	suffix := "." + shortName
	for _, es := range s.EntitySets {
		if es.EntityType == shortName || strings.HasSuffix(es.EntityType, suffix) {
			return es.Name, true
		}
	}
	return "", false
}

// EntityTypeForSet resolves the entity type behind an entity set name. When the set
// is not declared it falls back to name heuristics: exact type name, a trailing "s"
// plural, then the first type whose name is contained in setName.
func (s *ParsedSchema) EntityTypeForSet(setName string) (*EntityType, bool) {
	if s == nil || setName == "" {
		return nil, false
	}
	for _, es := range s.EntitySets {
		if es.Name == setName {
			return s.EntityType(ShortName(es.EntityType))
		}
	}
	if et, ok := s.EntityType(setName); ok {
		return et, true
	}
	if strings.HasSuffix(setName, "s") {
		if et, ok := s.EntityType(strings.TrimSuffix(setName, "s")); ok {
			return et, true
		}
	}
	for i := range s.Entities {
		if strings.Contains(setName, s.Entities[i].Name) {
			return &s.Entities[i], true
		}
	}
	return nil, false
}

// NavigationTarget resolves the entity set and type a navigation property of entity
// points at. Missing or broken targets report ok=false; callers treat the edge as absent.
func (s *ParsedSchema) NavigationTarget(entity *EntityType, navName string) (string, *EntityType, bool) {
	nav, ok := entity.Navigation(navName)
	if !ok || !nav.Navigable() {
		return "", nil, false
	}
	short := nav.TargetShortName()
	set, _ := s.EntitySetForType(short)
	et, _ := s.EntityType(short)
	if set == "" && et == nil {
		return "", nil, false
	}
	return set, et, true
}
