package metadata

import "strings"

// maxFlattenDepth bounds complex-type expansion so recursive complex types terminate.
const maxFlattenDepth = 5

// FieldPath is a flattened property reachable from an entity, e.g. "Address.City".
type FieldPath struct {
	Path     string         `json:"path"`
	Property EntityProperty `json:"property"`
}

// FlattenProperties expands properties whose type names a complex type (or a keyless
// entity used as one) into dotted paths. Properties of primitive or unknown types are
// returned as-is.
func FlattenProperties(entity *EntityType, schema *ParsedSchema) []FieldPath {
	if entity == nil {
		return nil
	}
	return flatten(entity.Properties, schema, "", 0)
}

// FlattenComplexType is FlattenProperties for a complex type root.
func FlattenComplexType(ct *ComplexType, schema *ParsedSchema) []FieldPath {
	if ct == nil {
		return nil
	}
	return flatten(ct.Properties, schema, "", 0)
}

func flatten(props []EntityProperty, schema *ParsedSchema, prefix string, depth int) []FieldPath {
	if depth > maxFlattenDepth {
		return nil
	}

	var fields []FieldPath
	for _, p := range props {
		path := p.Name
		if prefix != "" {
			path = prefix + "." + p.Name
		}

		if nested, ok := structuredProperties(p.Type, schema); ok {
			fields = append(fields, flatten(nested, schema, path, depth+1)...)
			continue
		}
		fields = append(fields, FieldPath{Path: path, Property: p})
	}
	return fields
}

// structuredProperties returns the properties of the complex type (or keyless
// entity) named by typeName.
func structuredProperties(typeName string, schema *ParsedSchema) ([]EntityProperty, bool) {
	if schema == nil || strings.HasPrefix(typeName, "Edm.") {
		return nil, false
	}
	inner, _ := StripCollection(typeName)
	short := ShortName(inner)
	if ct, ok := schema.ComplexType(short); ok {
		return ct.Properties, true
	}
	if et, ok := schema.EntityType(short); ok && !et.HasIdentity() {
		return et.Properties, true
	}
	return nil, false
}

// StoreGeneratedPattern returns the StoreGeneratedPattern vendor attribute regardless
// of the namespace prefix the producer chose ("p6:", "annotation:", none).
func StoreGeneratedPattern(p EntityProperty) string {
	for name, value := range p.CustomAttributes {
		local := name
		if idx := strings.LastIndex(name, ":"); idx >= 0 {
			local = name[idx+1:]
		}
		if local == "StoreGeneratedPattern" {
			return value
		}
	}
	return ""
}

// IsIdentity reports whether the server generates the property value on insert.
func IsIdentity(p EntityProperty) bool {
	return strings.EqualFold(StoreGeneratedPattern(p), "Identity")
}

// IsComputed reports whether the server computes the property on every write.
func IsComputed(p EntityProperty) bool {
	return strings.EqualFold(StoreGeneratedPattern(p), "Computed")
}

// KeyProperties returns the declared key properties in key order. Keys that do not
// name an existing property are skipped.
func KeyProperties(entity *EntityType) []EntityProperty {
	if entity == nil {
		return nil
	}
	keys := make([]EntityProperty, 0, len(entity.Keys))
	for _, k := range entity.Keys {
		if p, ok := entity.Property(k); ok {
			keys = append(keys, *p)
		}
	}
	return keys
}
