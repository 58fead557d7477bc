// Package edmx parses OData EDMX/CSDL metadata documents (V2, V3 and V4) into the
// normalized schema model used by the rest of odatalens.
package edmx

import (
	"errors"
	"strconv"
	"strings"

	"github.com/odatalens/odatalens/internal/metadata"
	"github.com/odatalens/odatalens/internal/version"
)

// ErrNoSchema is returned when the document contains no Schema element at all.
// Every other gap in the metadata degrades to empty lists or nil values.
var ErrNoSchema = errors.New("edmx: no Schema definition found")

// standardPropertyAttrs are the Property attributes read into dedicated fields.
// Everything else (except namespace declarations) is kept as a custom attribute.
var standardPropertyAttrs = map[string]bool{
	"Name":            true,
	"Type":            true,
	"Nullable":        true,
	"MaxLength":       true,
	"FixedLength":     true,
	"Precision":       true,
	"Scale":           true,
	"Unicode":         true,
	"DefaultValue":    true,
	"ConcurrencyMode": true,
}

// associationEnd is one role of a V2/V3 Association.
type associationEnd struct {
	entityType   string
	multiplicity string
}

// associationConstraint is the referential constraint of a V2/V3 Association.
type associationConstraint struct {
	principalRole  string
	principalProps []string
	dependentRole  string
	dependentProps []string
}

type association struct {
	roles      map[string]associationEnd
	constraint *associationConstraint
}

// associationIndex resolves Relationship attributes. Entries are stored under both the
// qualified and the bare association name because producers reference both forms.
type associationIndex map[string]*association

func (idx associationIndex) lookup(relationship string) (*association, bool) {
	if a, ok := idx[relationship]; ok {
		return a, true
	}
	a, ok := idx[metadata.ShortName(relationship)]
	return a, ok
}

// ParseString parses metadata given as text.
func ParseString(xmlText string) (*metadata.ParsedSchema, error) {
	return Parse([]byte(xmlText))
}

// Parse parses a metadata document into a ParsedSchema. Types and associations are
// taken from the first Schema; entity sets are collected from every EntityContainer
// in the document since some producers declare the container in a separate Schema.
func Parse(data []byte) (*metadata.ParsedSchema, error) {
	doc, err := decode(data)
	if err != nil {
		return nil, err
	}
	if len(doc.schemas) == 0 {
		return nil, ErrNoSchema
	}

	primary := doc.schemas[0]
	namespace := primary.Attrs.value("Namespace")
	p := &parser{prefixes: doc.prefixes}
	p.prefixes.collect(primary.Attrs)

	// Associations must be indexed before any EntityType is parsed: navigation
	// resolution is a pure lookup.
	assocs := associationIndex{}
	for _, s := range doc.schemas {
		indexAssociations(assocs, s)
	}

	schema := &metadata.ParsedSchema{
		Namespace:    namespace,
		Version:      string(version.FromEdmx(doc.edmxVersion, doc.dataServiceVersion)),
		Entities:     []metadata.EntityType{},
		ComplexTypes: []metadata.ComplexType{},
		EntitySets:   []metadata.EntitySet{},
	}

	for _, s := range doc.schemas {
		for _, c := range s.Containers {
			for _, es := range c.EntitySets {
				schema.EntitySets = append(schema.EntitySets, metadata.EntitySet{
					Name:       es.Attrs.value("Name"),
					EntityType: es.Attrs.value("EntityType"),
				})
			}
		}
	}

	for _, ct := range primary.ComplexTypes {
		p.prefixes.collect(ct.Attrs)
		schema.ComplexTypes = append(schema.ComplexTypes, metadata.ComplexType{
			Name:                 ct.Attrs.value("Name"),
			Properties:           p.parseProperties(ct.Properties),
			NavigationProperties: parseNavigation(ct.Navigation, assocs),
		})
	}

	for _, et := range primary.EntityTypes {
		p.prefixes.collect(et.Attrs)
		schema.Entities = append(schema.Entities, metadata.EntityType{
			Name:                 et.Attrs.value("Name"),
			Keys:                 parseKeys(et.Key),
			Properties:           p.parseProperties(et.Properties),
			NavigationProperties: parseNavigation(et.Navigation, assocs),
		})
	}

	return schema, nil
}

func indexAssociations(idx associationIndex, s schemaElement) {
	namespace := s.Attrs.value("Namespace")
	for _, a := range s.Associations {
		name := a.Attrs.value("Name")
		if name == "" {
			continue
		}

		entry := &association{roles: make(map[string]associationEnd, len(a.Ends))}
		for _, end := range a.Ends {
			role := end.Attrs.value("Role")
			if role == "" {
				continue
			}
			multiplicity := end.Attrs.value("Multiplicity")
			if multiplicity == "" {
				multiplicity = "1"
			}
			entry.roles[role] = associationEnd{
				entityType:   end.Attrs.value("Type"),
				multiplicity: multiplicity,
			}
		}
		entry.constraint = parseAssociationConstraint(a.Constraint)

		full := name
		if namespace != "" {
			full = namespace + "." + name
		}
		// The first declaration wins when several schemas reuse a name.
		if _, exists := idx[full]; !exists {
			idx[full] = entry
		}
		if _, exists := idx[name]; !exists {
			idx[name] = entry
		}
	}
}

func parseAssociationConstraint(c *v2ConstraintElement) *associationConstraint {
	if c == nil || c.Principal == nil || c.Dependent == nil {
		return nil
	}
	ac := &associationConstraint{
		principalRole:  c.Principal.Attrs.value("Role"),
		principalProps: propertyRefNames(c.Principal.PropertyRefs),
		dependentRole:  c.Dependent.Attrs.value("Role"),
		dependentProps: propertyRefNames(c.Dependent.PropertyRefs),
	}
	if ac.principalRole == "" || ac.dependentRole == "" || len(ac.principalProps) == 0 || len(ac.dependentProps) == 0 {
		return nil
	}
	return ac
}

func propertyRefNames(refs []propertyRefElement) []string {
	names := make([]string, 0, len(refs))
	for _, ref := range refs {
		if name := ref.Attrs.value("Name"); name != "" {
			names = append(names, name)
		}
	}
	return names
}

func parseKeys(key *keyElement) []string {
	keys := []string{}
	if key == nil {
		return keys
	}
	for _, ref := range key.PropertyRefs {
		keys = append(keys, ref.Attrs.value("Name"))
	}
	return keys
}

type parser struct {
	prefixes prefixes
}

// parseProperties is shared by entity and complex types.
func (p *parser) parseProperties(elems []propertyElement) []metadata.EntityProperty {
	props := make([]metadata.EntityProperty, 0, len(elems))
	for _, el := range elems {
		p.prefixes.collect(el.Attrs)
		a := el.Attrs

		prop := metadata.EntityProperty{
			Name:            a.value("Name"),
			Type:            strings.TrimSpace(a.value("Type")),
			Nullable:        a.value("Nullable") != "false",
			MaxLength:       parseOptionalInt(a.value("MaxLength")),
			FixedLength:     a.value("FixedLength") == "true",
			Precision:       parseOptionalInt(a.value("Precision")),
			Scale:           parseOptionalInt(a.value("Scale")),
			Unicode:         a.value("Unicode") != "false",
			DefaultValue:    a.value("DefaultValue"),
			ConcurrencyMode: a.value("ConcurrencyMode"),
		}

		for _, attr := range a {
			if isNamespaceDecl(attr) {
				continue
			}
			if attr.Name.Space == "" && standardPropertyAttrs[attr.Name.Local] {
				continue
			}
			if prop.CustomAttributes == nil {
				prop.CustomAttributes = make(map[string]string)
			}
			prop.CustomAttributes[p.prefixes.qualify(attr.Name)] = attr.Value
		}
		props = append(props, prop)
	}
	return props
}

// parseOptionalInt parses a numeric facet. Missing or non-numeric values (including
// "Max" and "variable") are treated as absent rather than zero.
func parseOptionalInt(s string) *int {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}

func parseNavigation(elems []navigationElement, assocs associationIndex) []metadata.NavigationProperty {
	navs := make([]metadata.NavigationProperty, 0, len(elems))
	for _, el := range elems {
		if typeName, ok := el.Attrs.get("Type"); ok && strings.TrimSpace(typeName) != "" {
			navs = append(navs, parseV4Navigation(el, strings.TrimSpace(typeName)))
			continue
		}
		navs = append(navs, parseV2Navigation(el, assocs))
	}
	return navs
}

func parseV4Navigation(el navigationElement, typeName string) metadata.NavigationProperty {
	target, isCollection := metadata.StripCollection(typeName)
	nav := metadata.NavigationProperty{
		Name:               el.Attrs.value("Name"),
		TargetType:         &target,
		TargetMultiplicity: "1",
	}
	if isCollection {
		nav.TargetMultiplicity = "*"
	}
	for _, c := range el.Constraints {
		prop := c.Attrs.value("Property")
		ref := c.Attrs.value("ReferencedProperty")
		if prop != "" && ref != "" {
			nav.Constraints = append(nav.Constraints, metadata.Constraint{SourceProperty: prop, TargetProperty: ref})
		}
	}
	return nav
}

func parseV2Navigation(el navigationElement, assocs associationIndex) metadata.NavigationProperty {
	nav := metadata.NavigationProperty{
		Name:         el.Attrs.value("Name"),
		Relationship: el.Attrs.value("Relationship"),
	}
	fromRole := el.Attrs.value("FromRole")
	toRole := el.Attrs.value("ToRole")
	if nav.Relationship == "" || toRole == "" {
		return nav
	}

	assoc, ok := assocs.lookup(nav.Relationship)
	if !ok {
		return nav
	}

	if toEnd, ok := assoc.roles[toRole]; ok && toEnd.entityType != "" {
		target := toEnd.entityType
		nav.TargetType = &target
		nav.TargetMultiplicity = toEnd.multiplicity
	}
	if fromEnd, ok := assoc.roles[fromRole]; ok {
		nav.SourceMultiplicity = fromEnd.multiplicity
	}
	nav.Constraints = directConstraint(assoc.constraint, fromRole, toRole)
	return nav
}

// directConstraint orients an association constraint relative to the navigation:
// when the navigation starts at the principal role, source properties are the
// principal's; when it starts at the dependent role, the pairs are swapped.
func directConstraint(c *associationConstraint, fromRole, toRole string) []metadata.Constraint {
	if c == nil {
		return nil
	}

	var source, target []string
	switch {
	case c.principalRole == fromRole && c.dependentRole == toRole:
		source, target = c.principalProps, c.dependentProps
	case c.dependentRole == fromRole && c.principalRole == toRole:
		source, target = c.dependentProps, c.principalProps
	default:
		return nil
	}

	n := min(len(source), len(target))
	constraints := make([]metadata.Constraint, 0, n)
	for i := 0; i < n; i++ {
		constraints = append(constraints, metadata.Constraint{SourceProperty: source[i], TargetProperty: target[i]})
	}
	return constraints
}
