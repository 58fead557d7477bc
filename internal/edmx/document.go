package edmx

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/ianaindex"
)

// The element types below mirror the subset of EDMX/CSDL the parser reads. Tags name
// local names only, so elements decode regardless of the namespace or prefix the
// producer chose. Attributes are captured generically and read via attrList.

type schemaElement struct {
	Attrs        attrList             `xml:",any,attr"`
	EntityTypes  []structuredElement  `xml:"EntityType"`
	ComplexTypes []structuredElement  `xml:"ComplexType"`
	Associations []associationElement `xml:"Association"`
	Containers   []containerElement   `xml:"EntityContainer"`
}

type structuredElement struct {
	Attrs      attrList            `xml:",any,attr"`
	Key        *keyElement         `xml:"Key"`
	Properties []propertyElement   `xml:"Property"`
	Navigation []navigationElement `xml:"NavigationProperty"`
}

type keyElement struct {
	PropertyRefs []propertyRefElement `xml:"PropertyRef"`
}

type propertyRefElement struct {
	Attrs attrList `xml:",any,attr"`
}

type propertyElement struct {
	Attrs attrList `xml:",any,attr"`
}

type navigationElement struct {
	Attrs       attrList              `xml:",any,attr"`
	Constraints []v4ConstraintElement `xml:"ReferentialConstraint"`
}

// v4ConstraintElement is the inline V4 form: <ReferentialConstraint Property="" ReferencedProperty=""/>.
type v4ConstraintElement struct {
	Attrs attrList `xml:",any,attr"`
}

type associationElement struct {
	Attrs      attrList            `xml:",any,attr"`
	Ends       []endElement        `xml:"End"`
	Constraint *v2ConstraintElement `xml:"ReferentialConstraint"`
}

type endElement struct {
	Attrs attrList `xml:",any,attr"`
}

type v2ConstraintElement struct {
	Principal *roleRefElement `xml:"Principal"`
	Dependent *roleRefElement `xml:"Dependent"`
}

type roleRefElement struct {
	Attrs        attrList             `xml:",any,attr"`
	PropertyRefs []propertyRefElement `xml:"PropertyRef"`
}

type containerElement struct {
	EntitySets []entitySetElement `xml:"EntitySet"`
}

type entitySetElement struct {
	Attrs attrList `xml:",any,attr"`
}

// attrList holds the raw attributes of one element.
type attrList []xml.Attr

// get returns the value of an unqualified attribute.
func (a attrList) get(local string) (string, bool) {
	for _, attr := range a {
		if attr.Name.Space == "" && attr.Name.Local == local {
			return attr.Value, true
		}
	}
	return "", false
}

// value returns the unqualified attribute or "" when missing.
func (a attrList) value(local string) string {
	v, _ := a.get(local)
	return v
}

// anyNamespace returns the attribute with the given local name in any namespace.
func (a attrList) anyNamespace(local string) string {
	for _, attr := range a {
		if attr.Name.Local == local && !isNamespaceDecl(attr) {
			return attr.Value
		}
	}
	return ""
}

func isNamespaceDecl(attr xml.Attr) bool {
	return attr.Name.Space == "xmlns" || (attr.Name.Space == "" && attr.Name.Local == "xmlns")
}

// prefixes maps namespace URIs back to the prefixes the document declared for them.
type prefixes map[string]string

func (p prefixes) collect(attrs []xml.Attr) {
	for _, attr := range attrs {
		if attr.Name.Space == "xmlns" {
			if _, seen := p[attr.Value]; !seen {
				p[attr.Value] = attr.Name.Local
			}
		}
	}
}

// qualify renders an attribute name the way it was written in the document,
// e.g. "p6:StoreGeneratedPattern".
func (p prefixes) qualify(name xml.Name) string {
	if name.Space == "" {
		return name.Local
	}
	if prefix, ok := p[name.Space]; ok {
		return prefix + ":" + name.Local
	}
	// An undeclared prefix is left untranslated by the decoder.
	if !strings.ContainsAny(name.Space, "/:") {
		return name.Space + ":" + name.Local
	}
	return name.Local
}

// document is the decoded view of one metadata payload.
type document struct {
	edmxVersion        string
	dataServiceVersion string
	schemas            []schemaElement
	prefixes           prefixes
}

// decode walks the token stream and decodes every Schema element. Wrapper elements
// (Edmx, DataServices) are only inspected for version attributes and namespace
// declarations, so bare CSDL documents whose root is Schema also decode.
func decode(data []byte) (*document, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = charsetReader
	doc := &document{prefixes: prefixes{}}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("edmx: malformed metadata document: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		doc.prefixes.collect(start.Attr)

		switch start.Name.Local {
		case "Edmx":
			doc.edmxVersion = attrList(start.Attr).value("Version")
		case "DataServices":
			doc.dataServiceVersion = attrList(start.Attr).anyNamespace("DataServiceVersion")
		case "Schema":
			var s schemaElement
			if err := dec.DecodeElement(&s, &start); err != nil {
				return nil, fmt.Errorf("edmx: malformed Schema element: %w", err)
			}
			doc.schemas = append(doc.schemas, s)
		}
	}
	return doc, nil
}

// charsetReader accepts any IANA-registered encoding declared in the XML prolog.
func charsetReader(label string, input io.Reader) (io.Reader, error) {
	enc, err := ianaindex.IANA.Encoding(label)
	if err != nil {
		return nil, fmt.Errorf("edmx: unsupported charset %q: %w", label, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("edmx: unsupported charset %q", label)
	}
	return enc.NewDecoder().Reader(input), nil
}
