// Package query builds OData request URLs with the system query options each
// protocol version understands.
package query

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/odatalens/odatalens/internal/version"
)

// Direction is a $orderby direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

type orderClause struct {
	field string
	dir   Direction
}

// Builder accumulates query options for one resource request. Methods return the
// builder so calls can be chained; Build renders the URL.
type Builder struct {
	baseURL   string
	version   version.Version
	entitySet string
	key       string
	nav       []string
	filters   []string
	selects   []string
	expands   []string
	orderBys  []orderClause
	top       *int
	skip      int
	count     bool
	format    string
	params    [][2]string
}

// New creates a builder for the service at baseURL.
func New(baseURL string, v version.Version) *Builder {
	return &Builder{
		baseURL: strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		version: v,
	}
}

// EntitySet sets the addressed entity set.
func (b *Builder) EntitySet(name string) *Builder {
	b.entitySet = name
	return b
}

// Key addresses a single entity by key predicate, e.g. "(ID=5)".
func (b *Builder) Key(predicate string) *Builder {
	b.key = predicate
	return b
}

// Navigate appends navigation segments after the entity, e.g. "Orders".
func (b *Builder) Navigate(segments ...string) *Builder {
	b.nav = append(b.nav, segments...)
	return b
}

// Filter adds a $filter expression. Multiple filters are joined with "and".
func (b *Builder) Filter(expr string) *Builder {
	if expr = strings.TrimSpace(expr); expr != "" {
		b.filters = append(b.filters, expr)
	}
	return b
}

// Select adds $select fields.
func (b *Builder) Select(fields ...string) *Builder {
	b.selects = appendNonEmpty(b.selects, fields)
	return b
}

// Expand adds $expand navigation paths.
func (b *Builder) Expand(paths ...string) *Builder {
	b.expands = appendNonEmpty(b.expands, paths)
	return b
}

// OrderBy adds a $orderby clause.
func (b *Builder) OrderBy(field string, dir Direction) *Builder {
	if field != "" {
		b.orderBys = append(b.orderBys, orderClause{field: field, dir: dir})
	}
	return b
}

// Top sets $top.
func (b *Builder) Top(n int) *Builder {
	b.top = &n
	return b
}

// Skip sets $skip.
func (b *Builder) Skip(n int) *Builder {
	b.skip = n
	return b
}

// Count requests the total count: $count=true for V4, $inlinecount=allpages otherwise.
func (b *Builder) Count(enabled bool) *Builder {
	b.count = enabled
	return b
}

// Format sets $format, e.g. "json".
func (b *Builder) Format(format string) *Builder {
	b.format = format
	return b
}

// Param adds a custom query parameter such as "sap-client".
func (b *Builder) Param(key, value string) *Builder {
	b.params = append(b.params, [2]string{key, value})
	return b
}

// Clone returns an independent copy of the builder.
func (b *Builder) Clone() *Builder {
	clone := *b
	clone.nav = append([]string(nil), b.nav...)
	clone.filters = append([]string(nil), b.filters...)
	clone.selects = append([]string(nil), b.selects...)
	clone.expands = append([]string(nil), b.expands...)
	clone.orderBys = append([]orderClause(nil), b.orderBys...)
	clone.params = append([][2]string(nil), b.params...)
	if b.top != nil {
		top := *b.top
		clone.top = &top
	}
	return &clone
}

// Path returns the resource path without query options.
func (b *Builder) Path() string {
	var sb strings.Builder
	sb.WriteString(b.baseURL)
	if b.entitySet != "" {
		sb.WriteString("/")
		sb.WriteString(b.entitySet)
		sb.WriteString(b.key)
	}
	for _, seg := range b.nav {
		sb.WriteString("/")
		sb.WriteString(seg)
	}
	return sb.String()
}

// Query returns the encoded query string without the leading "?".
func (b *Builder) Query() string {
	var parts []string
	add := func(key, value string) {
		parts = append(parts, key+"="+escape(value))
	}

	switch len(b.filters) {
	case 0:
	case 1:
		add("$filter", b.filters[0])
	default:
		add("$filter", "("+strings.Join(b.filters, ") and (")+")")
	}
	if len(b.selects) > 0 {
		add("$select", strings.Join(b.selects, ","))
	}
	if len(b.expands) > 0 {
		add("$expand", strings.Join(b.expands, ","))
	}
	if len(b.orderBys) > 0 {
		clauses := make([]string, 0, len(b.orderBys))
		for _, o := range b.orderBys {
			if o.dir == "" {
				clauses = append(clauses, o.field)
				continue
			}
			clauses = append(clauses, o.field+" "+string(o.dir))
		}
		add("$orderby", strings.Join(clauses, ","))
	}
	if b.top != nil {
		add("$top", strconv.Itoa(*b.top))
	}
	if b.skip > 0 {
		add("$skip", strconv.Itoa(b.skip))
	}
	if b.count {
		if b.version == version.V4 {
			add("$count", "true")
		} else {
			add("$inlinecount", "allpages")
		}
	}
	if b.format != "" {
		add("$format", b.format)
	}
	for _, p := range b.params {
		parts = append(parts, url.QueryEscape(p[0])+"="+escape(p[1]))
	}
	return strings.Join(parts, "&")
}

// Build renders the full URL.
func (b *Builder) Build() string {
	q := b.Query()
	if q == "" {
		return b.Path()
	}
	return b.Path() + "?" + q
}

// readable undoes escaping for characters that are legal in a query and common in
// OData expressions, so URLs stay legible in logs and the UI.
var readable = strings.NewReplacer(
	"+", "%20",
	"%24", "$",
	"%2C", ",",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2F", "/",
	"%3A", ":",
)

func escape(s string) string {
	return readable.Replace(url.QueryEscape(s))
}

func appendNonEmpty(dst, values []string) []string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			dst = append(dst, v)
		}
	}
	return dst
}

// QuoteString renders a string literal for a filter expression.
func QuoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// Contains renders a substring filter using the function the protocol version
// supports: substringof('value',Field) before V4, contains(Field,'value') in V4.
func Contains(v version.Version, field, value string) string {
	if v == version.V4 {
		return fmt.Sprintf("contains(%s,%s)", field, QuoteString(value))
	}
	return fmt.Sprintf("substringof(%s,%s)", QuoteString(value), field)
}

// FilterFunctions lists the string and date functions offered for building filters,
// with the containment function matching the version.
func FilterFunctions(v version.Version) []string {
	containment := "substringof('value',Field)"
	if v == version.V4 {
		containment = "contains(Field,'value')"
	}
	return []string{
		containment,
		"startswith(Field,'value')",
		"endswith(Field,'value')",
		"length(Field)",
		"indexof(Field,'value')",
		"replace(Field,'find','replace')",
		"substring(Field,1)",
		"tolower(Field)",
		"toupper(Field)",
		"trim(Field)",
		"concat(Field1,Field2)",
		"year(Field)",
		"month(Field)",
		"day(Field)",
		"hour(Field)",
		"minute(Field)",
		"second(Field)",
	}
}
