// Package traversal walks fetched OData rows against a schema: it finds the rows
// selected for mutation anywhere in an expanded result tree, recovers the entity set
// and type each row belongs to, and derives key predicates and request URIs.
package traversal

import (
	"sort"

	"github.com/odatalens/odatalens/internal/metadata"
)

// Task is one selected row with its best known owning entity set and type. An empty
// EntitySet or nil EntityType means that part of the context could not be resolved.
type Task struct {
	Item       map[string]any
	EntitySet  string
	EntityType *metadata.EntityType
}

// Resolved reports whether both the set and the type are known.
func (t Task) Resolved() bool {
	return t.EntitySet != "" && t.EntityType != nil
}

// CollectSelected returns a task for every row flagged with __selected == true in
// items and in any nested array, {results: [...]} wrapper or nested object.
//
// Missing context is recovered from the row's own __metadata.type or @odata.type.
// Children get their context from the parent type's navigation property of the same
// name. Rows are visited depth first with object keys in sorted order, so the result
// is stable for a given input.
func CollectSelected(items []any, entitySet string, entityType *metadata.EntityType, schema *metadata.ParsedSchema) []Task {
	var tasks []Task
	for _, node := range items {
		tasks = collectNode(tasks, node, entitySet, entityType, schema)
	}
	return tasks
}

func collectNode(tasks []Task, node any, entitySet string, entityType *metadata.EntityType, schema *metadata.ParsedSchema) []Task {
	row, ok := node.(map[string]any)
	if !ok {
		return tasks
	}

	set, et := heal(row, entitySet, entityType, schema)
	if IsSelected(row) {
		tasks = append(tasks, Task{Item: row, EntitySet: set, EntityType: et})
	}

	keys := make([]string, 0, len(row))
	for k := range row {
		if !isReservedKey(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, key := range keys {
		children, ok := expandable(row[key])
		if !ok || len(children) == 0 {
			continue
		}
		childSet, childType := childContext(et, key, schema)
		for _, child := range children {
			tasks = collectNode(tasks, child, childSet, childType, schema)
		}
	}
	return tasks
}

// heal fills in a missing entity set or type from the row's embedded type name.
func heal(row map[string]any, entitySet string, entityType *metadata.EntityType, schema *metadata.ParsedSchema) (string, *metadata.EntityType) {
	if (entitySet != "" && entityType != nil) || schema == nil {
		return entitySet, entityType
	}
	short := Inspect(row).ShortType()
	if short == "" {
		return entitySet, entityType
	}
	if entitySet == "" {
		entitySet, _ = schema.EntitySetForType(short)
	}
	if entityType == nil {
		entityType, _ = schema.EntityType(short)
	}
	return entitySet, entityType
}

func childContext(parent *metadata.EntityType, navName string, schema *metadata.ParsedSchema) (string, *metadata.EntityType) {
	if schema == nil {
		return "", nil
	}
	set, et, ok := schema.NavigationTarget(parent, navName)
	if !ok {
		return "", nil
	}
	return set, et
}

// expandable returns the rows nested under a property value: an array, the array of
// a {results: [...]} wrapper, or a single nested object.
func expandable(v any) ([]any, bool) {
	switch val := v.(type) {
	case []any:
		return val, true
	case map[string]any:
		if results, ok := val[keyResults].([]any); ok {
			return results, true
		}
		return []any{val}, true
	}
	return nil, false
}
