// Package coloring assigns diagram colors to entity types so that entities joined by
// a navigation property get different colors and colors are spread evenly.
package coloring

import (
	"sort"

	"github.com/odatalens/odatalens/internal/metadata"
)

// Adjacency builds the undirected entity graph from navigation properties. Targets
// are reduced to short names, unresolved targets and self-references are ignored.
// Every entity in the input has an entry, possibly empty; targets that are not in the
// input list still appear as nodes.
func Adjacency(entities []metadata.EntityType) map[string]map[string]struct{} {
	adj := make(map[string]map[string]struct{}, len(entities))
	link := func(a, b string) {
		if adj[a] == nil {
			adj[a] = make(map[string]struct{})
		}
		adj[a][b] = struct{}{}
	}

	for _, e := range entities {
		if adj[e.Name] == nil {
			adj[e.Name] = make(map[string]struct{})
		}
		for _, nav := range e.NavigationProperties {
			target := nav.TargetShortName()
			if target == "" || target == e.Name {
				continue
			}
			link(e.Name, target)
			link(target, e.Name)
		}
	}
	return adj
}

// Compute returns a color index in [0, paletteLength) for every entity name.
//
// Entities are colored greedily in order of descending degree (ties by name). Among
// the colors no already-colored neighbor uses, the globally least used one wins, ties
// going to the lower index. When every color is taken by a neighbor, the color used by
// the fewest neighbors wins, then global usage, then index. The result depends only
// on the input.
func Compute(entities []metadata.EntityType, paletteLength int) map[string]int {
	colors := make(map[string]int, len(entities))
	if paletteLength <= 0 {
		return colors
	}

	adj := Adjacency(entities)
	globalUsage := make([]int, paletteLength)

	order := make([]string, 0, len(entities))
	for _, e := range entities {
		order = append(order, e.Name)
	}
	sort.SliceStable(order, func(i, j int) bool {
		di, dj := len(adj[order[i]]), len(adj[order[j]])
		if di != dj {
			return di > dj
		}
		return order[i] < order[j]
	})

	localUsage := make([]int, paletteLength)
	for _, name := range order {
		for i := range localUsage {
			localUsage[i] = 0
		}
		for neighbor := range adj[name] {
			if c, ok := colors[neighbor]; ok {
				localUsage[c]++
			}
		}

		chosen := -1
		for i := 0; i < paletteLength; i++ {
			if localUsage[i] > 0 {
				continue
			}
			if chosen < 0 || globalUsage[i] < globalUsage[chosen] {
				chosen = i
			}
		}

		if chosen < 0 {
			chosen = 0
			for i := 1; i < paletteLength; i++ {
				switch {
				case localUsage[i] < localUsage[chosen]:
					chosen = i
				case localUsage[i] == localUsage[chosen] && globalUsage[i] < globalUsage[chosen]:
					chosen = i
				}
			}
		}

		colors[name] = chosen
		globalUsage[chosen]++
	}
	return colors
}

// ComputeForTheme colors entities with the palette size of theme.
func ComputeForTheme(entities []metadata.EntityType, theme Theme) map[string]int {
	return Compute(entities, PaletteLength(theme))
}
