// Package registry defines quota group pools. Models in the same group share
// one upstream quota pool: when any model in a group is exhausted, every
// model in the group is considered unavailable, and rate-limit reset times
// are keyed by the group name.
package registry

import "strings"

// Groups resolves model names to the quota group that meters them.
type Groups struct {
	pools        map[string][]string
	modelToGroup map[string]string
}

// NewGroups builds a resolver from group name -> member models.
func NewGroups(pools map[string][]string) *Groups {
	g := &Groups{
		pools:        make(map[string][]string, len(pools)),
		modelToGroup: make(map[string]string),
	}
	for group, models := range pools {
		members := make([]string, 0, len(models))
		for _, model := range models {
			key := normalizeModel(model)
			if key == "" {
				continue
			}
			members = append(members, key)
			g.modelToGroup[key] = group
		}
		g.pools[group] = members
	}
	return g
}

// Default returns the stock pool layout: one pool per model family.
func Default() *Groups {
	return NewGroups(map[string][]string{
		"claude": {
			"claude-sonnet-4-5",
			"claude-sonnet-4-5-thinking",
			"claude-opus-4-5-thinking",
		},
		"gemini-pro": {
			"gemini-3-pro-high",
			"gemini-3-pro-low",
		},
		"gemini-flash": {
			"gemini-2.5-flash",
			"gemini-2.5-flash-thinking",
			"gemini-3-flash",
		},
	})
}

// GroupID returns the stable group name for a model, or the model itself
// when it belongs to no pool. Models carrying date suffixes
// (claude-sonnet-4-5-20250929) match their base entry by prefix.
func (g *Groups) GroupID(model string) string {
	key := normalizeModel(model)
	if key == "" {
		return ""
	}
	if group, ok := g.modelToGroup[key]; ok {
		return group
	}
	for group, members := range g.pools {
		for _, member := range members {
			base := strings.TrimSuffix(member, "-thinking")
			if strings.HasPrefix(key, base) {
				return group
			}
		}
	}
	return key
}

// GroupModels returns every model sharing quota with the given model. A
// model outside every pool shares only with itself.
func (g *Groups) GroupModels(model string) []string {
	key := normalizeModel(model)
	if key == "" {
		return nil
	}
	group := g.GroupID(key)
	if members, ok := g.pools[group]; ok {
		out := make([]string, len(members))
		copy(out, members)
		return out
	}
	return []string{key}
}

// GroupNames lists the configured pool names.
func (g *Groups) GroupNames() []string {
	out := make([]string, 0, len(g.pools))
	for name := range g.pools {
		out = append(out, name)
	}
	return out
}

// normalizeModel standardizes model identifiers for group lookups: trimmed,
// lowercased, provider path prefix removed.
func normalizeModel(model string) string {
	model = strings.TrimSpace(model)
	if idx := strings.LastIndex(model, "/"); idx >= 0 {
		model = model[idx+1:]
	}
	return strings.ToLower(strings.TrimSpace(model))
}
