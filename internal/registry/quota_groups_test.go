package registry

import "testing"

func TestGroups_DirectMatch(t *testing.T) {
	t.Parallel()

	g := Default()
	if got := g.GroupID("claude-sonnet-4-5"); got != "claude" {
		t.Fatalf("GroupID() = %q, want %q", got, "claude")
	}
	if got := g.GroupID("gemini-3-pro-low"); got != "gemini-pro" {
		t.Fatalf("GroupID() = %q, want %q", got, "gemini-pro")
	}
}

func TestGroups_PrefixMatchForDatedModels(t *testing.T) {
	t.Parallel()

	g := Default()
	if got := g.GroupID("claude-sonnet-4-5-20250929"); got != "claude" {
		t.Fatalf("GroupID(dated model) = %q, want %q", got, "claude")
	}
}

func TestGroups_UnknownModelIsItsOwnGroup(t *testing.T) {
	t.Parallel()

	g := Default()
	if got := g.GroupID("mystery-model"); got != "mystery-model" {
		t.Fatalf("GroupID(unknown) = %q, want model itself", got)
	}
	models := g.GroupModels("mystery-model")
	if len(models) != 1 || models[0] != "mystery-model" {
		t.Fatalf("GroupModels(unknown) = %v, want [mystery-model]", models)
	}
}

func TestGroups_NormalizesLookups(t *testing.T) {
	t.Parallel()

	g := Default()
	if got := g.GroupID("  models/Gemini-2.5-Flash "); got != "gemini-flash" {
		t.Fatalf("GroupID(path-prefixed) = %q, want %q", got, "gemini-flash")
	}
}

func TestGroups_GroupModelsSharesPool(t *testing.T) {
	t.Parallel()

	g := Default()
	models := g.GroupModels("gemini-3-pro-high")
	if len(models) != 2 {
		t.Fatalf("GroupModels() len = %d, want 2", len(models))
	}
}
