package research

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeMaps_UnionAppendsDeltaAfterBase(t *testing.T) {
	base := map[string][]string{
		"acme.com":  {"base snippet"},
		"only.base": {"kept"},
	}
	delta := map[string][]string{
		"acme.com":   {"delta snippet"},
		"only.delta": {"added"},
	}

	merged := MergeMaps(base, delta)

	assert.Equal(t, []string{"base snippet", "delta snippet"}, merged["acme.com"])
	assert.Equal(t, []string{"kept"}, merged["only.base"])
	assert.Equal(t, []string{"added"}, merged["only.delta"])

	// Inputs untouched.
	assert.Equal(t, []string{"base snippet"}, base["acme.com"])
	assert.Len(t, base, 2)
	assert.Len(t, delta, 2)
}

func TestMergeMaps_DoesNotAliasBaseSlices(t *testing.T) {
	base := map[string][]string{"acme.com": {"one"}}
	merged := MergeMaps(base, nil)

	merged["acme.com"][0] = "mutated"
	assert.Equal(t, "one", base["acme.com"][0])
}

func TestMergeEvidence_PerSource(t *testing.T) {
	base := map[string]map[string][]string{
		"serper": {"acme.com": {"web hit"}},
	}
	delta := map[string]map[string][]string{
		"serper": {"acme.com": {"newer web hit"}},
		"news":   {"acme.com": {"article"}},
	}

	merged := MergeEvidence(base, delta)

	assert.Equal(t, []string{"web hit", "newer web hit"}, merged["serper"]["acme.com"])
	assert.Equal(t, []string{"article"}, merged["news"]["acme.com"])
	assert.Len(t, base["serper"]["acme.com"], 1)
}

func TestDedupEntities_FirstSeenWins(t *testing.T) {
	existing := []Entity{{Name: "Acme", Domain: "acme.com"}}
	candidates := []Entity{
		{Name: "ACME Inc", Domain: "acme.com", SourceURL: "https://later.example"},
		{Name: "Globex", Domain: "globex.com"},
		{Name: "Globex Corp", Domain: "globex.com"},
	}

	out := DedupEntities(existing, candidates, 0)

	require.Len(t, out, 2)
	assert.Equal(t, "Acme", out[0].Name)
	assert.Empty(t, out[0].SourceURL)
	assert.Equal(t, "Globex", out[1].Name)
}

func TestDedupEntities_SkipsEmptyDomain(t *testing.T) {
	out := DedupEntities(nil, []Entity{
		{Name: "Nameless"},
		{Name: "Acme", Domain: "acme.com"},
	}, 0)

	require.Len(t, out, 1)
	assert.Equal(t, "acme.com", out[0].Domain)
}

func TestDedupEntities_CapStopsAdmission(t *testing.T) {
	existing := []Entity{{Domain: "a.com"}, {Domain: "b.com"}}
	candidates := []Entity{{Domain: "c.com"}, {Domain: "d.com"}, {Domain: "e.com"}}

	out := DedupEntities(existing, candidates, 3)

	require.Len(t, out, 3)
	assert.Equal(t, "c.com", out[2].Domain)
}

func TestDedupEntities_Idempotent(t *testing.T) {
	candidates := []Entity{{Domain: "a.com"}, {Domain: "b.com"}}

	once := DedupEntities(nil, candidates, 0)
	twice := DedupEntities(once, candidates, 0)

	assert.Equal(t, once, twice)
}
