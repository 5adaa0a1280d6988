package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTables(t *testing.T) {
	tables := DefaultTables()

	require.NotEmpty(t, tables.Topics)
	for _, topic := range tables.Topics {
		assert.NotEmpty(t, topic.Name)
		assert.NotEmpty(t, topic.SearchTerms, "topic %s needs search terms", topic.Name)
	}
	require.NotEmpty(t, tables.SponsorAliases)
	require.NotEmpty(t, tables.ConditionAliases)
}

func TestDefaultTables_SpecificRulesComeFirst(t *testing.T) {
	tables := DefaultTables()

	// Alias rules apply first match wins, so the narrow treatment-resistant
	// rule must sit before the broad depression rule.
	narrow, broad := -1, -1
	for i, rule := range tables.ConditionAliases {
		if rule.Match == "treatment resistant depress" {
			narrow = i
		}
		if rule.Match == "depress" {
			broad = i
		}
	}
	require.NotEqual(t, -1, narrow)
	require.NotEqual(t, -1, broad)
	assert.Less(t, narrow, broad, "the specific rule must be checked before the broad one")
}

func TestLoadTables_MissingFileUsesDefaults(t *testing.T) {
	tables, err := LoadTables(filepath.Join(t.TempDir(), "does-not-exist.yaml"))

	require.NoError(t, err, "a missing file is not an error, defaults apply")
	assert.Equal(t, DefaultTables(), tables)
}

func TestLoadTables_ParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topics.yaml")
	content := `topics:
  - name: Psilocybin
    search_terms: psilocybin OR psilocybine
sponsor_aliases:
  - match: compass
    canonical: COMPASS Pathways
condition_aliases:
  - match: depress
    canonical: Depression
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	tables, err := LoadTables(path)
	require.NoError(t, err)

	require.Len(t, tables.Topics, 1)
	assert.Equal(t, "Psilocybin", tables.Topics[0].Name)
	assert.Equal(t, "psilocybin OR psilocybine", tables.Topics[0].SearchTerms)
	require.Len(t, tables.SponsorAliases, 1)
	assert.Equal(t, AliasRule{Match: "compass", Canonical: "COMPASS Pathways"}, tables.SponsorAliases[0])
	require.Len(t, tables.ConditionAliases, 1)
	assert.Equal(t, AliasRule{Match: "depress", Canonical: "Depression"}, tables.ConditionAliases[0])
}

func TestLoadTables_BrokenFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topics.yaml")
	require.NoError(t, os.WriteFile(path, []byte("topics: ["), 0o644))

	_, err := LoadTables(path)
	assert.Error(t, err, "a present but broken file must fail loudly instead of silently using defaults")
}

func TestLoadTables_EmptyTopicsFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topics.yaml")
	require.NoError(t, os.WriteFile(path, []byte("topics: []\n"), 0o644))

	_, err := LoadTables(path)
	assert.Error(t, err, "a run without topics would silently measure nothing")
}
