package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistryIsValid(t *testing.T) {
	reg := Default()
	require.NoError(t, reg.Validate())
	assert.Contains(t, reg.Names(), "sales")
	assert.Contains(t, reg.Names(), "inventory")
}

func TestLoadRegistry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.json")
	content := `{
		"version": "1.0",
		"sources": [
			{"name": "sales", "table": "sales", "columns": ["sale_date", "sale_price"], "keywords": ["sales"]}
		]
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	reg, err := LoadRegistry(path)
	require.NoError(t, err)

	src, ok := reg.Lookup("sales")
	require.True(t, ok)
	assert.Equal(t, "sales", src.Table)
}

func TestLoadRegistryRejectsDuplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sources.json")
	content := `{
		"version": "1.0",
		"sources": [
			{"name": "sales", "table": "sales"},
			{"name": "sales", "table": "sales_v2"}
		]
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := LoadRegistry(path)
	assert.Error(t, err)
}

func TestFilterDropsUnknownSources(t *testing.T) {
	reg := Default()
	got := reg.Filter([]string{"sales", "payroll", "inventory"})
	assert.Equal(t, []string{"sales", "inventory"}, got)
}

func TestMatchKeywords(t *testing.T) {
	reg := Default()

	matched := reg.MatchKeywords("How is our inventory aging compared to sales this month?")

	assert.Contains(t, matched, "inventory")
	assert.Contains(t, matched, "sales")
	assert.NotContains(t, matched, "service")
}
