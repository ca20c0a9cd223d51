// pkg/registry/schema.go
package registry

// SourceRegistry is the catalog of analytical data sources the pipeline may
// query. Query building and orchestrator dispatch are both restricted to
// registered sources.
type SourceRegistry struct {
	Version     string       `json:"version"`
	LastUpdated string       `json:"lastUpdated"`
	Sources     []DataSource `json:"sources"`
}

// DataSource describes one queryable table.
type DataSource struct {
	Name        string   `json:"name"`
	DisplayName string   `json:"displayName"`
	Description string   `json:"description"`
	Table       string   `json:"table"`
	Columns     []string `json:"columns"`
	TimeColumn  string   `json:"timeColumn,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
}
