// pkg/registry/registry.go
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// LoadRegistry reads and validates a source registry file.
func LoadRegistry(path string) (*SourceRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var reg SourceRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("failed to parse source registry: %w", err)
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return &reg, nil
}

// Default returns the built-in dealership source catalog used when no
// registry file is configured.
func Default() *SourceRegistry {
	return &SourceRegistry{
		Version: "1.0",
		Sources: []DataSource{
			{
				Name:        "sales",
				DisplayName: "Vehicle Sales",
				Description: "Completed vehicle sale transactions",
				Table:       "sales",
				Columns:     []string{"sale_date", "sale_price", "vehicle_make", "vehicle_model", "salesperson", "gross_profit"},
				TimeColumn:  "sale_date",
				Keywords:    []string{"sales", "sold", "revenue", "deal", "profit"},
			},
			{
				Name:        "inventory",
				DisplayName: "Vehicle Inventory",
				Description: "Vehicles currently on the lot",
				Table:       "inventory",
				Columns:     []string{"stock_number", "vehicle_make", "vehicle_model", "received_date", "days_on_lot", "list_price", "status"},
				TimeColumn:  "received_date",
				Keywords:    []string{"inventory", "stock", "lot", "aging", "vehicles"},
			},
			{
				Name:        "customers",
				DisplayName: "Customer Records",
				Description: "Customer profiles and purchase history",
				Table:       "customers",
				Columns:     []string{"customer_since", "total_purchases", "last_visit", "segment"},
				TimeColumn:  "customer_since",
				Keywords:    []string{"customer", "client", "buyer", "retention", "loyalty"},
			},
			{
				Name:        "service",
				DisplayName: "Service Department",
				Description: "Service and repair orders",
				Table:       "service_orders",
				Columns:     []string{"order_date", "labor_hours", "parts_total", "labor_total", "service_type"},
				TimeColumn:  "order_date",
				Keywords:    []string{"service", "repair", "maintenance", "parts", "labor"},
			},
			{
				Name:        "leads",
				DisplayName: "Sales Leads",
				Description: "Incoming leads and their outcomes",
				Table:       "leads",
				Columns:     []string{"created_at", "source", "status", "assigned_to", "converted"},
				TimeColumn:  "created_at",
				Keywords:    []string{"lead", "prospect", "conversion", "follow-up"},
			},
		},
	}
}

// Validate checks registry integrity: unique non-empty names and tables.
func (r *SourceRegistry) Validate() error {
	if len(r.Sources) == 0 {
		return fmt.Errorf("source registry has no sources")
	}
	seen := make(map[string]bool, len(r.Sources))
	for _, src := range r.Sources {
		if src.Name == "" {
			return fmt.Errorf("source registry entry missing name")
		}
		if src.Table == "" {
			return fmt.Errorf("source %q missing table", src.Name)
		}
		if seen[src.Name] {
			return fmt.Errorf("duplicate source name %q", src.Name)
		}
		seen[src.Name] = true
	}
	return nil
}

// Lookup returns the source with the given name.
func (r *SourceRegistry) Lookup(name string) (DataSource, bool) {
	for _, src := range r.Sources {
		if src.Name == name {
			return src, true
		}
	}
	return DataSource{}, false
}

// Names returns all registered source names.
func (r *SourceRegistry) Names() []string {
	names := make([]string, 0, len(r.Sources))
	for _, src := range r.Sources {
		names = append(names, src.Name)
	}
	return names
}

// Filter returns the subset of names registered here, preserving order.
func (r *SourceRegistry) Filter(names []string) []string {
	valid := make([]string, 0, len(names))
	for _, name := range names {
		if _, ok := r.Lookup(name); ok {
			valid = append(valid, name)
		}
	}
	return valid
}

// MatchKeywords returns sources whose keywords appear in the query text.
func (r *SourceRegistry) MatchKeywords(query string) []string {
	lower := strings.ToLower(query)
	matched := make([]string, 0, 2)
	for _, src := range r.Sources {
		for _, kw := range src.Keywords {
			if strings.Contains(lower, kw) {
				matched = append(matched, src.Name)
				break
			}
		}
	}
	return matched
}
