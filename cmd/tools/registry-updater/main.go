// cmd/tools/registry-updater/main.go
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vendora/pkg/registry"
)

var registryPath string

func main() {
	addCmd := flag.NewFlagSet("add", flag.ExitOnError)
	updateCmd := flag.NewFlagSet("update", flag.ExitOnError)
	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)
	listCmd := flag.NewFlagSet("list", flag.ExitOnError)

	// Add command flags
	nameAdd := addCmd.String("name", "", "Source name (e.g., warranty_claims)")
	displayName := addCmd.String("displayName", "", "Display Name (e.g., Warranty Claims)")
	description := addCmd.String("description", "", "Description")
	table := addCmd.String("table", "", "Backing table name")
	columns := addCmd.String("columns", "", "Comma-separated queryable columns")
	timeColumn := addCmd.String("timeColumn", "", "Column used for time-range scoping")
	keywords := addCmd.String("keywords", "", "Comma-separated routing keywords")
	addCmd.StringVar(&registryPath, "path", "configs/data_sources.json", "Path to registry file")

	// Update command flags
	nameUpdate := updateCmd.String("name", "", "Source name to update")
	field := updateCmd.String("field", "", "Field to update (displayName, description, table, columns, timeColumn, keywords)")
	value := updateCmd.String("value", "", "New value for the field")
	updateCmd.StringVar(&registryPath, "path", "configs/data_sources.json", "Path to registry file")

	validateCmd.StringVar(&registryPath, "path", "configs/data_sources.json", "Path to registry file")
	listCmd.StringVar(&registryPath, "path", "configs/data_sources.json", "Path to registry file")

	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "add":
		addCmd.Parse(os.Args[2:])
		if *nameAdd == "" || *displayName == "" || *table == "" || *columns == "" {
			fmt.Println("Error: name, displayName, table, and columns are required for add.")
			addCmd.Usage()
			os.Exit(1)
		}
		source := registry.DataSource{
			Name:        *nameAdd,
			DisplayName: *displayName,
			Description: *description,
			Table:       *table,
			Columns:     splitList(*columns),
			TimeColumn:  *timeColumn,
			Keywords:    splitList(*keywords),
		}
		if err := addSource(&source); err != nil {
			fmt.Printf("Error adding source: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Added source: %s\n", *nameAdd)

	case "update":
		updateCmd.Parse(os.Args[2:])
		if *nameUpdate == "" || *field == "" || *value == "" {
			fmt.Println("Error: name, field, and value are required for update.")
			updateCmd.Usage()
			os.Exit(1)
		}
		if err := updateSource(*nameUpdate, *field, *value); err != nil {
			fmt.Printf("Error updating source: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Updated source %s, field %s to %s\n", *nameUpdate, *field, *value)

	case "validate":
		validateCmd.Parse(os.Args[2:])
		if err := validateSources(); err != nil {
			fmt.Printf("Registry validation failed: %v\n", err)
			os.Exit(1)
		}

	case "list":
		listCmd.Parse(os.Args[2:])
		if err := listSources(); err != nil {
			fmt.Printf("Error listing sources: %v\n", err)
			os.Exit(1)
		}

	case "help":
		fallthrough
	default:
		help()
	}
}

func addSource(source *registry.DataSource) error {
	reg, err := registry.LoadRegistry(registryPath)
	if err != nil {
		// If file doesn't exist, start from an empty registry
		if os.IsNotExist(err) {
			reg = &registry.SourceRegistry{
				Version:     "1.0",
				LastUpdated: time.Now().Format(time.RFC3339),
				Sources:     []registry.DataSource{},
			}
		} else {
			return fmt.Errorf("failed to load registry: %w", err)
		}
	}

	for _, existing := range reg.Sources {
		if existing.Name == source.Name {
			return fmt.Errorf("source with name %s already exists", source.Name)
		}
		if existing.Table == source.Table {
			return fmt.Errorf("table %s already registered under source %s", source.Table, existing.Name)
		}
	}

	reg.Sources = append(reg.Sources, *source)
	reg.LastUpdated = time.Now().Format(time.RFC3339)

	return saveRegistry(reg, registryPath)
}

func updateSource(name, field, value string) error {
	reg, err := registry.LoadRegistry(registryPath)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}

	found := false
	for i := range reg.Sources {
		if reg.Sources[i].Name == name {
			found = true
			switch field {
			case "displayName":
				reg.Sources[i].DisplayName = value
			case "description":
				reg.Sources[i].Description = value
			case "table":
				reg.Sources[i].Table = value
			case "timeColumn":
				reg.Sources[i].TimeColumn = value
			case "columns":
				reg.Sources[i].Columns = splitList(value)
			case "keywords":
				reg.Sources[i].Keywords = splitList(value)
			default:
				return fmt.Errorf("unknown field: %s", field)
			}
			break
		}
	}

	if !found {
		return fmt.Errorf("source with name %s not found", name)
	}

	reg.LastUpdated = time.Now().Format(time.RFC3339)
	if err := reg.Validate(); err != nil {
		return fmt.Errorf("update produced an invalid registry: %w", err)
	}
	return saveRegistry(reg, registryPath)
}

func validateSources() error {
	// LoadRegistry already runs Validate; this re-checks what query
	// building depends on and reports the count.
	reg, err := registry.LoadRegistry(registryPath)
	if err != nil {
		return err
	}

	for _, src := range reg.Sources {
		if len(src.Columns) == 0 {
			return fmt.Errorf("source %s has no queryable columns", src.Name)
		}
		if src.TimeColumn != "" && !contains(src.Columns, src.TimeColumn) {
			return fmt.Errorf("source %s: time column %s is not in its column list", src.Name, src.TimeColumn)
		}
	}

	fmt.Printf("Registry validation passed. Found %d sources.\n", len(reg.Sources))
	return nil
}

func listSources() error {
	reg, err := registry.LoadRegistry(registryPath)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}

	fmt.Printf("%-16s %-24s %-16s COLUMNS\n", "NAME", "DISPLAY NAME", "TABLE")
	for _, src := range reg.Sources {
		fmt.Printf("%-16s %-24s %-16s %s\n", src.Name, src.DisplayName, src.Table, strings.Join(src.Columns, ","))
	}
	return nil
}

// saveRegistry handles saving the registry to file
func saveRegistry(reg *registry.SourceRegistry, path string) error {
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write registry file: %w", err)
	}

	return nil
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return []string{}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func help() {
	fmt.Print(`
Usage: registry-updater <command> [flags]

Commands:
  add      Add a new data source to the registry
  update   Update an existing source's field
  validate Validate the registry file
  list     List registered sources
  help     Show this help message

Examples:
  registry-updater add -name warranty_claims -displayName "Warranty Claims" -table warranty_claims -columns claim_date,claim_amount,vehicle_make -timeColumn claim_date -keywords warranty,claim
  registry-updater update -name warranty_claims -field keywords -value warranty,claim,recall
  registry-updater validate -path configs/data_sources.json

Use 'registry-updater <command> -h' for more information about a command.
`)
}
