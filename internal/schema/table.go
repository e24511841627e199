// Package schema reconciles the live database schema of the routeperf
// tables with their expected definition, emitting DDL through a
// per-engine Dialect.
package schema

import "strings"

// Type is the portable column type. Dialects map it to SQL.
type Type string

const (
	TypeInteger  Type = "integer"
	TypeBigInt   Type = "bigint"
	TypeFloat    Type = "float"
	TypeString   Type = "string"
	TypeBoolean  Type = "boolean"
	TypeDateTime Type = "datetime"
	TypeJSON     Type = "json"
)

// Column is an expected column.
type Column struct {
	Name     string
	Type     Type
	Length   int // strings only; 0 means 255
	Nullable bool
	// Default is the literal default, or nil for none. Booleans use
	// "1"/"0", numbers their decimal form, strings the raw text.
	Default       *string
	AutoIncrement bool
	PrimaryKey    bool
}

// Index is an expected index.
type Index struct {
	Name    string
	Columns []string
	Unique  bool
}

// ForeignKey is only emitted when a table is created.
type ForeignKey struct {
	Name      string
	Column    string
	RefTable  string
	RefColumn string
	OnDelete  string
}

// Table is the full expected definition of one table.
type Table struct {
	Name        string
	Columns     []Column
	Indexes     []Index
	ForeignKeys []ForeignKey
}

// PrimaryKey returns the primary key column name, or "".
func (t Table) PrimaryKey() string {
	for _, c := range t.Columns {
		if c.PrimaryKey {
			return c.Name
		}
	}
	return ""
}

// ColumnNames lists the expected column names in order.
func (t Table) ColumnNames() []string {
	names := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		names = append(names, c.Name)
	}
	return names
}

func strPtr(s string) *string { return &s }

// RoutesTable is the definition of the per (route, env) aggregate table.
func RoutesTable(name string) Table {
	return Table{
		Name: name,
		Columns: []Column{
			{Name: "id", Type: TypeInteger, AutoIncrement: true, PrimaryKey: true},
			{Name: "env", Type: TypeString, Length: 50, Nullable: true},
			{Name: "name", Type: TypeString, Length: 255, Nullable: true},
			{Name: "http_method", Type: TypeString, Length: 10, Nullable: true},
			{Name: "request_time", Type: TypeFloat, Nullable: true},
			{Name: "total_queries", Type: TypeInteger, Nullable: true},
			{Name: "query_time", Type: TypeFloat, Nullable: true},
			{Name: "memory_usage", Type: TypeBigInt, Nullable: true},
			{Name: "params", Type: TypeJSON, Nullable: true},
			{Name: "access_count", Type: TypeInteger, Default: strPtr("1")},
			{Name: "status_codes", Type: TypeJSON, Nullable: true},
			{Name: "created_at", Type: TypeDateTime, Nullable: true},
			{Name: "updated_at", Type: TypeDateTime, Nullable: true},
			{Name: "last_accessed_at", Type: TypeDateTime, Nullable: true},
			{Name: "reviewed", Type: TypeBoolean, Default: strPtr("0")},
			{Name: "reviewed_at", Type: TypeDateTime, Nullable: true},
			{Name: "queries_improved", Type: TypeBoolean, Nullable: true},
			{Name: "time_improved", Type: TypeBoolean, Nullable: true},
			{Name: "reviewed_by", Type: TypeString, Length: 255, Nullable: true},
			{Name: "save_access_records", Type: TypeBoolean, Default: strPtr("1")},
		},
		Indexes: []Index{
			{Name: "idx_route_name", Columns: []string{"name"}},
			{Name: "idx_route_env", Columns: []string{"env"}},
			{Name: "idx_route_env_name", Columns: []string{"env", "name"}},
			{Name: "idx_route_created_at", Columns: []string{"created_at"}},
		},
	}
}

// RecordsTable is the definition of the access-record table owned by
// routesTable.
func RecordsTable(name, routesTable string) Table {
	return Table{
		Name: name,
		Columns: []Column{
			{Name: "id", Type: TypeInteger, AutoIncrement: true, PrimaryKey: true},
			{Name: "route_data_id", Type: TypeInteger},
			{Name: "accessed_at", Type: TypeDateTime},
			{Name: "status_code", Type: TypeInteger, Nullable: true},
			{Name: "response_time", Type: TypeFloat, Nullable: true},
			{Name: "total_queries", Type: TypeInteger, Nullable: true},
			{Name: "query_time", Type: TypeFloat, Nullable: true},
			{Name: "memory_usage", Type: TypeBigInt, Nullable: true},
			{Name: "request_id", Type: TypeString, Length: 64, Nullable: true},
			{Name: "referer", Type: TypeString, Length: 2048, Nullable: true},
			{Name: "user_identifier", Type: TypeString, Length: 255, Nullable: true},
			{Name: "user_id", Type: TypeString, Length: 64, Nullable: true},
			{Name: "route_path", Type: TypeString, Length: 2048, Nullable: true},
			{Name: "route_params", Type: TypeJSON, Nullable: true},
		},
		Indexes: []Index{
			{Name: "idx_record_route_data_id", Columns: []string{"route_data_id"}},
			{Name: "idx_record_accessed_at", Columns: []string{"accessed_at"}},
			{Name: "idx_record_status_code", Columns: []string{"status_code"}},
			{Name: "idx_record_route_accessed", Columns: []string{"route_data_id", "accessed_at"}},
			{Name: "uniq_record_request_id", Columns: []string{"request_id"}, Unique: true},
		},
		ForeignKeys: []ForeignKey{
			{
				Name:      "fk_" + strings.TrimSuffix(name, "_records") + "_record_route",
				Column:    "route_data_id",
				RefTable:  routesTable,
				RefColumn: "id",
				OnDelete:  "CASCADE",
			},
		},
	}
}
