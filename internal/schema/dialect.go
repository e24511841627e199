package schema

import (
	"fmt"
	"strings"

	perrors "routeperf/internal/errors"
)

// Dialect renders DDL for one database engine and normalizes what that
// engine reports back on introspection.
type Dialect interface {
	Name() string
	Quote(ident string) string
	// ColumnType is the SQL type used for c.
	ColumnType(c Column) string
	ColumnDefinition(c Column) string
	CreateTable(t Table) []string
	DropTable(table string) string
	AddColumn(table string, c Column) string
	// AlterColumn brings an existing column in line with c. Engines that
	// cannot alter columns in place return an error.
	AlterColumn(table string, c Column) ([]string, error)
	DropColumn(table, column string) string
	CreateIndex(table string, idx Index) string
	// NormalizeDefault turns an introspected default into the literal form
	// used by Column.Default. Nil means no default.
	NormalizeDefault(raw string) *string
	// ComparesAutoIncrement reports whether an auto-increment mismatch
	// counts as a difference on this engine.
	ComparesAutoIncrement() bool
}

// DialectFor returns the dialect registered under name.
func DialectFor(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "mysql":
		return MySQL{}, nil
	case "postgres", "postgresql":
		return Postgres{}, nil
	case "sqlite", "sqlite3":
		return SQLite{}, nil
	}
	return nil, perrors.Newf(perrors.CategoryConfig, "unsupported database dialect %q", name)
}

// fallbackType is the portable mapping dialects start from.
func fallbackType(c Column) string {
	switch c.Type {
	case TypeBoolean:
		return "BOOLEAN"
	case TypeInteger:
		return "INTEGER"
	case TypeBigInt:
		return "BIGINT"
	case TypeFloat:
		return "FLOAT"
	case TypeString:
		return fmt.Sprintf("VARCHAR(%d)", stringLength(c))
	case TypeDateTime:
		return "DATETIME"
	case TypeJSON:
		return "JSON"
	}
	return "VARCHAR(255)"
}

func stringLength(c Column) int {
	if c.Length > 0 {
		return c.Length
	}
	return 255
}

func isZeroDate(s string) bool {
	return strings.HasPrefix(strings.Trim(s, "'\" "), "0000-00-00")
}

// effectiveDefault is the default that is actually rendered for c.
// Datetime and auto-increment columns never get one, and zero dates are
// dropped.
func effectiveDefault(c Column) *string {
	if c.Default == nil || c.AutoIncrement || c.Type == TypeDateTime {
		return nil
	}
	if isZeroDate(*c.Default) {
		return nil
	}
	return c.Default
}

// defaultLiteral renders the DEFAULT value of c, with the given boolean
// spellings. ok is false when no DEFAULT clause is emitted.
func defaultLiteral(c Column, boolTrue, boolFalse string) (lit string, ok bool) {
	def := effectiveDefault(c)
	if def == nil {
		return "", false
	}
	switch c.Type {
	case TypeBoolean:
		if truthy(*def) {
			return boolTrue, true
		}
		return boolFalse, true
	case TypeInteger, TypeBigInt, TypeFloat:
		return *def, true
	}
	return quoteString(*def), true
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func nullClause(c Column) string {
	if c.Nullable && !c.PrimaryKey {
		return " NULL"
	}
	return " NOT NULL"
}

func quoteList(d Dialect, names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = d.Quote(n)
	}
	return strings.Join(quoted, ", ")
}

func createIndexSQL(d Dialect, table string, idx Index) string {
	kind := "INDEX"
	if idx.Unique {
		kind = "UNIQUE INDEX"
	}
	return fmt.Sprintf("CREATE %s %s ON %s (%s)", kind, d.Quote(idx.Name), d.Quote(table), quoteList(d, idx.Columns))
}

func foreignKeySQL(d Dialect, fk ForeignKey) string {
	s := fmt.Sprintf("CONSTRAINT %s FOREIGN KEY (%s) REFERENCES %s (%s)",
		d.Quote(fk.Name), d.Quote(fk.Column), d.Quote(fk.RefTable), d.Quote(fk.RefColumn))
	if fk.OnDelete != "" {
		s += " ON DELETE " + fk.OnDelete
	}
	return s
}

// createTableSQL builds CREATE TABLE plus one CREATE INDEX per index.
func createTableSQL(d Dialect, t Table, suffix string) []string {
	parts := make([]string, 0, len(t.Columns)+len(t.ForeignKeys))
	for _, c := range t.Columns {
		parts = append(parts, d.ColumnDefinition(c))
	}
	for _, fk := range t.ForeignKeys {
		parts = append(parts, foreignKeySQL(d, fk))
	}
	stmts := []string{fmt.Sprintf("CREATE TABLE %s (%s)%s", d.Quote(t.Name), strings.Join(parts, ", "), suffix)}
	for _, idx := range t.Indexes {
		stmts = append(stmts, d.CreateIndex(t.Name, idx))
	}
	return stmts
}

// normalizeDefault handles the quirks shared by all engines: NULL,
// sequence defaults, ::casts, wrapping parentheses and quotes, and zero
// dates.
func normalizeDefault(raw string) *string {
	s := strings.TrimSpace(raw)
	for len(s) >= 2 && s[0] == '(' && s[len(s)-1] == ')' {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	if s == "" || strings.EqualFold(s, "null") || strings.HasPrefix(strings.ToLower(s), "nextval(") {
		return nil
	}
	if strings.HasPrefix(s, "'") {
		if end := strings.LastIndex(s, "'"); end > 0 {
			s = s[1:end]
			s = strings.ReplaceAll(s, "''", "'")
		}
	} else if i := strings.Index(s, "::"); i > 0 {
		s = s[:i]
	}
	if isZeroDate(s) {
		return nil
	}
	return &s
}
