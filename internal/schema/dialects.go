package schema

import (
	"fmt"
	"strings"

	perrors "routeperf/internal/errors"
)

// MySQL covers MySQL and MariaDB.
type MySQL struct{}

func (MySQL) Name() string { return "mysql" }

func (MySQL) Quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}

func (MySQL) ColumnType(c Column) string {
	switch c.Type {
	case TypeInteger:
		return "INT"
	case TypeFloat:
		return "DOUBLE"
	case TypeBoolean:
		return "TINYINT(1)"
	}
	return fallbackType(c)
}

func (d MySQL) definition(c Column, withKey bool) string {
	s := d.Quote(c.Name) + " " + d.ColumnType(c) + nullClause(c)
	if lit, ok := defaultLiteral(c, "1", "0"); ok {
		s += " DEFAULT " + lit
	}
	if c.AutoIncrement {
		s += " AUTO_INCREMENT"
	}
	if withKey && c.PrimaryKey {
		s += " PRIMARY KEY"
	}
	return s
}

func (d MySQL) ColumnDefinition(c Column) string { return d.definition(c, true) }

func (d MySQL) CreateTable(t Table) []string {
	return createTableSQL(d, t, " ENGINE=InnoDB DEFAULT CHARSET=utf8mb4")
}

func (d MySQL) DropTable(table string) string {
	return "DROP TABLE IF EXISTS " + d.Quote(table)
}

func (d MySQL) AddColumn(table string, c Column) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", d.Quote(table), d.definition(c, false))
}

func (d MySQL) AlterColumn(table string, c Column) ([]string, error) {
	return []string{fmt.Sprintf("ALTER TABLE %s MODIFY COLUMN %s", d.Quote(table), d.definition(c, false))}, nil
}

func (d MySQL) DropColumn(table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", d.Quote(table), d.Quote(column))
}

func (d MySQL) CreateIndex(table string, idx Index) string { return createIndexSQL(d, table, idx) }

func (MySQL) NormalizeDefault(raw string) *string { return normalizeDefault(raw) }

func (MySQL) ComparesAutoIncrement() bool { return true }

// Postgres covers PostgreSQL.
type Postgres struct{}

func (Postgres) Name() string { return "postgres" }

func (Postgres) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (Postgres) ColumnType(c Column) string {
	switch c.Type {
	case TypeInteger:
		if c.AutoIncrement {
			return "SERIAL"
		}
	case TypeFloat:
		return "DOUBLE PRECISION"
	case TypeDateTime:
		return "TIMESTAMP"
	}
	return fallbackType(c)
}

func (d Postgres) ColumnDefinition(c Column) string {
	s := d.Quote(c.Name) + " " + d.ColumnType(c) + nullClause(c)
	if lit, ok := defaultLiteral(c, "TRUE", "FALSE"); ok {
		s += " DEFAULT " + lit
	}
	if c.PrimaryKey {
		s += " PRIMARY KEY"
	}
	return s
}

func (d Postgres) CreateTable(t Table) []string { return createTableSQL(d, t, "") }

func (d Postgres) DropTable(table string) string {
	return "DROP TABLE IF EXISTS " + d.Quote(table) + " CASCADE"
}

func (d Postgres) AddColumn(table string, c Column) string {
	c.PrimaryKey = false
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", d.Quote(table), d.ColumnDefinition(c))
}

// AlterColumn emits one statement per attribute, since postgres has no
// single "redefine column" form.
func (d Postgres) AlterColumn(table string, c Column) ([]string, error) {
	t, col := d.Quote(table), d.Quote(c.Name)
	typ := d.ColumnType(c)
	if typ == "SERIAL" {
		typ = "INTEGER"
	}
	stmts := []string{fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s", t, col, typ, col, typ)}
	if c.Nullable && !c.PrimaryKey {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP NOT NULL", t, col))
	} else {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET NOT NULL", t, col))
	}
	if !c.AutoIncrement {
		if lit, ok := defaultLiteral(c, "TRUE", "FALSE"); ok {
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET DEFAULT %s", t, col, lit))
		} else {
			stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP DEFAULT", t, col))
		}
	}
	return stmts, nil
}

func (d Postgres) DropColumn(table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", d.Quote(table), d.Quote(column))
}

func (d Postgres) CreateIndex(table string, idx Index) string { return createIndexSQL(d, table, idx) }

func (Postgres) NormalizeDefault(raw string) *string { return normalizeDefault(raw) }

func (Postgres) ComparesAutoIncrement() bool { return false }

// SQLite covers SQLite 3.35 and later (DROP COLUMN support).
type SQLite struct{}

func (SQLite) Name() string { return "sqlite" }

func (SQLite) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func (SQLite) ColumnType(c Column) string { return fallbackType(c) }

// ColumnDefinition keeps DEFAULT as the last clause; gorm's sqlite
// migrator reads everything after DEFAULT as the default value.
func (d SQLite) ColumnDefinition(c Column) string {
	s := d.Quote(c.Name) + " " + d.ColumnType(c) + nullClause(c)
	if c.PrimaryKey {
		s += " PRIMARY KEY"
		if c.AutoIncrement {
			s += " AUTOINCREMENT"
		}
	}
	if lit, ok := defaultLiteral(c, "1", "0"); ok {
		s += " DEFAULT " + lit
	}
	return s
}

func (d SQLite) CreateTable(t Table) []string { return createTableSQL(d, t, "") }

func (d SQLite) DropTable(table string) string {
	return "DROP TABLE IF EXISTS " + d.Quote(table)
}

func (d SQLite) AddColumn(table string, c Column) string {
	c.PrimaryKey = false
	c.AutoIncrement = false
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", d.Quote(table), d.ColumnDefinition(c))
}

func (SQLite) AlterColumn(table string, c Column) ([]string, error) {
	return nil, perrors.Newf(perrors.CategoryValidation,
		"sqlite cannot alter column %s.%s in place; recreate the table with --force", table, c.Name)
}

func (d SQLite) DropColumn(table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", d.Quote(table), d.Quote(column))
}

func (d SQLite) CreateIndex(table string, idx Index) string { return createIndexSQL(d, table, idx) }

func (SQLite) NormalizeDefault(raw string) *string { return normalizeDefault(raw) }

func (SQLite) ComparesAutoIncrement() bool { return false }
