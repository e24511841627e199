package schema

import (
	"gorm.io/gorm"

	perrors "routeperf/internal/errors"
)

// Inspector reads the live schema.
type Inspector interface {
	HasTable(table string) (bool, error)
	Columns(table string) ([]LiveColumn, error)
	IndexNames(table string) ([]string, error)
}

// GormInspector introspects through gorm's migrator, normalizing defaults
// with the dialect.
type GormInspector struct {
	db      *gorm.DB
	dialect Dialect
}

func NewGormInspector(db *gorm.DB, d Dialect) *GormInspector {
	return &GormInspector{db: db, dialect: d}
}

func (g *GormInspector) HasTable(table string) (bool, error) {
	return g.db.Migrator().HasTable(table), nil
}

func (g *GormInspector) Columns(table string) ([]LiveColumn, error) {
	types, err := g.db.Migrator().ColumnTypes(table)
	if err != nil {
		return nil, perrors.Wrap(err, perrors.CategoryPersistence, "introspect columns of "+table)
	}
	out := make([]LiveColumn, 0, len(types))
	for _, ct := range types {
		lc := LiveColumn{Name: ct.Name(), Nullable: true}
		if t, ok := ct.ColumnType(); ok && t != "" {
			lc.Type = t
		} else {
			lc.Type = ct.DatabaseTypeName()
		}
		if n, ok := ct.Nullable(); ok {
			lc.Nullable = n
		}
		if pk, ok := ct.PrimaryKey(); ok {
			lc.PrimaryKey = pk
		}
		if ai, ok := ct.AutoIncrement(); ok {
			lc.AutoIncrement = ai
		}
		if def, ok := ct.DefaultValue(); ok {
			lc.Default = g.dialect.NormalizeDefault(def)
		}
		out = append(out, lc)
	}
	return out, nil
}

func (g *GormInspector) IndexNames(table string) ([]string, error) {
	indexes, err := g.db.Migrator().GetIndexes(table)
	if err != nil {
		return nil, perrors.Wrap(err, perrors.CategoryPersistence, "introspect indexes of "+table)
	}
	names := make([]string, 0, len(indexes))
	for _, idx := range indexes {
		names = append(names, idx.Name())
	}
	return names, nil
}
