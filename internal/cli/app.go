// Package cli holds the routeperf commands.
package cli

import (
	"io"

	"gorm.io/gorm"

	"routeperf/internal/config"
	"routeperf/internal/db"
	"routeperf/internal/schema"
)

// App is what every command shares. The database is opened on first use so
// commands that never touch it (check-dependencies) work without one.
type App struct {
	Config *config.Config
	Out    io.Writer

	gdb *gorm.DB
}

func NewApp(cfg *config.Config, out io.Writer) *App {
	return &App{Config: cfg, Out: out}
}

// DB connects once and returns the shared handle.
func (a *App) DB() (*gorm.DB, error) {
	if a.gdb != nil {
		return a.gdb, nil
	}
	gdb, err := db.Connect(a.Config)
	if err != nil {
		return nil, err
	}
	a.gdb = gdb
	return gdb, nil
}

// Reconciler returns a schema reconciler for the configured database.
func (a *App) Reconciler() (*schema.Reconciler, error) {
	gdb, err := a.DB()
	if err != nil {
		return nil, err
	}
	d, err := schema.DialectFor(a.Config.Driver())
	if err != nil {
		return nil, err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	return schema.NewReconciler(sqlDB, schema.NewGormInspector(gdb, d), d), nil
}

func (a *App) RoutesTable() schema.Table {
	return schema.RoutesTable(a.Config.TableName)
}

func (a *App) RecordsTable() schema.Table {
	return schema.RecordsTable(a.Config.RecordsTableName(), a.Config.TableName)
}

// Stores returns the aggregate store and the access-record store. The
// record store is nil when access records are disabled.
func (a *App) Stores() (*db.RouteStore, *db.RecordStore, error) {
	gdb, err := a.DB()
	if err != nil {
		return nil, nil, err
	}
	routes := db.NewRouteStore(gdb, a.Config.TableName, a.Config.RecordsTableName())
	var records *db.RecordStore
	if a.Config.EnableAccessRecords {
		records = db.NewRecordStore(gdb, a.Config.RecordsTableName(), a.Config.TableName)
	}
	return routes, records, nil
}

// Close releases the database connection, if one was opened.
func (a *App) Close() {
	if a.gdb == nil {
		return
	}
	if sqlDB, err := a.gdb.DB(); err == nil {
		sqlDB.Close()
	}
	a.gdb = nil
}
