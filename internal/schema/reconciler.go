package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	perrors "routeperf/internal/errors"
)

// Executor runs DDL. *sql.DB satisfies it.
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Options controls CreateTable.
type Options struct {
	// Force drops and recreates an existing table.
	Force bool
	// Update adds missing columns and alters differing ones.
	Update bool
	// DropObsolete also drops columns the definition does not know.
	DropObsolete bool
}

// Plan is the ordered DDL for one table: drops, adds, alters, indexes.
type Plan struct {
	Table      string
	Diff       Diff
	Indexes    []Index
	Statements []string
}

// Empty reports whether the plan changes nothing.
func (p Plan) Empty() bool { return len(p.Statements) == 0 }

// Outcome reports what CreateTable did.
type Outcome struct {
	Table     string
	Created   bool
	Recreated bool
	Updated   bool
	// Skipped is set when the table exists and neither Force nor Update
	// was requested.
	Skipped bool
	Plan    Plan
}

// TableStatus is the diagnose view of one table.
type TableStatus struct {
	Table          string
	Exists         bool
	Complete       bool
	MissingColumns []string
}

// Reconciler owns the DDL for the routeperf tables.
type Reconciler struct {
	exec    Executor
	insp    Inspector
	dialect Dialect
}

func NewReconciler(exec Executor, insp Inspector, d Dialect) *Reconciler {
	return &Reconciler{exec: exec, insp: insp, dialect: d}
}

func (r *Reconciler) Dialect() Dialect { return r.dialect }

// CreateTable creates t, or handles an existing t according to opts.
func (r *Reconciler) CreateTable(ctx context.Context, t Table, opts Options) (Outcome, error) {
	out := Outcome{Table: t.Name}
	exists, err := r.insp.HasTable(t.Name)
	if err != nil {
		return out, err
	}

	switch {
	case !exists:
		stmts := r.dialect.CreateTable(t)
		out.Plan = Plan{Table: t.Name, Statements: stmts, Indexes: t.Indexes}
		if err := r.Apply(ctx, stmts); err != nil {
			return out, err
		}
		out.Created = true
	case opts.Force:
		stmts := append([]string{r.dialect.DropTable(t.Name)}, r.dialect.CreateTable(t)...)
		out.Plan = Plan{Table: t.Name, Statements: stmts, Indexes: t.Indexes}
		if err := r.Apply(ctx, stmts); err != nil {
			return out, err
		}
		out.Recreated = true
	case opts.Update:
		plan, err := r.PlanUpdate(t, opts.DropObsolete)
		if err != nil {
			return out, err
		}
		out.Plan = plan
		if err := r.Apply(ctx, plan.Statements); err != nil {
			return out, err
		}
		out.Updated = !plan.Empty()
	default:
		out.Skipped = true
	}
	return out, nil
}

// PlanUpdate computes the DDL that brings an existing table in line with t.
func (r *Reconciler) PlanUpdate(t Table, dropObsolete bool) (Plan, error) {
	live, err := r.insp.Columns(t.Name)
	if err != nil {
		return Plan{}, err
	}
	diff := ComputeDiff(r.dialect, t.Columns, live, dropObsolete)

	plan := Plan{Table: t.Name, Diff: diff}
	for _, name := range diff.ToDrop {
		plan.Statements = append(plan.Statements, r.dialect.DropColumn(t.Name, name))
	}
	for _, c := range diff.ToAdd {
		plan.Statements = append(plan.Statements, r.dialect.AddColumn(t.Name, c))
	}
	for _, c := range diff.ToAlter {
		stmts, err := r.dialect.AlterColumn(t.Name, c)
		if err != nil {
			return Plan{}, err
		}
		plan.Statements = append(plan.Statements, stmts...)
	}

	liveIndexes, err := r.insp.IndexNames(t.Name)
	if err != nil {
		return Plan{}, err
	}
	plan.Indexes = ComputeIndexDiff(t.Indexes, liveIndexes, columnsAfter(live, diff))
	for _, idx := range plan.Indexes {
		plan.Statements = append(plan.Statements, r.dialect.CreateIndex(t.Name, idx))
	}
	return plan, nil
}

// columnsAfter is the column set once diff has been applied.
func columnsAfter(live []LiveColumn, diff Diff) []string {
	dropped := make(map[string]bool, len(diff.ToDrop))
	for _, n := range diff.ToDrop {
		dropped[strings.ToLower(n)] = true
	}
	cols := make([]string, 0, len(live)+len(diff.ToAdd))
	for _, lc := range live {
		if !dropped[strings.ToLower(lc.Name)] {
			cols = append(cols, lc.Name)
		}
	}
	for _, c := range diff.ToAdd {
		cols = append(cols, c.Name)
	}
	return cols
}

// Apply executes stmts in order and stops at the first failure. Statements
// already executed are not rolled back.
func (r *Reconciler) Apply(ctx context.Context, stmts []string) error {
	for i, stmt := range stmts {
		logrus.WithFields(logrus.Fields{"dialect": r.dialect.Name(), "step": i + 1}).Debug(stmt)
		if _, err := r.exec.ExecContext(ctx, stmt); err != nil {
			pe := &perrors.PerfError{
				Category: perrors.CategoryPersistence,
				Message:  fmt.Sprintf("ddl failed at %q", stmt),
				Cause:    err,
			}
			return pe.WithContext("step", i+1)
		}
	}
	return nil
}

// Sync updates each existing table and creates missing ones.
func (r *Reconciler) Sync(ctx context.Context, tables []Table, dropObsolete bool) ([]Outcome, error) {
	outcomes := make([]Outcome, 0, len(tables))
	for _, t := range tables {
		out, err := r.CreateTable(ctx, t, Options{Update: true, DropObsolete: dropObsolete})
		outcomes = append(outcomes, out)
		if err != nil {
			return outcomes, err
		}
	}
	return outcomes, nil
}

// Status reports whether t exists and which expected columns are missing.
func (r *Reconciler) Status(t Table) (TableStatus, error) {
	st := TableStatus{Table: t.Name}
	exists, err := r.insp.HasTable(t.Name)
	if err != nil || !exists {
		return st, err
	}
	st.Exists = true
	live, err := r.insp.Columns(t.Name)
	if err != nil {
		return st, err
	}
	have := make(map[string]bool, len(live))
	for _, lc := range live {
		have[strings.ToLower(lc.Name)] = true
	}
	for _, c := range t.Columns {
		if !have[strings.ToLower(c.Name)] {
			st.MissingColumns = append(st.MissingColumns, c.Name)
		}
	}
	st.Complete = len(st.MissingColumns) == 0
	return st, nil
}
