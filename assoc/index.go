// Package assoc implements the component association index: a derived
// relational cache of direct composition edges between components. The
// index is rebuildable garbage — it is reconstructed by re-adding every
// live component after a reload and is never persisted.
package assoc

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite"

	"github.com/gridkit/tsstore/logging"
	"github.com/gridkit/tsstore/timeseries"
)

const tableName = "component_associations"

// Index stores composition edges (owner -> attached component) for fast
// parent/child lookup.
type Index struct {
	log *slog.Logger
	db  *sql.DB
}

// New creates an empty index with its schema.
func New() (*Index, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open association database: %w", err)
	}
	// An in-memory SQLite database exists per connection; more than one
	// connection would silently split the table.
	db.SetMaxOpenConns(1)

	ix := &Index{log: logging.Component("assoc"), db: db}
	if err := ix.createSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return ix, nil
}

func (ix *Index) createSchema() error {
	schema := fmt.Sprintf(`
		CREATE TABLE %s (
			id INTEGER PRIMARY KEY,
			component_id INTEGER NOT NULL,
			component_type TEXT NOT NULL,
			attached_component_id INTEGER NOT NULL,
			attached_component_type TEXT NOT NULL
		);
		CREATE INDEX by_component ON %s (component_id, attached_component_id);
	`, tableName, tableName)

	if _, err := ix.db.Exec(schema); err != nil {
		return fmt.Errorf("create association schema: %w", err)
	}
	ix.log.Debug("created association table")
	return nil
}

// Add stores one edge per declared sub-component of each given component.
// Components that do not declare sub-component relations contribute no
// edges.
func (ix *Index) Add(ctx context.Context, components ...timeseries.Component) error {
	type edge struct {
		ownerID      int64
		ownerType    string
		attachedID   int64
		attachedType string
	}
	var edges []edge
	for _, c := range components {
		composite, ok := c.(timeseries.Composite)
		if !ok {
			continue
		}
		for _, sub := range composite.SubComponents() {
			if sub == nil {
				continue
			}
			edges = append(edges, edge{
				ownerID:      c.ComponentID(),
				ownerType:    c.ComponentType(),
				attachedID:   sub.ComponentID(),
				attachedType: sub.ComponentType(),
			})
		}
	}
	if len(edges) == 0 {
		return nil
	}

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	query := fmt.Sprintf(`INSERT INTO %s (
		component_id, component_type, attached_component_id, attached_component_type
	) VALUES (?, ?, ?, ?)`, tableName)

	for _, e := range edges {
		if _, err := tx.ExecContext(ctx, query, e.ownerID, e.ownerType, e.attachedID, e.attachedType); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert edge: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	ix.log.Debug("added association edges", "count", len(edges))
	return nil
}

// ListChildComponents returns the ids of all components this component
// composes, optionally filtered by attached component type.
func (ix *Index) ListChildComponents(ctx context.Context, c timeseries.Component, componentType string) ([]int64, error) {
	where := "component_id = ? AND component_type = ?"
	args := []interface{}{c.ComponentID(), c.ComponentType()}
	if componentType != "" {
		where += " AND attached_component_type = ?"
		args = append(args, componentType)
	}
	query := fmt.Sprintf("SELECT attached_component_id FROM %s WHERE %s", tableName, where)
	return ix.listIDs(ctx, query, args)
}

// ListParentComponents returns the ids of all components that compose this
// component, optionally filtered by owner component type.
func (ix *Index) ListParentComponents(ctx context.Context, c timeseries.Component, componentType string) ([]int64, error) {
	where := "attached_component_id = ? AND attached_component_type = ?"
	args := []interface{}{c.ComponentID(), c.ComponentType()}
	if componentType != "" {
		where += " AND component_type = ?"
		args = append(args, componentType)
	}
	query := fmt.Sprintf("SELECT component_id FROM %s WHERE %s", tableName, where)
	return ix.listIDs(ctx, query, args)
}

func (ix *Index) listIDs(ctx context.Context, query string, args []interface{}) ([]int64, error) {
	rows, err := ix.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query associations: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan component id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate associations: %w", err)
	}
	return ids, nil
}

// Remove deletes every edge where the component is either side.
func (ix *Index) Remove(ctx context.Context, c timeseries.Component) error {
	query := fmt.Sprintf(
		"DELETE FROM %s WHERE component_id = ? OR attached_component_id = ?", tableName)
	if _, err := ix.db.ExecContext(ctx, query, c.ComponentID(), c.ComponentID()); err != nil {
		return fmt.Errorf("delete edges: %w", err)
	}
	ix.log.Debug("removed associations", "component_id", c.ComponentID(), "component_type", c.ComponentType())
	return nil
}

// Clear empties the index.
func (ix *Index) Clear(ctx context.Context) error {
	if _, err := ix.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", tableName)); err != nil {
		return fmt.Errorf("clear associations: %w", err)
	}
	ix.log.Info("cleared all component associations")
	return nil
}

// Close closes the index database.
func (ix *Index) Close() error {
	return ix.db.Close()
}
