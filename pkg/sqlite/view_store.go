package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/plaenen/taskstream/pkg/domain"
	"github.com/plaenen/taskstream/pkg/eventsourcing"
)

// ViewStore implements eventsourcing.ViewRepository[V] on SQLite. Rows
// for different view types share one table, discriminated by viewName.
// Writes are conditional on the row's version token: a stale token
// returns domain.ErrViewConflict instead of clobbering a concurrent
// writer's row.
type ViewStore[V any] struct {
	db       *sql.DB
	viewName string
}

// NewViewStore creates a view repository for one view type.
func NewViewStore[V any](db *sql.DB, viewName string) *ViewStore[V] {
	return &ViewStore[V]{db: db, viewName: viewName}
}

// LoadWithContext loads the view row and its write-context token.
func (s *ViewStore[V]) LoadWithContext(ctx context.Context, id string) (*V, eventsourcing.ViewContext, bool, error) {
	var (
		version int64
		payload string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT version, payload FROM views WHERE view_name = ? AND view_id = ?`,
		s.viewName, id,
	).Scan(&version, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eventsourcing.ViewContext{}, false, nil
	}
	if err != nil {
		return nil, eventsourcing.ViewContext{}, false, fmt.Errorf("query view: %w", err)
	}

	view := new(V)
	if err := json.Unmarshal([]byte(payload), view); err != nil {
		return nil, eventsourcing.ViewContext{}, false, fmt.Errorf("unmarshal view %s/%s: %w", s.viewName, id, err)
	}
	return view, eventsourcing.ViewContext{ViewID: id, Version: version}, true, nil
}

// UpdateView persists the row in one conditional write.
func (s *ViewStore[V]) UpdateView(ctx context.Context, view *V, vc eventsourcing.ViewContext) error {
	payload, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("marshal view: %w", err)
	}

	var res sql.Result
	if vc.Version == 0 {
		// Fresh row: insert, losing to any concurrent inserter.
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO views (view_name, view_id, version, payload)
			VALUES (?, ?, 1, ?)
			ON CONFLICT (view_name, view_id) DO NOTHING`,
			s.viewName, vc.ViewID, string(payload),
		)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE views SET version = version + 1, payload = ?
			WHERE view_name = ? AND view_id = ? AND version = ?`,
			string(payload), s.viewName, vc.ViewID, vc.Version,
		)
	}
	if err != nil {
		return fmt.Errorf("write view: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("write view: %w", err)
	}
	if affected == 0 {
		return domain.ErrViewConflict
	}
	return nil
}
