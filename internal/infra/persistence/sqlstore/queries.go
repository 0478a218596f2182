package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"synister/pkg/domain"
)

// loadSplits returns split labels keyed by synapse id. where filters the
// synapse_splits table aliased as sp.
func loadSplits(ctx context.Context, q queryer, d Dialect, where string, args ...any) (map[int64]map[string]domain.SplitLabel, error) {
	rows, err := q.QueryContext(ctx, rebind(d, `SELECT sp.synapse_id, sp.split_name, sp.label FROM synapse_splits sp `+where), args...)
	if err != nil {
		return nil, fmt.Errorf("select splits: %w", err)
	}
	defer func() { _ = rows.Close() }()
	out := make(map[int64]map[string]domain.SplitLabel)
	for rows.Next() {
		var (
			id          int64
			name, label string
		)
		if err := rows.Scan(&id, &name, &label); err != nil {
			return nil, fmt.Errorf("scan split: %w", err)
		}
		if out[id] == nil {
			out[id] = make(map[string]domain.SplitLabel, 1)
		}
		out[id][name] = domain.SplitLabel(label)
	}
	return out, rows.Err()
}

func synapseWhere(filter domain.SynapseFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if len(filter.SkeletonIDs) > 0 {
		marks := make([]string, len(filter.SkeletonIDs))
		for i, id := range filter.SkeletonIDs {
			marks[i] = "?"
			args = append(args, id)
		}
		clauses = append(clauses, "s.skeleton_id IN ("+strings.Join(marks, ",")+")")
	}
	if filter.SplitName != "" {
		clauses = append(clauses, "EXISTS (SELECT 1 FROM synapse_splits f WHERE f.synapse_id = s.synapse_id AND f.split_name = ?)")
		args = append(args, filter.SplitName)
	}
	if filter.Position != nil {
		clauses = append(clauses, "s.z = ? AND s.y = ? AND s.x = ?")
		args = append(args, filter.Position.Z, filter.Position.Y, filter.Position.X)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// ListSynapses returns matching synapses ordered by synapse id.
func (s *Store) ListSynapses(ctx context.Context, filter domain.SynapseFilter) ([]domain.Synapse, error) {
	where, args := synapseWhere(filter)
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT s.synapse_id, s.x, s.y, s.z, s.skeleton_id, s.source_id FROM synapses s`+where+` ORDER BY s.synapse_id`), args...)
	if err != nil {
		return nil, fmt.Errorf("select synapses: %w", err)
	}
	var out []domain.Synapse
	for rows.Next() {
		var syn domain.Synapse
		if err := rows.Scan(&syn.SynapseID, &syn.X, &syn.Y, &syn.Z, &syn.SkeletonID, &syn.SourceID); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan synapse: %w", err)
		}
		out = append(out, syn)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()
	if len(out) == 0 {
		return out, nil
	}

	splits, err := loadSplits(ctx, s.db, s.dialect, `WHERE sp.synapse_id IN (SELECT s.synapse_id FROM synapses s`+where+`)`, args...)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Splits = splits[out[i].SynapseID]
	}
	return out, nil
}

// ListNeurons returns neurons ordered by skeleton id, optionally restricted to ids.
func (s *Store) ListNeurons(ctx context.Context, skeletonIDs ...int64) ([]domain.Neuron, error) {
	query := `SELECT skeleton_id, super_id, nt_known FROM neurons`
	args := make([]any, 0, len(skeletonIDs))
	if len(skeletonIDs) > 0 {
		marks := make([]string, len(skeletonIDs))
		for i, id := range skeletonIDs {
			marks[i] = "?"
			args = append(args, id)
		}
		query += ` WHERE skeleton_id IN (` + strings.Join(marks, ",") + `)`
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(query+` ORDER BY skeleton_id`), args...)
	if err != nil {
		return nil, fmt.Errorf("select neurons: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Neuron
	for rows.Next() {
		n, err := scanNeuron(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// ListSupers returns supers ordered by id.
func (s *Store) ListSupers(ctx context.Context) ([]domain.Super, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT super_id, nt_guess FROM supers ORDER BY super_id`)
	if err != nil {
		return nil, fmt.Errorf("select supers: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Super
	for rows.Next() {
		sup, err := scanSuper(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sup)
	}
	return out, rows.Err()
}

// ListPredictions returns predictions of one split and run ordered by (z, y, x).
func (s *Store) ListPredictions(ctx context.Context, splitName string, run domain.RunKey) ([]domain.Prediction, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT x, y, z, prediction FROM predictions
		WHERE split_name = ? AND experiment = ? AND train_number = ? AND predict_number = ?
		ORDER BY z, y, x`), splitName, run.Experiment, run.TrainNumber, run.PredictNumber)
	if err != nil {
		return nil, fmt.Errorf("select predictions: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []domain.Prediction
	for rows.Next() {
		p := domain.Prediction{PredictionKey: domain.PredictionKey{SplitName: splitName, RunKey: run}}
		var scores string
		if err := rows.Scan(&p.X, &p.Y, &p.Z, &scores); err != nil {
			return nil, fmt.Errorf("scan prediction: %w", err)
		}
		if err := json.Unmarshal([]byte(scores), &p.Scores); err != nil {
			return nil, fmt.Errorf("decode prediction (%d,%d,%d): %w", p.X, p.Y, p.Z, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// Reset clears entity tables and optionally predictions in one transaction.
func (s *Store) Reset(ctx context.Context, dropPredictions bool) error {
	tables := []string{"synapse_splits", "synapses", "neurons", "supers"}
	if dropPredictions {
		tables = append(tables, "predictions")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	for _, table := range tables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
