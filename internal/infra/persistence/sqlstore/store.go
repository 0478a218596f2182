// Package sqlstore implements the record store on top of database/sql. The
// sqlite and postgres packages wrap it with their driver, DSN handling and
// schema bundle.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"synister/internal/schema/sqlbundle"
	"synister/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.PersistentStore = (*Store)(nil)

// Dialect selects placeholder syntax.
type Dialect int

const (
	// DialectSQLite uses '?' placeholders.
	DialectSQLite Dialect = iota
	// DialectPostgres uses '$n' placeholders.
	DialectPostgres
)

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store persists records in SQL tables, one row per record.
type Store struct {
	db      *sql.DB
	dialect Dialect
	engine  *domain.RulesEngine
}

// New wraps an open database handle.
func New(db *sql.DB, dialect Dialect, engine *domain.RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{db: db, dialect: dialect, engine: engine}
}

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// ApplySchema executes every statement of the DDL script.
func (s *Store) ApplySchema(ctx context.Context, ddl string) error {
	for _, stmt := range sqlbundle.SplitStatements(ddl) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	return nil
}

// rebind rewrites '?' placeholders for the configured dialect.
func (s *Store) rebind(query string) string {
	return rebind(s.dialect, query)
}

func rebind(d Dialect, query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// RunInTransaction applies fn inside one SQL transaction. The transaction is
// rolled back when fn fails, the store fails, or a blocking rule fires.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (res domain.Result, retErr error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Result{}, fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = sqlTx.Rollback()
		}
	}()

	tx := &transaction{ctx: ctx, q: sqlTx, dialect: s.dialect}
	if err := fn(tx); err != nil {
		return domain.Result{}, err
	}
	res, err = s.engine.Commit(ctx, tx, tx.changes)
	if err != nil {
		return res, err
	}
	if err := sqlTx.Commit(); err != nil {
		return res, fmt.Errorf("commit: %w", err)
	}
	committed = true
	return res, nil
}

// View runs fn against the live tables.
func (s *Store) View(ctx context.Context, fn func(domain.TransactionView) error) error {
	return fn(&transaction{ctx: ctx, q: s.db, dialect: s.dialect})
}

// transaction implements domain.Transaction over a queryer.
type transaction struct {
	ctx     context.Context
	q       queryer
	dialect Dialect
	changes []domain.Change
}

func (tx *transaction) rebind(query string) string { return rebind(tx.dialect, query) }

func (tx *transaction) recordChange(change domain.Change) {
	tx.changes = append(tx.changes, change)
}

func (tx *transaction) FindSynapse(id int64) (domain.Synapse, bool, error) {
	var syn domain.Synapse
	err := tx.q.QueryRowContext(tx.ctx,
		tx.rebind(`SELECT synapse_id, x, y, z, skeleton_id, source_id FROM synapses WHERE synapse_id = ?`), id).
		Scan(&syn.SynapseID, &syn.X, &syn.Y, &syn.Z, &syn.SkeletonID, &syn.SourceID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Synapse{}, false, nil
	}
	if err != nil {
		return domain.Synapse{}, false, fmt.Errorf("select synapse %d: %w", id, err)
	}
	splits, err := loadSplits(tx.ctx, tx.q, tx.dialect, `WHERE sp.synapse_id = ?`, id)
	if err != nil {
		return domain.Synapse{}, false, err
	}
	syn.Splits = splits[id]
	return syn, true, nil
}

func (tx *transaction) FindNeuron(id int64) (domain.Neuron, bool, error) {
	row := tx.q.QueryRowContext(tx.ctx, tx.rebind(`SELECT skeleton_id, super_id, nt_known FROM neurons WHERE skeleton_id = ?`), id)
	n, err := scanNeuron(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Neuron{}, false, nil
	}
	if err != nil {
		return domain.Neuron{}, false, fmt.Errorf("select neuron %d: %w", id, err)
	}
	return n, true, nil
}

func (tx *transaction) FindSuper(id string) (domain.Super, bool, error) {
	row := tx.q.QueryRowContext(tx.ctx, tx.rebind(`SELECT super_id, nt_guess FROM supers WHERE super_id = ?`), id)
	sup, err := scanSuper(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Super{}, false, nil
	}
	if err != nil {
		return domain.Super{}, false, fmt.Errorf("select super %s: %w", id, err)
	}
	return sup, true, nil
}

// EnsureSynapse inserts the synapse unless the id exists; the conditional
// insert is a single statement so concurrent ingesters cannot both create it.
func (tx *transaction) EnsureSynapse(syn domain.Synapse) (domain.Synapse, bool, error) {
	res, err := tx.q.ExecContext(tx.ctx, tx.rebind(`INSERT INTO synapses(synapse_id, x, y, z, skeleton_id, source_id)
		VALUES(?,?,?,?,?,?) ON CONFLICT(synapse_id) DO NOTHING`),
		syn.SynapseID, syn.X, syn.Y, syn.Z, syn.SkeletonID, syn.SourceID)
	if err != nil {
		return domain.Synapse{}, false, fmt.Errorf("insert synapse %d: %w", syn.SynapseID, err)
	}
	if created, err := affected(res); err != nil {
		return domain.Synapse{}, false, err
	} else if !created {
		existing, _, err := tx.FindSynapse(syn.SynapseID)
		return existing, false, err
	}
	for split, label := range syn.Splits {
		if _, err := tx.SetSplitLabel(split, label, []int64{syn.SynapseID}); err != nil {
			return domain.Synapse{}, false, err
		}
	}
	tx.recordChange(domain.Change{Entity: domain.EntitySynapse, Action: domain.ActionCreate, After: domain.CloneSynapse(syn)})
	return domain.CloneSynapse(syn), true, nil
}

// EnsureNeuron inserts the neuron unless the skeleton id exists.
func (tx *transaction) EnsureNeuron(n domain.Neuron) (domain.Neuron, bool, error) {
	nts, err := json.Marshal(domain.NewNTSet(n.NTKnown...))
	if err != nil {
		return domain.Neuron{}, false, err
	}
	var superID sql.NullString
	if n.SuperID != nil {
		superID = sql.NullString{String: *n.SuperID, Valid: true}
	}
	res, err := tx.q.ExecContext(tx.ctx, tx.rebind(`INSERT INTO neurons(skeleton_id, super_id, nt_known)
		VALUES(?,?,?) ON CONFLICT(skeleton_id) DO NOTHING`), n.SkeletonID, superID, string(nts))
	if err != nil {
		return domain.Neuron{}, false, fmt.Errorf("insert neuron %d: %w", n.SkeletonID, err)
	}
	if created, err := affected(res); err != nil {
		return domain.Neuron{}, false, err
	} else if !created {
		existing, _, err := tx.FindNeuron(n.SkeletonID)
		return existing, false, err
	}
	tx.recordChange(domain.Change{Entity: domain.EntityNeuron, Action: domain.ActionCreate, After: domain.CloneNeuron(n)})
	return domain.CloneNeuron(n), true, nil
}

// EnsureSuper inserts the super unless the id exists.
func (tx *transaction) EnsureSuper(sup domain.Super) (domain.Super, bool, error) {
	nts, err := json.Marshal(domain.NewNTSet(sup.NTGuess...))
	if err != nil {
		return domain.Super{}, false, err
	}
	res, err := tx.q.ExecContext(tx.ctx, tx.rebind(`INSERT INTO supers(super_id, nt_guess)
		VALUES(?,?) ON CONFLICT(super_id) DO NOTHING`), sup.SuperID, string(nts))
	if err != nil {
		return domain.Super{}, false, fmt.Errorf("insert super %s: %w", sup.SuperID, err)
	}
	if created, err := affected(res); err != nil {
		return domain.Super{}, false, err
	} else if !created {
		existing, _, err := tx.FindSuper(sup.SuperID)
		return existing, false, err
	}
	tx.recordChange(domain.Change{Entity: domain.EntitySuper, Action: domain.ActionCreate, After: domain.CloneSuper(sup)})
	return domain.CloneSuper(sup), true, nil
}

// SetSplitLabel upserts the label for every listed synapse that exists.
func (tx *transaction) SetSplitLabel(splitName string, label domain.SplitLabel, ids []int64) (int, error) {
	stmt := tx.rebind(`INSERT INTO synapse_splits(synapse_id, split_name, label)
		SELECT synapse_id, CAST(? AS TEXT), CAST(? AS TEXT) FROM synapses WHERE synapse_id = ?
		ON CONFLICT(synapse_id, split_name) DO UPDATE SET label = excluded.label`)
	updated := 0
	for _, id := range ids {
		res, err := tx.q.ExecContext(tx.ctx, stmt, splitName, string(label), id)
		if err != nil {
			return updated, fmt.Errorf("set split %s on synapse %d: %w", splitName, id, err)
		}
		ok, err := affected(res)
		if err != nil {
			return updated, err
		}
		if !ok {
			continue
		}
		updated++
		tx.recordChange(domain.Change{Entity: domain.EntitySynapse, Action: domain.ActionUpdate, After: domain.SplitAssignment{SynapseID: id, SplitName: splitName, Label: label}})
	}
	return updated, nil
}

// UpsertPrediction writes the prediction inside the transaction.
func (tx *transaction) UpsertPrediction(p domain.Prediction) error {
	if err := upsertPrediction(tx.ctx, tx.q, tx.dialect, p); err != nil {
		return err
	}
	tx.recordChange(domain.Change{Entity: domain.EntityPrediction, Action: domain.ActionCreate, After: domain.ClonePrediction(p)})
	return nil
}

// UpsertPrediction writes a single prediction with one atomic statement.
func (s *Store) UpsertPrediction(ctx context.Context, p domain.Prediction) error {
	return upsertPrediction(ctx, s.db, s.dialect, p)
}

func upsertPrediction(ctx context.Context, q queryer, d Dialect, p domain.Prediction) error {
	if len(p.Scores) == 0 {
		return fmt.Errorf("prediction at %+v has no scores", p.Location)
	}
	scores, err := json.Marshal(p.Scores)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, rebind(d, `INSERT INTO predictions(split_name, experiment, train_number, predict_number, x, y, z, prediction)
		VALUES(?,?,?,?,?,?,?,?)
		ON CONFLICT(split_name, experiment, train_number, predict_number, x, y, z) DO UPDATE SET prediction = excluded.prediction`),
		p.SplitName, p.Experiment, p.TrainNumber, p.PredictNumber, p.X, p.Y, p.Z, string(scores))
	if err != nil {
		return fmt.Errorf("upsert prediction (%d,%d,%d): %w", p.X, p.Y, p.Z, err)
	}
	return nil
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNeuron(row rowScanner) (domain.Neuron, error) {
	var (
		n       domain.Neuron
		superID sql.NullString
		nts     string
	)
	if err := row.Scan(&n.SkeletonID, &superID, &nts); err != nil {
		return domain.Neuron{}, err
	}
	if superID.Valid {
		id := superID.String
		n.SuperID = &id
	}
	if err := json.Unmarshal([]byte(nts), &n.NTKnown); err != nil {
		return domain.Neuron{}, fmt.Errorf("decode nt_known of neuron %d: %w", n.SkeletonID, err)
	}
	return n, nil
}

func scanSuper(row rowScanner) (domain.Super, error) {
	var (
		sup domain.Super
		nts string
	)
	if err := row.Scan(&sup.SuperID, &nts); err != nil {
		return domain.Super{}, err
	}
	if err := json.Unmarshal([]byte(nts), &sup.NTGuess); err != nil {
		return domain.Super{}, fmt.Errorf("decode nt_guess of super %s: %w", sup.SuperID, err)
	}
	return sup, nil
}
