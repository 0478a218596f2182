// Package memory provides an in-memory implementation of the record store
// used for tests and ephemeral environments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"synister/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain persistence interface.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Synapse aliases domain.Synapse for in-memory persistence operations.
	Synapse = domain.Synapse
	// Neuron aliases domain.Neuron.
	Neuron = domain.Neuron
	// Super aliases domain.Super.
	Super = domain.Super
	// Prediction aliases domain.Prediction.
	Prediction = domain.Prediction
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
)

type memoryState struct {
	synapses    map[int64]Synapse
	neurons     map[int64]Neuron
	supers      map[string]Super
	predictions map[domain.PredictionKey]Prediction
}

func newMemoryState() memoryState {
	return memoryState{
		synapses:    make(map[int64]Synapse),
		neurons:     make(map[int64]Neuron),
		supers:      make(map[string]Super),
		predictions: make(map[domain.PredictionKey]Prediction),
	}
}

// clone copies the entity maps. The prediction map is shared: transactions
// stage predictions separately and merge them on commit.
func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.synapses {
		cloned.synapses[k] = domain.CloneSynapse(v)
	}
	for k, v := range s.neurons {
		cloned.neurons[k] = domain.CloneNeuron(v)
	}
	for k, v := range s.supers {
		cloned.supers[k] = domain.CloneSuper(v)
	}
	cloned.predictions = s.predictions
	return cloned
}

// Store provides an in-memory transactional record store.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	return &Store{
		state:  newMemoryState(),
		engine: engine,
	}
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// transaction represents a mutation set applied to a cloned store state.
type transaction struct {
	state       memoryState
	predictions map[domain.PredictionKey]Prediction
	changes     []Change
}

// view exposes read-only lookups over a state.
type view struct {
	state *memoryState
}

func (v view) FindSynapse(id int64) (Synapse, bool, error) {
	s, ok := v.state.synapses[id]
	if !ok {
		return Synapse{}, false, nil
	}
	return domain.CloneSynapse(s), true, nil
}

func (v view) FindNeuron(id int64) (Neuron, bool, error) {
	n, ok := v.state.neurons[id]
	if !ok {
		return Neuron{}, false, nil
	}
	return domain.CloneNeuron(n), true, nil
}

func (v view) FindSuper(id string) (Super, bool, error) {
	s, ok := v.state.supers[id]
	if !ok {
		return Super{}, false, nil
	}
	return domain.CloneSuper(s), true, nil
}

// RunInTransaction executes fn within a transactional copy of the store state.
// Nothing is committed when fn fails or a blocking rule fires.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx domain.Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{state: s.state.clone(), predictions: make(map[domain.PredictionKey]Prediction)}
	if err := fn(tx); err != nil {
		return Result{}, err
	}

	res, err := s.engine.Commit(ctx, view{state: &tx.state}, tx.changes)
	if err != nil {
		return res, err
	}
	s.state = tx.state
	for key, p := range tx.predictions {
		s.state.predictions[key] = p
	}
	return res, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(domain.TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(view{state: &s.state})
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

func (tx *transaction) FindSynapse(id int64) (Synapse, bool, error) {
	return view{state: &tx.state}.FindSynapse(id)
}

func (tx *transaction) FindNeuron(id int64) (Neuron, bool, error) {
	return view{state: &tx.state}.FindNeuron(id)
}

func (tx *transaction) FindSuper(id string) (Super, bool, error) {
	return view{state: &tx.state}.FindSuper(id)
}

// EnsureSynapse inserts the synapse unless its id is already present.
func (tx *transaction) EnsureSynapse(syn Synapse) (Synapse, bool, error) {
	if current, ok := tx.state.synapses[syn.SynapseID]; ok {
		return domain.CloneSynapse(current), false, nil
	}
	tx.state.synapses[syn.SynapseID] = domain.CloneSynapse(syn)
	tx.recordChange(Change{Entity: domain.EntitySynapse, Action: domain.ActionCreate, After: domain.CloneSynapse(syn)})
	return domain.CloneSynapse(syn), true, nil
}

// EnsureNeuron inserts the neuron unless its skeleton id is already present.
func (tx *transaction) EnsureNeuron(n Neuron) (Neuron, bool, error) {
	if current, ok := tx.state.neurons[n.SkeletonID]; ok {
		return domain.CloneNeuron(current), false, nil
	}
	tx.state.neurons[n.SkeletonID] = domain.CloneNeuron(n)
	tx.recordChange(Change{Entity: domain.EntityNeuron, Action: domain.ActionCreate, After: domain.CloneNeuron(n)})
	return domain.CloneNeuron(n), true, nil
}

// EnsureSuper inserts the super unless its id is already present.
func (tx *transaction) EnsureSuper(sup Super) (Super, bool, error) {
	if current, ok := tx.state.supers[sup.SuperID]; ok {
		return domain.CloneSuper(current), false, nil
	}
	tx.state.supers[sup.SuperID] = domain.CloneSuper(sup)
	tx.recordChange(Change{Entity: domain.EntitySuper, Action: domain.ActionCreate, After: domain.CloneSuper(sup)})
	return domain.CloneSuper(sup), true, nil
}

// SetSplitLabel overwrites the split label on every listed synapse that exists.
func (tx *transaction) SetSplitLabel(splitName string, label domain.SplitLabel, ids []int64) (int, error) {
	updated := 0
	for _, id := range ids {
		current, ok := tx.state.synapses[id]
		if !ok {
			continue
		}
		if current.Splits == nil {
			current.Splits = make(map[string]domain.SplitLabel, 1)
		}
		current.Splits[splitName] = label
		tx.state.synapses[id] = current
		tx.recordChange(Change{Entity: domain.EntitySynapse, Action: domain.ActionUpdate, After: domain.SplitAssignment{SynapseID: id, SplitName: splitName, Label: label}})
		updated++
	}
	return updated, nil
}

// UpsertPrediction stores the prediction, replacing any record with the same key.
func (tx *transaction) UpsertPrediction(p Prediction) error {
	if len(p.Scores) == 0 {
		return fmt.Errorf("prediction at %+v has no scores", p.Location)
	}
	tx.predictions[p.PredictionKey] = domain.ClonePrediction(p)
	tx.recordChange(Change{Entity: domain.EntityPrediction, Action: domain.ActionCreate, After: domain.ClonePrediction(p)})
	return nil
}

// UpsertPrediction writes a single prediction atomically.
func (s *Store) UpsertPrediction(_ context.Context, p Prediction) error {
	if len(p.Scores) == 0 {
		return fmt.Errorf("prediction at %+v has no scores", p.Location)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.predictions[p.PredictionKey] = domain.ClonePrediction(p)
	return nil
}

// ListSynapses returns matching synapses ordered by synapse id.
func (s *Store) ListSynapses(_ context.Context, filter domain.SynapseFilter) ([]Synapse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var skeletons map[int64]struct{}
	if len(filter.SkeletonIDs) > 0 {
		skeletons = make(map[int64]struct{}, len(filter.SkeletonIDs))
		for _, id := range filter.SkeletonIDs {
			skeletons[id] = struct{}{}
		}
	}
	out := make([]Synapse, 0, len(s.state.synapses))
	for _, syn := range s.state.synapses {
		if skeletons != nil {
			if _, ok := skeletons[syn.SkeletonID]; !ok {
				continue
			}
		}
		if filter.SplitName != "" {
			if _, ok := syn.Splits[filter.SplitName]; !ok {
				continue
			}
		}
		if filter.Position != nil && syn.Location() != *filter.Position {
			continue
		}
		out = append(out, domain.CloneSynapse(syn))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SynapseID < out[j].SynapseID })
	return out, nil
}

// ListNeurons returns neurons ordered by skeleton id, optionally restricted to ids.
func (s *Store) ListNeurons(_ context.Context, skeletonIDs ...int64) ([]Neuron, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Neuron, 0, len(s.state.neurons))
	if len(skeletonIDs) > 0 {
		for _, id := range skeletonIDs {
			if n, ok := s.state.neurons[id]; ok {
				out = append(out, domain.CloneNeuron(n))
			}
		}
	} else {
		for _, n := range s.state.neurons {
			out = append(out, domain.CloneNeuron(n))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SkeletonID < out[j].SkeletonID })
	return out, nil
}

// ListSupers returns supers ordered by id.
func (s *Store) ListSupers(_ context.Context) ([]Super, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Super, 0, len(s.state.supers))
	for _, sup := range s.state.supers {
		out = append(out, domain.CloneSuper(sup))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SuperID < out[j].SuperID })
	return out, nil
}

// ListPredictions returns predictions of one split and run ordered by (z, y, x).
func (s *Store) ListPredictions(_ context.Context, splitName string, run domain.RunKey) ([]Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Prediction
	for key, p := range s.state.predictions {
		if key.SplitName != splitName || key.RunKey != run {
			continue
		}
		out = append(out, domain.ClonePrediction(p))
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].ZYX(), out[j].ZYX()
		for k := range a {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return false
	})
	return out, nil
}

// Reset clears entity records and optionally predictions.
func (s *Store) Reset(_ context.Context, dropPredictions bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	predictions := s.state.predictions
	s.state = newMemoryState()
	if !dropPredictions {
		s.state.predictions = predictions
	}
	return nil
}

// Close is a no-op for the memory store.
func (s *Store) Close() error { return nil }
