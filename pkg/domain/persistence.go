package domain

import "context"

// TransactionView provides read-only access to records for rules and readers.
type TransactionView interface {
	FindSynapse(synapseID int64) (Synapse, bool, error)
	FindNeuron(skeletonID int64) (Neuron, bool, error)
	FindSuper(superID string) (Super, bool, error)
}

// Transaction exposes the mutations a persistence implementation must support
// within an atomic scope. Ensure* operations are insert-if-absent: they return
// the stored record and whether this call created it, leaving an existing
// record untouched so the caller can compare fields.
type Transaction interface {
	TransactionView
	EnsureSynapse(Synapse) (stored Synapse, created bool, err error)
	EnsureNeuron(Neuron) (stored Neuron, created bool, err error)
	EnsureSuper(Super) (stored Super, created bool, err error)
	SetSplitLabel(splitName string, label SplitLabel, synapseIDs []int64) (int, error)
	UpsertPrediction(Prediction) error
}

// SynapseFilter narrows ListSynapses. Zero values match everything.
type SynapseFilter struct {
	SkeletonIDs []int64
	// SplitName restricts the result to synapses carrying any label for the split.
	SplitName string
	Position  *Location
}

// PersistentStore is the record store abstraction used by the consistency
// engine, split manager and prediction pipeline.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	ListSynapses(ctx context.Context, filter SynapseFilter) ([]Synapse, error)
	ListNeurons(ctx context.Context, skeletonIDs ...int64) ([]Neuron, error)
	ListSupers(ctx context.Context) ([]Super, error)
	ListPredictions(ctx context.Context, splitName string, run RunKey) ([]Prediction, error)
	// UpsertPrediction is a single-record atomic write keyed by PredictionKey.
	UpsertPrediction(ctx context.Context, p Prediction) error
	// Reset drops synapse, neuron and super records, and predictions too when asked.
	Reset(ctx context.Context, dropPredictions bool) error
	Close() error
}
