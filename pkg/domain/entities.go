// Package domain defines the synapse, neuron and super records, the
// prediction run key and the rule evaluation primitives shared by the record
// store backends and the prediction pipeline.
package domain

import (
	"sort"
	"strings"
)

// EntityType identifies the type of record stored in the record store.
type EntityType string

// Supported entity type identifiers used in Change records and persistence tables.
const (
	// EntitySynapse identifies a point-located synapse record.
	EntitySynapse EntityType = "synapse"
	// EntityNeuron identifies a neuron (skeleton) record.
	EntityNeuron EntityType = "neuron"
	// EntitySuper identifies a neuron superset such as a hemilineage.
	EntitySuper EntityType = "super"
	// EntityPrediction identifies a per-location prediction record.
	EntityPrediction EntityType = "prediction"
)

// SplitLabel is the per-synapse assignment within a named split.
type SplitLabel string

// Labels accepted inside a synapse's splits map.
const (
	SplitTrain SplitLabel = "train"
	SplitTest  SplitLabel = "test"
)

// Valid reports whether the label is one of the two recognised values.
func (l SplitLabel) Valid() bool {
	return l == SplitTrain || l == SplitTest
}

// Location is a synapse position in voxel coordinates.
type Location struct {
	X int64 `json:"x"`
	Y int64 `json:"y"`
	Z int64 `json:"z"`
}

// ZYX returns the location in array (z, y, x) order used by the raw volume.
func (l Location) ZYX() [3]int64 {
	return [3]int64{l.Z, l.Y, l.X}
}

// Synapse is a point-located synaptic connection owned by one skeleton.
type Synapse struct {
	SynapseID  int64                 `json:"synapse_id"`
	X          int64                 `json:"x"`
	Y          int64                 `json:"y"`
	Z          int64                 `json:"z"`
	SkeletonID int64                 `json:"skeleton_id"`
	SourceID   string                `json:"source_id"`
	Splits     map[string]SplitLabel `json:"splits,omitempty"`
}

// Location returns the synapse position.
func (s Synapse) Location() Location {
	return Location{X: s.X, Y: s.Y, Z: s.Z}
}

// Neuron aggregates synapses sharing a skeleton id.
type Neuron struct {
	SkeletonID int64   `json:"skeleton_id"`
	SuperID    *string `json:"super_id"`
	NTKnown    NTSet   `json:"nt_known"`
}

// Super is a named superset of neurons carrying a prior neurotransmitter guess.
type Super struct {
	SuperID string `json:"super_id"`
	NTGuess NTSet  `json:"nt_guess"`
}

// RunKey identifies one prediction pass of one trained model.
type RunKey struct {
	Experiment    string `json:"experiment"`
	TrainNumber   int    `json:"train_number"`
	PredictNumber int    `json:"predict_number"`
}

// PredictionKey is the composite identity of a prediction record.
type PredictionKey struct {
	SplitName string `json:"split_name"`
	RunKey
	Location
}

// Prediction holds one score per output class for a location.
type Prediction struct {
	PredictionKey
	Scores []float64 `json:"prediction"`
}

// NTSet is a normalised, sorted, duplicate-free set of lowercase
// neurotransmitter labels.
type NTSet []string

// NewNTSet lowercases, trims and deduplicates the labels. A single label
// yields a one-element set.
func NewNTSet(labels ...string) NTSet {
	seen := make(map[string]struct{}, len(labels))
	out := make(NTSet, 0, len(labels))
	for _, label := range labels {
		nt := strings.ToLower(strings.TrimSpace(label))
		if nt == "" {
			continue
		}
		if _, dup := seen[nt]; dup {
			continue
		}
		seen[nt] = struct{}{}
		out = append(out, nt)
	}
	sort.Strings(out)
	return out
}

// Equal reports set equality, ignoring order and duplicates.
func (s NTSet) Equal(other NTSet) bool {
	a, b := NewNTSet(s...), NewNTSet(other...)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Contains reports whether label (case-insensitive) is a member.
func (s NTSet) Contains(label string) bool {
	want := strings.ToLower(strings.TrimSpace(label))
	for _, nt := range s {
		if nt == want {
			return true
		}
	}
	return false
}

// Key returns a stable string form usable as a map key.
func (s NTSet) Key() string {
	return strings.Join(NewNTSet(s...), ",")
}

// NormalizeSourceID upper-cases a provenance tag.
func NormalizeSourceID(sourceID string) string {
	return strings.ToUpper(sourceID)
}

// NormalizeSuperID upper-cases a super identifier; nil stays nil.
func NormalizeSuperID(superID *string) *string {
	if superID == nil {
		return nil
	}
	upper := strings.ToUpper(*superID)
	return &upper
}

// SameSuperID compares two optional super identifiers.
func SameSuperID(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// CloneSynapse deep copies the splits map.
func CloneSynapse(s Synapse) Synapse {
	cp := s
	if s.Splits != nil {
		cp.Splits = make(map[string]SplitLabel, len(s.Splits))
		for k, v := range s.Splits {
			cp.Splits[k] = v
		}
	}
	return cp
}

// CloneNeuron deep copies the optional super id and the label set.
func CloneNeuron(n Neuron) Neuron {
	cp := n
	if n.SuperID != nil {
		id := *n.SuperID
		cp.SuperID = &id
	}
	cp.NTKnown = append(NTSet(nil), n.NTKnown...)
	return cp
}

// CloneSuper deep copies the label set.
func CloneSuper(s Super) Super {
	cp := s
	cp.NTGuess = append(NTSet(nil), s.NTGuess...)
	return cp
}

// ClonePrediction deep copies the score vector.
func ClonePrediction(p Prediction) Prediction {
	cp := p
	cp.Scores = append([]float64(nil), p.Scores...)
	return cp
}

// SplitAssignment is recorded in Change entries when a split label is written.
type SplitAssignment struct {
	SynapseID int64
	SplitName string
	Label     SplitLabel
}

// RunScope binds a run key to the split it predicts.
type RunScope struct {
	SplitName string `json:"split_name"`
	RunKey
}

// Key returns the prediction key for loc within the scope.
func (r RunScope) Key(loc Location) PredictionKey {
	return PredictionKey{SplitName: r.SplitName, RunKey: r.RunKey, Location: loc}
}
