package domain

import (
	"errors"
	"fmt"
)

// Sentinels reachable through errors.Is from the typed errors below.
var (
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("record conflict")
	ErrCorruptSplit = errors.New("split corrupted")
	ErrLookup       = errors.New("lookup failed")
)

// ValidationError reports malformed input values.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is matches ErrValidation.
func (e ValidationError) Is(target error) bool { return target == ErrValidation }

// ConflictError reports an existing record whose field disagrees with the
// incoming value.
type ConflictError struct {
	Entity   EntityType
	ID       string
	Field    string
	Existing any
	Incoming any
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("%s %s already stored with %s=%v, refusing %v", e.Entity, e.ID, e.Field, e.Existing, e.Incoming)
}

// Is matches ErrConflict.
func (e ConflictError) Is(target error) bool { return target == ErrConflict }

// CorruptSplitError reports a split label that is neither train nor test.
type CorruptSplitError struct {
	Split     string
	SynapseID int64
	Label     SplitLabel
}

func (e CorruptSplitError) Error() string {
	return fmt.Sprintf("split %s corrupted: synapse %d has label %q", e.Split, e.SynapseID, e.Label)
}

// Is matches ErrCorruptSplit.
func (e CorruptSplitError) Is(target error) bool { return target == ErrCorruptSplit }

// LookupError reports that nothing matched a requested filter.
type LookupError struct {
	What string
	Key  string
}

func (e LookupError) Error() string {
	return fmt.Sprintf("no %s matching %s", e.What, e.Key)
}

// Is matches ErrLookup.
func (e LookupError) Is(target error) bool { return target == ErrLookup }
