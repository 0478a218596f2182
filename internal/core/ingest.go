package core

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"synister/pkg/domain"
)

// SynapseInput carries the arguments of one ingestion call. A nil SuperID
// means the neuron has no super; a nil NTGuess means no guess was given.
type SynapseInput struct {
	X, Y, Z    int64
	SynapseID  int64
	SkeletonID int64
	SourceID   string
	SuperID    *string
	NTKnown    []string
	NTGuess    []string
}

func (in SynapseInput) validate() error {
	if in.SynapseID < 0 {
		return domain.ValidationError{Field: "synapse_id", Reason: "must be non-negative"}
	}
	if in.SkeletonID < 0 {
		return domain.ValidationError{Field: "skeleton_id", Reason: "must be non-negative"}
	}
	if in.SuperID == nil && in.NTGuess != nil {
		return domain.ValidationError{Field: "nt_guess", Reason: "requires super_id"}
	}
	if in.SuperID != nil && *in.SuperID == "" {
		return domain.ValidationError{Field: "super_id", Reason: "must not be empty"}
	}
	return nil
}

// AddSynapse inserts the synapse, its neuron and its super, or verifies that
// already stored records agree with the input. All three checks run in one
// transaction: a ConflictError rolls back anything this call inserted, and
// identical repeated calls are no-ops.
func (s *Service) AddSynapse(ctx context.Context, in SynapseInput) error {
	return s.run(ctx, "add_synapse", func(ctx context.Context) error {
		if err := in.validate(); err != nil {
			return err
		}
		syn := domain.Synapse{
			SynapseID:  in.SynapseID,
			X:          in.X,
			Y:          in.Y,
			Z:          in.Z,
			SkeletonID: in.SkeletonID,
			SourceID:   domain.NormalizeSourceID(in.SourceID),
		}
		neuron := domain.Neuron{
			SkeletonID: in.SkeletonID,
			SuperID:    domain.NormalizeSuperID(in.SuperID),
			NTKnown:    domain.NewNTSet(in.NTKnown...),
		}
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			stored, created, err := tx.EnsureSynapse(syn)
			if err != nil {
				return err
			}
			if !created {
				if err := compareSynapse(stored, syn); err != nil {
					return err
				}
			}

			storedNeuron, created, err := tx.EnsureNeuron(neuron)
			if err != nil {
				return err
			}
			if !created {
				if err := compareNeuron(storedNeuron, neuron); err != nil {
					return err
				}
			}

			if neuron.SuperID == nil {
				return nil
			}
			super := domain.Super{SuperID: *neuron.SuperID, NTGuess: domain.NewNTSet(in.NTGuess...)}
			storedSuper, created, err := tx.EnsureSuper(super)
			if err != nil {
				return err
			}
			if !created && !storedSuper.NTGuess.Equal(super.NTGuess) {
				return domain.ConflictError{Entity: domain.EntitySuper, ID: super.SuperID, Field: "nt_guess",
					Existing: storedSuper.NTGuess, Incoming: super.NTGuess}
			}
			return nil
		})
		if err != nil {
			return err
		}
		s.logger.Debug("synapse ingested", zap.Int64("synapse_id", in.SynapseID), zap.Int64("skeleton_id", in.SkeletonID))
		return nil
	})
}

func compareSynapse(existing, incoming domain.Synapse) error {
	id := strconv.FormatInt(incoming.SynapseID, 10)
	fields := []struct {
		name     string
		old, new int64
	}{
		{"x", existing.X, incoming.X},
		{"y", existing.Y, incoming.Y},
		{"z", existing.Z, incoming.Z},
		{"skeleton_id", existing.SkeletonID, incoming.SkeletonID},
	}
	for _, f := range fields {
		if f.old != f.new {
			return domain.ConflictError{Entity: domain.EntitySynapse, ID: id, Field: f.name, Existing: f.old, Incoming: f.new}
		}
	}
	return nil
}

func compareNeuron(existing, incoming domain.Neuron) error {
	id := strconv.FormatInt(incoming.SkeletonID, 10)
	if !existing.NTKnown.Equal(incoming.NTKnown) {
		return domain.ConflictError{Entity: domain.EntityNeuron, ID: id, Field: "nt_known", Existing: existing.NTKnown, Incoming: incoming.NTKnown}
	}
	if !domain.SameSuperID(existing.SuperID, incoming.SuperID) {
		return domain.ConflictError{Entity: domain.EntityNeuron, ID: id, Field: "super_id", Existing: superIDValue(existing.SuperID), Incoming: superIDValue(incoming.SuperID)}
	}
	return nil
}

func superIDValue(id *string) any {
	if id == nil {
		return nil
	}
	return *id
}
