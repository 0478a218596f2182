package core

import (
	"context"

	"github.com/RoaringBitmap/roaring/roaring64"

	"synister/pkg/domain"
)

// Split parts a prediction run may target.
const (
	SplitPartTest       = "test"
	SplitPartValidation = "validation"
)

// ValidateSplitPart rejects anything but test or validation.
func ValidateSplitPart(part string) error {
	if part != SplitPartTest && part != SplitPartValidation {
		return domain.ValidationError{Field: "split_part", Reason: "must be either 'test' or 'validation'"}
	}
	return nil
}

// PendingLocations returns, ordered by synapse id, the positions of synapses
// labelled splitPart in the scope's split that have no prediction for the
// scope's run key. Every worker computing this over the same store state
// obtains the same sequence.
func (s *Service) PendingLocations(ctx context.Context, scope domain.RunScope, splitPart string) ([]domain.Location, error) {
	var pending []domain.Location
	err := s.run(ctx, "pending_locations", func(ctx context.Context) error {
		if err := ValidateSplitPart(splitPart); err != nil {
			return err
		}
		members, err := s.store.ListSynapses(ctx, domain.SynapseFilter{SplitName: scope.SplitName})
		if err != nil {
			return err
		}
		done, err := s.store.ListPredictions(ctx, scope.SplitName, scope.RunKey)
		if err != nil {
			return err
		}
		predicted := make(map[domain.Location]struct{}, len(done))
		for _, p := range done {
			predicted[p.Location] = struct{}{}
		}

		ids := roaring64.New()
		byID := make(map[uint64]domain.Location)
		for _, syn := range members {
			if string(syn.Splits[scope.SplitName]) != splitPart {
				continue
			}
			if _, ok := predicted[syn.Location()]; ok {
				continue
			}
			ids.Add(uint64(syn.SynapseID))
			byID[uint64(syn.SynapseID)] = syn.Location()
		}
		pending = make([]domain.Location, 0, ids.GetCardinality())
		it := ids.Iterator()
		for it.HasNext() {
			pending = append(pending, byID[it.Next()])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pending, nil
}

// WritePrediction upserts the scores for loc under the scope.
func (s *Service) WritePrediction(ctx context.Context, scope domain.RunScope, loc domain.Location, scores []float64) error {
	return s.run(ctx, "write_prediction", func(ctx context.Context) error {
		return s.store.UpsertPrediction(ctx, domain.Prediction{PredictionKey: scope.Key(loc), Scores: scores})
	})
}

// ListPredictions returns the predictions of the scope ordered by (z, y, x).
func (s *Service) ListPredictions(ctx context.Context, scope domain.RunScope) ([]domain.Prediction, error) {
	return s.store.ListPredictions(ctx, scope.SplitName, scope.RunKey)
}
