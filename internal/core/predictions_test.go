package core

import (
	"context"
	"errors"
	"testing"

	"synister/pkg/domain"
)

func TestPendingLocationsOrderedAndFiltered(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			svc := NewService(b.open(t))
			// positions deliberately out of id order
			mustAdd(t, svc, synapseInput(30, 1, 1, 1, 1))
			mustAdd(t, svc, synapseInput(10, 1, 9, 9, 9))
			mustAdd(t, svc, synapseInput(20, 1, 5, 5, 5))
			mustAdd(t, svc, synapseInput(40, 1, 7, 7, 7))
			if _, err := svc.MakeSplit(ctx, "s", []int64{40}, []int64{30, 10, 20}); err != nil {
				t.Fatalf("MakeSplit: %v", err)
			}
			scope := domain.RunScope{SplitName: "s", RunKey: domain.RunKey{Experiment: "e1", TrainNumber: 1, PredictNumber: 1}}
			if err := svc.WritePrediction(ctx, scope, domain.Location{X: 5, Y: 5, Z: 5}, []float64{1, 0}); err != nil {
				t.Fatalf("WritePrediction: %v", err)
			}
			other := scope
			other.PredictNumber = 2
			if err := svc.WritePrediction(ctx, other, domain.Location{X: 9, Y: 9, Z: 9}, []float64{1, 0}); err != nil {
				t.Fatalf("WritePrediction: %v", err)
			}

			pending, err := svc.PendingLocations(ctx, scope, SplitPartTest)
			if err != nil {
				t.Fatalf("PendingLocations: %v", err)
			}
			want := []domain.Location{{X: 9, Y: 9, Z: 9}, {X: 1, Y: 1, Z: 1}}
			if len(pending) != len(want) || pending[0] != want[0] || pending[1] != want[1] {
				t.Fatalf("pending = %+v, want %+v", pending, want)
			}
			validation, err := svc.PendingLocations(ctx, scope, SplitPartValidation)
			if err != nil || len(validation) != 0 {
				t.Fatalf("no synapse carries a validation label, got %+v (%v)", validation, err)
			}
		})
	}
}

func TestPendingLocationsRejectsUnknownPart(t *testing.T) {
	svc := newMemoryService()
	_, err := svc.PendingLocations(context.Background(), domain.RunScope{SplitName: "s"}, "train")
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

// MakeSplit never writes validation labels. A store that carries them (from
// another writer) can be predicted over, but split reads reject it.
func TestValidationLabelsOnlyServePrediction(t *testing.T) {
	ctx := context.Background()
	store := newMemoryService().Store()
	svc := NewService(store)
	mustAdd(t, svc, synapseInput(1, 1, 1, 1, 1))
	mustAdd(t, svc, synapseInput(2, 1, 2, 2, 2))
	if _, err := svc.MakeSplit(ctx, "s", []int64{1}, nil); err != nil {
		t.Fatalf("MakeSplit: %v", err)
	}
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.SetSplitLabel("s", domain.SplitLabel(SplitPartValidation), []int64{2})
		return err
	}); err != nil {
		t.Fatalf("label validation: %v", err)
	}

	scope := domain.RunScope{SplitName: "s", RunKey: domain.RunKey{Experiment: "e1", TrainNumber: 1, PredictNumber: 1}}
	pending, err := svc.PendingLocations(ctx, scope, SplitPartValidation)
	if err != nil || len(pending) != 1 || pending[0] != (domain.Location{X: 2, Y: 2, Z: 2}) {
		t.Fatalf("pending validation = %+v (%v)", pending, err)
	}
	if _, _, err := svc.ReadSplit(ctx, "s"); !errors.Is(err, domain.ErrCorruptSplit) {
		t.Fatalf("ReadSplit: expected corrupt split, got %v", err)
	}
	if _, err := svc.GroupingClasses(ctx, "s", nil); !errors.Is(err, domain.ErrCorruptSplit) {
		t.Fatalf("GroupingClasses: expected corrupt split, got %v", err)
	}
}
