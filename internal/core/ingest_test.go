package core

import (
	"context"
	"errors"
	"testing"

	"synister/pkg/domain"
)

func TestAddSynapseIsIdempotent(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			svc := NewService(b.open(t))
			in := synapseInput(1, 100, 10, 20, 30)
			in.SuperID = strPtr("hl_a")
			in.NTGuess = []string{"gaba"}
			mustAdd(t, svc, in)
			mustAdd(t, svc, in)
			if s, n, sup := counts(t, svc); s != 1 || n != 1 || sup != 1 {
				t.Fatalf("expected one of each record, got %d/%d/%d", s, n, sup)
			}
		})
	}
}

func TestAddSynapseConflictLeavesStoreUnchanged(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			svc := NewService(b.open(t))
			mustAdd(t, svc, synapseInput(1, 100, 10, 20, 30))

			moved := synapseInput(1, 100, 11, 20, 30)
			err := svc.AddSynapse(ctx, moved)
			var conflict domain.ConflictError
			if !errors.As(err, &conflict) || conflict.Field != "x" || conflict.Entity != domain.EntitySynapse {
				t.Fatalf("expected x conflict, got %v", err)
			}
			if !errors.Is(err, domain.ErrConflict) {
				t.Fatalf("expected ErrConflict sentinel")
			}

			// the neuron step fails after the synapse insert succeeded
			other := synapseInput(2, 100, 1, 1, 1)
			other.NTKnown = []string{"acetylcholine"}
			err = svc.AddSynapse(ctx, other)
			if !errors.As(err, &conflict) || conflict.Field != "nt_known" {
				t.Fatalf("expected nt_known conflict, got %v", err)
			}
			syns, _ := svc.ListSynapses(ctx, domain.SynapseFilter{})
			if len(syns) != 1 || syns[0].X != 10 {
				t.Fatalf("store changed after conflict: %+v", syns)
			}
		})
	}
}

func TestAddSynapseSuperConflicts(t *testing.T) {
	ctx := context.Background()
	svc := newMemoryService()
	in := synapseInput(1, 100, 0, 0, 0)
	in.SuperID = strPtr("a")
	in.NTGuess = []string{"gaba"}
	mustAdd(t, svc, in)

	differentSuper := synapseInput(2, 100, 0, 0, 1)
	differentSuper.SuperID = strPtr("b")
	var conflict domain.ConflictError
	if err := svc.AddSynapse(ctx, differentSuper); !errors.As(err, &conflict) || conflict.Field != "super_id" || conflict.Existing != "A" {
		t.Fatalf("expected super_id conflict, got %v", err)
	}

	differentGuess := synapseInput(3, 200, 0, 0, 2)
	differentGuess.SuperID = strPtr("A")
	differentGuess.NTGuess = []string{"glutamate"}
	if err := svc.AddSynapse(ctx, differentGuess); !errors.As(err, &conflict) || conflict.Entity != domain.EntitySuper {
		t.Fatalf("expected super nt_guess conflict, got %v", err)
	}
	if s, n, sup := counts(t, svc); s != 1 || n != 1 || sup != 1 {
		t.Fatalf("conflicting calls leaked records: %d/%d/%d", s, n, sup)
	}
}

func TestAddSynapseNormalizesInput(t *testing.T) {
	ctx := context.Background()
	svc := newMemoryService()
	in := SynapseInput{SynapseID: 4, SkeletonID: 9, SourceID: "catmaid", SuperID: strPtr("hl_x"),
		NTKnown: []string{" GABA ", "gaba"}, NTGuess: []string{"Glutamate"}}
	mustAdd(t, svc, in)
	syns, _ := svc.ListSynapses(ctx, domain.SynapseFilter{})
	neurons, _ := svc.ListNeurons(ctx)
	supers, _ := svc.ListSupers(ctx)
	if syns[0].SourceID != "CATMAID" {
		t.Fatalf("source id not upper-cased: %q", syns[0].SourceID)
	}
	if *neurons[0].SuperID != "HL_X" || len(neurons[0].NTKnown) != 1 || neurons[0].NTKnown[0] != "gaba" {
		t.Fatalf("neuron not normalised: %+v", neurons[0])
	}
	if supers[0].SuperID != "HL_X" || supers[0].NTGuess[0] != "glutamate" {
		t.Fatalf("super not normalised: %+v", supers[0])
	}
	// case-insensitive equality makes this a no-op
	again := in
	again.SuperID = strPtr("HL_X")
	again.NTKnown = []string{"Gaba"}
	mustAdd(t, svc, again)
}

func TestAddSynapseValidation(t *testing.T) {
	cases := map[string]SynapseInput{
		"negative synapse":       {SynapseID: -1},
		"negative skeleton":      {SynapseID: 1, SkeletonID: -5},
		"guess without super":    {SynapseID: 1, NTGuess: []string{"gaba"}},
		"empty super identifier": {SynapseID: 1, SuperID: strPtr("")},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			svc := newMemoryService()
			if err := svc.AddSynapse(context.Background(), in); !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestReferentialIntegrityRuleBlocksOrphans(t *testing.T) {
	ctx := context.Background()
	svc := newMemoryService()
	_, err := svc.Store().RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, _, err := tx.EnsureSynapse(domain.Synapse{SynapseID: 1, SkeletonID: 77})
		return err
	})
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected orphan synapse to be blocked, got %v", err)
	}
	_, err = svc.Store().RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, _, err := tx.EnsureNeuron(domain.Neuron{SkeletonID: 1, SuperID: strPtr("NOPE")})
		return err
	})
	if !errors.As(err, &violation) || violation.Result.Violations[0].Entity != domain.EntityNeuron {
		t.Fatalf("expected dangling super to be blocked, got %v", err)
	}
}
