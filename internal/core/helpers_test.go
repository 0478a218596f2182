package core

import (
	"context"
	"path/filepath"
	"testing"

	"synister/internal/infra/persistence/memory"
	"synister/internal/infra/persistence/sqlite"
	"synister/pkg/domain"
)

type backend struct {
	name string
	open func(t *testing.T) domain.PersistentStore
}

func backends() []backend {
	return []backend{
		{name: "memory", open: func(*testing.T) domain.PersistentStore { return memory.NewStore(NewDefaultRulesEngine()) }},
		{name: "sqlite", open: func(t *testing.T) domain.PersistentStore {
			store, err := sqlite.NewStore(filepath.Join(t.TempDir(), "records.db"), NewDefaultRulesEngine())
			if err != nil {
				t.Skipf("sqlite unavailable: %v", err)
			}
			t.Cleanup(func() { _ = store.Close() })
			return store
		}},
	}
}

func newMemoryService() *Service {
	return NewService(memory.NewStore(NewDefaultRulesEngine()))
}

func strPtr(s string) *string { return &s }

func synapseInput(id, skeleton int64, x, y, z int64) SynapseInput {
	return SynapseInput{X: x, Y: y, Z: z, SynapseID: id, SkeletonID: skeleton, SourceID: "catmaid", NTKnown: []string{"GABA"}}
}

func mustAdd(t *testing.T, svc *Service, in SynapseInput) {
	t.Helper()
	if err := svc.AddSynapse(context.Background(), in); err != nil {
		t.Fatalf("AddSynapse(%d): %v", in.SynapseID, err)
	}
}

func counts(t *testing.T, svc *Service) (synapses, neurons, supers int) {
	t.Helper()
	ctx := context.Background()
	syns, err := svc.ListSynapses(ctx, domain.SynapseFilter{})
	if err != nil {
		t.Fatalf("list synapses: %v", err)
	}
	ns, err := svc.ListNeurons(ctx)
	if err != nil {
		t.Fatalf("list neurons: %v", err)
	}
	sups, err := svc.ListSupers(ctx)
	if err != nil {
		t.Fatalf("list supers: %v", err)
	}
	return len(syns), len(ns), len(sups)
}
