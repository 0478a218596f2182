package core

import (
	"context"
	"fmt"

	"synister/pkg/domain"
)

// GetSynapseByPosition returns the synapse stored at loc.
func (s *Service) GetSynapseByPosition(ctx context.Context, loc domain.Location) (domain.Synapse, error) {
	var found domain.Synapse
	err := s.run(ctx, "get_synapse_by_position", func(ctx context.Context) error {
		matches, err := s.store.ListSynapses(ctx, domain.SynapseFilter{Position: &loc})
		if err != nil {
			return err
		}
		if len(matches) == 0 {
			return domain.LookupError{What: "synapse", Key: fmt.Sprintf("position (%d,%d,%d)", loc.X, loc.Y, loc.Z)}
		}
		found = matches[0]
		return nil
	})
	return found, err
}

// GetSynapse returns the synapse with the given id.
func (s *Service) GetSynapse(ctx context.Context, synapseID int64) (domain.Synapse, error) {
	var found domain.Synapse
	err := s.run(ctx, "get_synapse", func(ctx context.Context) error {
		return s.store.View(ctx, func(v domain.TransactionView) error {
			syn, ok, err := v.FindSynapse(synapseID)
			if err != nil {
				return err
			}
			if !ok {
				return domain.LookupError{What: "synapse", Key: fmt.Sprintf("synapse_id %d", synapseID)}
			}
			found = syn
			return nil
		})
	})
	return found, err
}

// GetNeuron returns the neuron of a skeleton together with its super, if it
// has one.
func (s *Service) GetNeuron(ctx context.Context, skeletonID int64) (domain.Neuron, *domain.Super, error) {
	var (
		neuron domain.Neuron
		super  *domain.Super
	)
	err := s.run(ctx, "get_neuron", func(ctx context.Context) error {
		return s.store.View(ctx, func(v domain.TransactionView) error {
			n, ok, err := v.FindNeuron(skeletonID)
			if err != nil {
				return err
			}
			if !ok {
				return domain.LookupError{What: "neuron", Key: fmt.Sprintf("skeleton_id %d", skeletonID)}
			}
			neuron = n
			if n.SuperID == nil {
				return nil
			}
			sup, ok, err := v.FindSuper(*n.SuperID)
			if err != nil {
				return err
			}
			if ok {
				super = &sup
			}
			return nil
		})
	})
	return neuron, super, err
}

// ListSynapses returns synapses matching filter ordered by id.
func (s *Service) ListSynapses(ctx context.Context, filter domain.SynapseFilter) ([]domain.Synapse, error) {
	return s.store.ListSynapses(ctx, filter)
}

// ListNeurons returns neurons ordered by skeleton id.
func (s *Service) ListNeurons(ctx context.Context, skeletonIDs ...int64) ([]domain.Neuron, error) {
	return s.store.ListNeurons(ctx, skeletonIDs...)
}

// ListSupers returns supers ordered by id.
func (s *Service) ListSupers(ctx context.Context) ([]domain.Super, error) {
	return s.store.ListSupers(ctx)
}

// GetNeurotransmitters returns every label used in a neuron's nt_known and
// every label used in a super's nt_guess.
func (s *Service) GetNeurotransmitters(ctx context.Context) (known, guess domain.NTSet, err error) {
	err = s.run(ctx, "get_neurotransmitters", func(ctx context.Context) error {
		neurons, err := s.store.ListNeurons(ctx)
		if err != nil {
			return err
		}
		supers, err := s.store.ListSupers(ctx)
		if err != nil {
			return err
		}
		var k, g []string
		for _, n := range neurons {
			k = append(k, n.NTKnown...)
		}
		for _, sup := range supers {
			g = append(g, sup.NTGuess...)
		}
		known, guess = domain.NewNTSet(k...), domain.NewNTSet(g...)
		return nil
	})
	return known, guess, err
}

// GetSynapsesByNT groups synapses by the exact nt_known set of their neuron.
// The result is keyed by NTSet.Key. A requested set carried by no neuron
// fails with a LookupError.
func (s *Service) GetSynapsesByNT(ctx context.Context, sets ...domain.NTSet) (map[string][]domain.Synapse, error) {
	out := make(map[string][]domain.Synapse, len(sets))
	err := s.run(ctx, "get_synapses_by_nt", func(ctx context.Context) error {
		neurons, err := s.store.ListNeurons(ctx)
		if err != nil {
			return err
		}
		for _, set := range sets {
			skeletons := neuronsWithNT(neurons, set)
			if len(skeletons) == 0 {
				return domain.LookupError{What: "neuron", Key: "nt_known=" + set.Key()}
			}
			syns, err := s.store.ListSynapses(ctx, domain.SynapseFilter{SkeletonIDs: skeletons})
			if err != nil {
				return err
			}
			out[set.Key()] = syns
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// GetSynapseLocations returns the (z, y, x) positions of the synapses labelled
// part in splitName whose neuron carries exactly the nt set.
func (s *Service) GetSynapseLocations(ctx context.Context, splitName string, part domain.SplitLabel, nt domain.NTSet) ([][3]int64, error) {
	if !part.Valid() {
		return nil, domain.ValidationError{Field: "split", Reason: fmt.Sprintf("%q is neither train nor test", part)}
	}
	train, test, err := s.ReadSplit(ctx, splitName)
	if err != nil {
		return nil, err
	}
	members := train
	if part == domain.SplitTest {
		members = test
	}
	neurons, err := s.store.ListNeurons(ctx)
	if err != nil {
		return nil, err
	}
	skeletons := neuronsWithNT(neurons, nt)
	if len(skeletons) == 0 {
		return nil, domain.LookupError{What: "neurotransmitter", Key: nt.Key()}
	}
	wanted := make(map[int64]struct{}, len(skeletons))
	for _, id := range skeletons {
		wanted[id] = struct{}{}
	}
	var locations [][3]int64
	for _, syn := range members {
		if _, ok := wanted[syn.SkeletonID]; ok {
			locations = append(locations, syn.Location().ZYX())
		}
	}
	return locations, nil
}

func neuronsWithNT(neurons []domain.Neuron, set domain.NTSet) []int64 {
	var ids []int64
	for _, n := range neurons {
		if n.NTKnown.Equal(set) {
			ids = append(ids, n.SkeletonID)
		}
	}
	return ids
}
