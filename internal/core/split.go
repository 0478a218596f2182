package core

import (
	"context"

	"go.uber.org/zap"

	"synister/pkg/domain"
)

// MakeSplit labels trainIDs as train and testIDs as test under splitName.
// Existing labels for that split are overwritten; an id listed in both ends
// up as test. Unknown ids are ignored. It returns the number of labels written.
func (s *Service) MakeSplit(ctx context.Context, splitName string, trainIDs, testIDs []int64) (int, error) {
	var written int
	err := s.run(ctx, "make_split", func(ctx context.Context) error {
		if splitName == "" {
			return domain.ValidationError{Field: "split_name", Reason: "must not be empty"}
		}
		_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			n, err := tx.SetSplitLabel(splitName, domain.SplitTrain, trainIDs)
			if err != nil {
				return err
			}
			m, err := tx.SetSplitLabel(splitName, domain.SplitTest, testIDs)
			written = n + m
			return err
		})
		return err
	})
	if err != nil {
		return 0, err
	}
	if skipped := len(trainIDs) + len(testIDs) - written; skipped > 0 {
		s.logger.Warn("split references unknown synapses", zap.String("split", splitName), zap.Int("skipped", skipped))
	}
	return written, nil
}

// ReadSplit returns the train and test members of splitName ordered by
// synapse id. Synapses without a label for the split are excluded; any other
// label value fails the whole read with a CorruptSplitError.
func (s *Service) ReadSplit(ctx context.Context, splitName string) (train, test []domain.Synapse, err error) {
	err = s.run(ctx, "read_split", func(ctx context.Context) error {
		members, err := s.store.ListSynapses(ctx, domain.SynapseFilter{SplitName: splitName})
		if err != nil {
			return err
		}
		for _, syn := range members {
			label, ok := syn.Splits[splitName]
			if !ok {
				continue
			}
			switch label {
			case domain.SplitTrain:
				train = append(train, syn)
			case domain.SplitTest:
				test = append(test, syn)
			default:
				return domain.CorruptSplitError{Split: splitName, SynapseID: syn.SynapseID, Label: label}
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return train, test, nil
}
