package core

import (
	"context"
	"sort"

	"github.com/RoaringBitmap/roaring/roaring64"
	"go.uber.org/zap"
)

// MinGroupingTrainSynapses is the training-synapse count a grouping must
// exceed to become an output class.
const MinGroupingTrainSynapses = 10

// GroupingClass is a super that qualifies as a prediction target.
type GroupingClass struct {
	SuperID       string `json:"super_id"`
	TrainSynapses uint64 `json:"train_synapses"`
}

// GroupingClasses derives the output classes of splitName: the supers of
// neurons owning train synapses, keeping those with more than
// MinGroupingTrainSynapses train synapses. Synapses of excluded skeletons do
// not count. The result is ordered by super id.
func (s *Service) GroupingClasses(ctx context.Context, splitName string, excludedSkeletons []int64) ([]GroupingClass, error) {
	var classes []GroupingClass
	err := s.run(ctx, "grouping_classes", func(ctx context.Context) error {
		train, _, err := s.ReadSplit(ctx, splitName)
		if err != nil {
			return err
		}
		excluded := roaring64.New()
		for _, id := range excludedSkeletons {
			if id >= 0 {
				excluded.Add(uint64(id))
			}
		}
		skeletons := roaring64.New()
		for _, syn := range train {
			if !excluded.Contains(uint64(syn.SkeletonID)) {
				skeletons.Add(uint64(syn.SkeletonID))
			}
		}
		if skeletons.IsEmpty() {
			return nil
		}
		ids := make([]int64, 0, skeletons.GetCardinality())
		for _, id := range skeletons.ToArray() {
			ids = append(ids, int64(id))
		}
		neurons, err := s.store.ListNeurons(ctx, ids...)
		if err != nil {
			return err
		}
		superOf := make(map[int64]string, len(neurons))
		for _, n := range neurons {
			if n.SuperID != nil {
				superOf[n.SkeletonID] = *n.SuperID
			}
		}
		members := make(map[string]*roaring64.Bitmap)
		for _, syn := range train {
			super, ok := superOf[syn.SkeletonID]
			if !ok || excluded.Contains(uint64(syn.SkeletonID)) {
				continue
			}
			if members[super] == nil {
				members[super] = roaring64.New()
			}
			members[super].Add(uint64(syn.SynapseID))
		}
		for super, set := range members {
			count := set.GetCardinality()
			if count <= MinGroupingTrainSynapses {
				s.logger.Debug("grouping below threshold", zap.String("super_id", super), zap.Uint64("train_synapses", count))
				continue
			}
			classes = append(classes, GroupingClass{SuperID: super, TrainSynapses: count})
		}
		sort.Slice(classes, func(i, j int) bool { return classes[i].SuperID < classes[j].SuperID })
		return nil
	})
	if err != nil {
		return nil, err
	}
	return classes, nil
}
