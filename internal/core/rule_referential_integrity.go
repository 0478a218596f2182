package core

import (
	"context"
	"fmt"
	"strconv"

	"synister/pkg/domain"
)

const referentialIntegrityRuleName = "referential_integrity"

// ReferentialIntegrityRule blocks commits that leave a created synapse without
// its neuron or a created neuron pointing at an unknown super.
func ReferentialIntegrityRule() domain.Rule {
	return referentialIntegrityRule{}
}

type referentialIntegrityRule struct{}

func (referentialIntegrityRule) Name() string { return referentialIntegrityRuleName }

func (referentialIntegrityRule) Evaluate(_ context.Context, view domain.TransactionView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Action != domain.ActionCreate || change.After == nil {
			continue
		}
		switch after := change.After.(type) {
		case domain.Synapse:
			_, ok, err := view.FindNeuron(after.SkeletonID)
			if err != nil {
				return domain.Result{}, err
			}
			if !ok {
				res.Violations = append(res.Violations, integrityViolation(domain.EntitySynapse, strconv.FormatInt(after.SynapseID, 10),
					fmt.Sprintf("synapse %d references missing neuron %d", after.SynapseID, after.SkeletonID)))
			}
		case domain.Neuron:
			if after.SuperID == nil {
				continue
			}
			_, ok, err := view.FindSuper(*after.SuperID)
			if err != nil {
				return domain.Result{}, err
			}
			if !ok {
				res.Violations = append(res.Violations, integrityViolation(domain.EntityNeuron, strconv.FormatInt(after.SkeletonID, 10),
					fmt.Sprintf("neuron %d references missing super %s", after.SkeletonID, *after.SuperID)))
			}
		}
	}
	return res, nil
}

func integrityViolation(entity domain.EntityType, id, message string) domain.Violation {
	return domain.Violation{
		Rule:     referentialIntegrityRuleName,
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   entity,
		EntityID: id,
	}
}
