package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestResultMergeAndBlocking(t *testing.T) {
	var result Result
	result.Merge(Result{Violations: []Violation{{Rule: "warn", Severity: SeverityWarn}}})
	if result.HasBlocking() {
		t.Fatalf("expected no blocking violations")
	}
	result.Merge(Result{Violations: []Violation{{Rule: "block", Severity: SeverityBlock, Message: "neuron 7 missing"}}})
	if !result.HasBlocking() {
		t.Fatalf("expected blocking violation")
	}
	err := RuleViolationError{Result: result}
	if err.Error() != "transaction blocked by rules: neuron 7 missing" {
		t.Fatalf("unexpected error string %q", err.Error())
	}
}

func TestResultMergeEmptyInput(t *testing.T) {
	original := Result{Violations: []Violation{{Rule: "existing", Severity: SeverityWarn}}}
	original.Merge(Result{})
	if len(original.Violations) != 1 || original.Violations[0].Rule != "existing" {
		t.Fatalf("expected original violations to remain, got %+v", original.Violations)
	}
}

func TestRulesEngineEvaluate(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(staticRule{"warn", SeverityWarn})
	res, err := engine.Evaluate(context.Background(), emptyView{}, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(res.Violations) != 1 {
		t.Fatalf("expected violation")
	}
}

func TestRulesEngineCommit(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(staticRule{"warn", SeverityWarn})
	if _, err := engine.Commit(context.Background(), emptyView{}, nil); err != nil {
		t.Fatalf("warnings must not block: %v", err)
	}
	engine.Register(staticRule{"block", SeverityBlock})
	res, err := engine.Commit(context.Background(), emptyView{}, nil)
	var rv RuleViolationError
	if !errors.As(err, &rv) {
		t.Fatalf("expected RuleViolationError, got %v", err)
	}
	if len(res.Violations) != 2 || len(rv.Result.Violations) != 2 {
		t.Fatalf("expected both violations reported, got %+v", res.Violations)
	}
}

func TestNilRulesEngineEvaluatesNothing(t *testing.T) {
	var engine *RulesEngine
	res, err := engine.Commit(context.Background(), emptyView{}, nil)
	if err != nil || len(res.Violations) != 0 {
		t.Fatalf("nil engine: res=%+v err=%v", res, err)
	}
}

func TestRulesEngineEvaluateError(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(errorRule{})
	if _, err := engine.Evaluate(context.Background(), emptyView{}, nil); err == nil {
		t.Fatalf("expected evaluation error")
	}
}

type staticRule struct {
	name     string
	severity Severity
}

func (r staticRule) Name() string { return r.name }

func (r staticRule) Evaluate(context.Context, TransactionView, []Change) (Result, error) {
	return Result{Violations: []Violation{{Rule: r.name, Severity: r.severity}}}, nil
}

type errorRule struct{}

func (errorRule) Name() string { return "error" }

func (errorRule) Evaluate(context.Context, TransactionView, []Change) (Result, error) {
	return Result{}, fmt.Errorf("boom")
}

type emptyView struct{}

func (emptyView) FindSynapse(int64) (Synapse, bool, error) { return Synapse{}, false, nil }
func (emptyView) FindNeuron(int64) (Neuron, bool, error)   { return Neuron{}, false, nil }
func (emptyView) FindSuper(string) (Super, bool, error)    { return Super{}, false, nil }
