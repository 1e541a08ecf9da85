// Package policy decides whether a builder profile may be claimed with a given verification method.
package policy

import "context"

// Input is what an eligibility policy sees.
type Input struct {
	BuilderID    string
	Method       string
	PlanType     string
	GMBImported  bool
	PublicFields map[string]string
}

// Decision is the policy outcome. Reason is empty when allowed.
type Decision struct {
	Allow  bool
	Reason string
}

// Evaluator evaluates claim eligibility.
type Evaluator interface {
	Evaluate(ctx context.Context, in Input) (Decision, error)
}

// AllowAll permits every claim.
type AllowAll struct{}

// Evaluate always allows.
func (AllowAll) Evaluate(context.Context, Input) (Decision, error) { return Decision{Allow: true}, nil }
