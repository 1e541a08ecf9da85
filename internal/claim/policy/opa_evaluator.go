package policy

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

const policyQuery = "data.builder_claims.eligibility"

// DefaultRegoPolicy allows every claim. Deployments override it with CLAIM_POLICY_FILE.
const DefaultRegoPolicy = `package builder_claims.eligibility

default allow := true
default reason := ""
`

// OPAEvaluator evaluates eligibility with a compiled Rego policy in package builder_claims.eligibility.
// The policy defines allow (bool) and optionally reason (string).
type OPAEvaluator struct {
	query rego.PreparedEvalQuery
}

// NewOPAEvaluator compiles the given Rego modules, or DefaultRegoPolicy when none are given.
func NewOPAEvaluator(ctx context.Context, policies ...string) (*OPAEvaluator, error) {
	if len(policies) == 0 {
		policies = []string{DefaultRegoPolicy}
	}
	modules := make(map[string]string, len(policies))
	for i, p := range policies {
		modules[fmt.Sprintf("policy_%d.rego", i)] = p
	}
	compiler, err := ast.CompileModules(modules)
	if err != nil {
		return nil, fmt.Errorf("compile policies: %w", err)
	}
	q, err := rego.New(
		rego.Query(policyQuery),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare policy query: %w", err)
	}
	return &OPAEvaluator{query: q}, nil
}

// NewOPAEvaluatorFromFile compiles the policy at path, or the default policy when path is empty.
func NewOPAEvaluatorFromFile(ctx context.Context, path string) (*OPAEvaluator, error) {
	if path == "" {
		return NewOPAEvaluator(ctx)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return NewOPAEvaluator(ctx, string(b))
}

// Evaluate runs the policy for in. A policy that leaves allow undefined denies.
func (e *OPAEvaluator) Evaluate(ctx context.Context, in Input) (Decision, error) {
	fields := make(map[string]interface{}, len(in.PublicFields))
	for k, v := range in.PublicFields {
		fields[k] = v
	}
	input := map[string]interface{}{
		"builder_id": in.BuilderID,
		"method":     in.Method,
		"plan_type":  in.PlanType,
		"profile": map[string]interface{}{
			"gmb_imported":  in.GMBImported,
			"public_fields": fields,
		},
	}
	rs, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return Decision{}, fmt.Errorf("eval policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return Decision{}, nil
	}
	doc, ok := rs[0].Expressions[0].Value.(map[string]interface{})
	if !ok {
		return Decision{}, fmt.Errorf("policy returned %T, want object", rs[0].Expressions[0].Value)
	}
	var d Decision
	d.Allow, _ = doc["allow"].(bool)
	d.Reason, _ = doc["reason"].(string)
	return d, nil
}

// HealthCheck evaluates the compiled policy against a minimal input.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	_, err := e.Evaluate(ctx, Input{BuilderID: "health", Method: "email"})
	return err
}
