package auth

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// DefaultPrivilegeExpr grants cross-tenant access to superadmins only.
const DefaultPrivilegeExpr = `"superadmin" in roles`

// PrivilegePolicy decides whether a caller may act across tenants.
// The rule is a CEL expression over the token claims:
//
//	roles  list(string)
//	tenant string
//	user   string
type PrivilegePolicy struct {
	expr    string
	program cel.Program
}

// NewPrivilegePolicy compiles expr. It must evaluate to a bool.
func NewPrivilegePolicy(expr string) (*PrivilegePolicy, error) {
	if expr == "" {
		expr = DefaultPrivilegeExpr
	}

	env, err := cel.NewEnv(
		cel.Variable("roles", cel.ListType(cel.StringType)),
		cel.Variable("tenant", cel.StringType),
		cel.Variable("user", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("create cel env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile privilege policy %q: %w", expr, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("privilege policy %q must return bool, got %s", expr, ast.OutputType())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build privilege policy: %w", err)
	}

	return &PrivilegePolicy{expr: expr, program: program}, nil
}

// Privileged evaluates the policy. Evaluation errors deny privilege.
func (p *PrivilegePolicy) Privileged(claims *Claims) bool {
	roles := claims.Roles
	if roles == nil {
		roles = []string{}
	}

	out, _, err := p.program.Eval(map[string]any{
		"roles":  roles,
		"tenant": claims.TenantID,
		"user":   claims.UserID,
	})
	if err != nil {
		return false
	}
	allowed, ok := out.Value().(bool)
	return ok && allowed
}

// String returns the source expression.
func (p *PrivilegePolicy) String() string {
	return p.expr
}
