// internal/service/aftersale/infrastructure/rule/cel_policy.go
package rule

import (
	"context"
	"fmt"

	"aftersale/internal/service/aftersale/application"

	"github.com/google/cel-go/cel"
)

// CELApprovalRule 是 application.ApprovalRule 的 CEL 实现。
// 表达式在构造时编译一次，之后每次评估只做变量绑定。
type CELApprovalRule struct {
	expression string
	program    cel.Program
}

// NewCELApprovalRule 编译表达式，表达式必须返回 bool
func NewCELApprovalRule(expression string) (*CELApprovalRule, error) {
	env, err := cel.NewEnv(
		cel.Variable("reason", cel.StringType),
		cel.Variable("reason_category", cel.StringType),
		cel.Variable("case_type", cel.StringType),
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("threshold", cel.DoubleType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}
	ast, iss := env.Compile(expression)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("failed to compile approval expression: %w", iss.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("approval expression must return bool, got %s", ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build CEL program: %w", err)
	}
	return &CELApprovalRule{expression: expression, program: prg}, nil
}

// Evaluate 实现了 application.ApprovalRule 接口
func (r *CELApprovalRule) Evaluate(ctx context.Context, in application.ApprovalInput) (bool, error) {
	out, _, err := r.program.ContextEval(ctx, map[string]any{
		"reason":          string(in.Reason),
		"reason_category": string(in.ReasonCategory),
		"case_type":       string(in.CaseType),
		"amount":          in.Amount.InexactFloat64(),
		"threshold":       in.Threshold.InexactFloat64(),
	})
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", r.expression, err)
	}
	ok, isBool := out.Value().(bool)
	if !isBool {
		return false, fmt.Errorf("approval expression returned %T", out.Value())
	}
	return ok, nil
}
