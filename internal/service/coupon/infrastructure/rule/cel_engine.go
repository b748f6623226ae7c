// internal/service/coupon/infrastructure/rule/cel_engine.go
package rule

import (
	"context"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"

	"flashmart/internal/service/coupon/domain"
)

// CELRuleEngine 用 CEL 表达式求值券的可用性规则。
// 例如 "orderAmount >= 50000.0 && itemCount >= 2"。
// 编译结果按表达式缓存，求值路径无锁。
type CELRuleEngine struct {
	env      *cel.Env
	programs sync.Map // rule string -> cel.Program
}

func NewCELRuleEngine() (*CELRuleEngine, error) {
	env, err := cel.NewEnv(
		cel.Variable("userId", cel.IntType),
		cel.Variable("orderAmount", cel.DoubleType),
		cel.Variable("itemCount", cel.IntType),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create cel env")
	}
	return &CELRuleEngine{env: env}, nil
}

func (e *CELRuleEngine) Evaluate(ctx context.Context, ruleExpr string, fact domain.OrderFact) (bool, error) {
	if ruleExpr == "" {
		return true, nil
	}

	prg, err := e.program(ruleExpr)
	if err != nil {
		return false, err
	}

	out, _, err := prg.Eval(map[string]interface{}{
		"userId":      fact.UserID,
		"orderAmount": fact.OrderAmount,
		"itemCount":   fact.ItemCount,
	})
	if err != nil {
		return false, errors.Wrapf(err, "evaluate rule %q", ruleExpr)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, errors.Errorf("rule %q did not evaluate to bool", ruleExpr)
	}
	return result, nil
}

func (e *CELRuleEngine) program(ruleExpr string) (cel.Program, error) {
	if cached, ok := e.programs.Load(ruleExpr); ok {
		return cached.(cel.Program), nil
	}

	ast, issues := e.env.Compile(ruleExpr)
	if issues != nil && issues.Err() != nil {
		return nil, errors.Wrapf(issues.Err(), "compile rule %q", ruleExpr)
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, errors.Wrapf(err, "build program for rule %q", ruleExpr)
	}

	e.programs.Store(ruleExpr, prg)
	return prg, nil
}

var _ domain.RuleEngine = (*CELRuleEngine)(nil)
