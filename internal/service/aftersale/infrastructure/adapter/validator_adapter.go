package adapter

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"aftersale/internal/service/aftersale/domain"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// PlaygroundValidator 是 port.Validator 的 go-playground/validator 实现。
// 金额字段以 float64 参与 gte/lte 等规则的比较。
type PlaygroundValidator struct {
	validate *validator.Validate
}

func NewPlaygroundValidator() *PlaygroundValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})
	return &PlaygroundValidator{validate: v}
}

// Validate 把所有字段错误一次性转换为 Violation
func (p *PlaygroundValidator) Validate(_ context.Context, v any) []domain.Violation {
	err := p.validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []domain.Violation{{Field: "", Rule: "invalid", Message: err.Error()}}
	}
	out := make([]domain.Violation, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, domain.Violation{
			Field:   fe.Field(),
			Rule:    fe.Tag(),
			Message: message(fe),
		})
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	}
	return fmt.Sprintf("failed on rule %s", fe.Tag())
}
