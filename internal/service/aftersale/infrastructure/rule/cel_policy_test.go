package rule

import (
	"context"
	"testing"

	"aftersale/internal/service/aftersale/application"
	"aftersale/internal/service/aftersale/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func input(reason domain.ReasonCode, amount int64) application.ApprovalInput {
	return application.ApprovalInput{
		Reason:         reason,
		ReasonCategory: reason.Category(),
		CaseType:       domain.TypeRefundOnly,
		Amount:         decimal.NewFromInt(amount),
		Threshold:      decimal.NewFromInt(200),
	}
}

func TestDefaultApprovalExpression(t *testing.T) {
	r, err := NewCELApprovalRule(application.DefaultApprovalExpression)
	require.NoError(t, err)

	tests := []struct {
		name   string
		in     application.ApprovalInput
		expect bool
	}{
		{"merchant fault of any amount", input(domain.ReasonQualityIssue, 5000), true},
		{"wrong item", input(domain.ReasonWrongItem, 10), true},
		{"no longer wanted under threshold", input(domain.ReasonNoLongerWanted, 150), true},
		{"no longer wanted at threshold", input(domain.ReasonNoLongerWanted, 200), true},
		{"no longer wanted over threshold", input(domain.ReasonNoLongerWanted, 201), false},
		{"other reason", input(domain.ReasonOther, 1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := r.Evaluate(context.Background(), tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.expect, ok)
		})
	}
}

func TestCustomExpressionSeesCaseType(t *testing.T) {
	r, err := NewCELApprovalRule(`case_type == "EXCHANGE" && reason == "WRONG_ITEM"`)
	require.NoError(t, err)

	in := input(domain.ReasonWrongItem, 0)
	ok, err := r.Evaluate(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, ok)

	in.CaseType = domain.TypeExchange
	ok, err = r.Evaluate(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewCELApprovalRuleRejectsBadExpressions(t *testing.T) {
	_, err := NewCELApprovalRule(`amount + 1`)
	assert.ErrorContains(t, err, "must return bool")

	_, err = NewCELApprovalRule(`amount <=`)
	assert.ErrorContains(t, err, "compile")

	_, err = NewCELApprovalRule(`unknown_var == "x"`)
	assert.Error(t, err)
}
