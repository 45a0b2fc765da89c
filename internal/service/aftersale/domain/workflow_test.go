package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func newTestCase(t CaseType) *Case {
	return NewCase(CaseDraft{
		ReferenceNo:     "AS-TEST-1",
		OrderNo:         "ORD-1",
		OrderLineNo:     "L1",
		UserID:          "u-1",
		Type:            t,
		Reason:          ReasonQualityIssue,
		Quantity:        1,
		RequestedAmount: decimal.NewFromInt(100),
	}, DefaultDeadlinePolicy(), testNow)
}

func TestAllowedActionsDependOnType(t *testing.T) {
	assert.ElementsMatch(t, []Action{ActionRequestRefund, ActionAnnotate}, AllowedActions(StateApproved, TypeRefundOnly))
	assert.ElementsMatch(t, []Action{ActionRequestReturn, ActionAnnotate}, AllowedActions(StateApproved, TypeReturnRefund))
	assert.ElementsMatch(t, []Action{ActionRequestReturn, ActionAnnotate}, AllowedActions(StateApproved, TypeExchange))
	assert.Equal(t, []Action{ActionAnnotate}, AllowedActions(StateCompleted, TypeExchange))
	assert.NotContains(t, AllowedActions(StatePendingReturn, TypeRefundOnly), ActionSubmitReturn)
}

func TestApplyTransitions(t *testing.T) {
	tests := []struct {
		name      string
		caseType  CaseType
		from      State
		fromStage Stage
		action    Action
		to        State
		stage     Stage
		deadline  bool
	}{
		{"approve", TypeRefundOnly, StatePendingApproval, StageApply, ActionApprove, StateApproved, StageAudit, false},
		{"reject", TypeRefundOnly, StatePendingApproval, StageApply, ActionReject, StateRejected, StageAudit, false},
		{"cancel pending", TypeRefundOnly, StatePendingApproval, StageApply, ActionCancel, StateCancelled, StageComplete, false},
		{"request return", TypeReturnRefund, StateApproved, StageAudit, ActionRequestReturn, StatePendingReturn, StageReturn, true},
		{"request refund", TypeRefundOnly, StateApproved, StageAudit, ActionRequestRefund, StatePendingRefund, StageAudit, false},
		{"submit return", TypeReturnRefund, StatePendingReturn, StageReturn, ActionSubmitReturn, StatePendingReceive, StageReceive, true},
		{"confirm receipt refund", TypeReturnRefund, StatePendingReceive, StageReceive, ActionConfirmReceipt, StatePendingRefund, StageReceive, false},
		{"confirm receipt exchange", TypeExchange, StatePendingReceive, StageReceive, ActionConfirmReceipt, StateCompleted, StageComplete, false},
		{"reject on receipt", TypeReturnRefund, StatePendingReceive, StageReceive, ActionReject, StateRejected, StageReceive, false},
		{"refund", TypeRefundOnly, StatePendingRefund, StageAudit, ActionRefund, StateCompleted, StageComplete, false},
		{"resubmit keeps stage", TypeRefundOnly, StateRejected, StageAudit, ActionResubmit, StatePendingApproval, StageAudit, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCase(tt.caseType)
			c.State, c.Stage = tt.from, tt.fromStage
			later := testNow.Add(time.Hour)

			tr, err := c.Apply(tt.action, DefaultDeadlinePolicy(), later)
			require.NoError(t, err)
			assert.Equal(t, tt.from, tr.From)
			assert.Equal(t, tt.to, tr.To)
			assert.Equal(t, tt.to, c.State)
			assert.Equal(t, tt.stage, c.Stage)
			assert.Equal(t, later, c.UpdatedAt)
			if tt.deadline {
				require.NotNil(t, c.DeadlineAt)
				assert.True(t, c.DeadlineAt.After(later))
			} else {
				assert.Nil(t, c.DeadlineAt)
			}
		})
	}
}

func TestApplyIllegalLeavesCaseUntouched(t *testing.T) {
	c := newTestCase(TypeRefundOnly)
	before := c.Clone()

	_, err := c.Apply(ActionRefund, DefaultDeadlinePolicy(), testNow.Add(time.Minute))
	var illegal *IllegalTransitionError
	require.ErrorAs(t, err, &illegal)
	assert.Equal(t, StatePendingApproval, illegal.State)
	assert.Equal(t, ActionRefund, illegal.Action)
	assert.Equal(t, before, c)
}

func TestApplyPayloadActions(t *testing.T) {
	c := newTestCase(TypeRefundOnly)
	_, err := c.Apply(ActionModifyAmount, DefaultDeadlinePolicy(), testNow)
	assert.ErrorIs(t, err, ErrActionNeedsPayload)
	assert.Equal(t, StatePendingApproval, c.State)
}

func TestApproveFixesApprovedAmount(t *testing.T) {
	c := newTestCase(TypeRefundOnly)
	_, err := c.ModifyAmount(decimal.NewFromInt(80), testNow)
	require.NoError(t, err)

	_, err = c.Apply(ActionApprove, DefaultDeadlinePolicy(), testNow)
	require.NoError(t, err)
	assert.True(t, c.ApprovedAmount.Equal(decimal.NewFromInt(80)))
}

func TestResubmitCountsTowardsCap(t *testing.T) {
	c := newTestCase(TypeRefundOnly)
	for i := 0; i < MaxModifications; i++ {
		_, err := c.Apply(ActionReject, DefaultDeadlinePolicy(), testNow)
		require.NoError(t, err)
		_, err = c.Apply(ActionResubmit, DefaultDeadlinePolicy(), testNow)
		require.NoError(t, err)
	}
	assert.Equal(t, MaxModifications, c.ModificationCount)

	_, err := c.Apply(ActionReject, DefaultDeadlinePolicy(), testNow)
	require.NoError(t, err)
	_, err = c.Apply(ActionResubmit, DefaultDeadlinePolicy(), testNow)
	assert.ErrorIs(t, err, ErrModificationCapExceeded)
	assert.Equal(t, StateRejected, c.State)
}

func TestAllowedActionsHideExhaustedSelfService(t *testing.T) {
	c := newTestCase(TypeRefundOnly)
	assert.Contains(t, c.AllowedActions(), ActionModifyApplication)

	c.ModificationCount = MaxModifications
	assert.Equal(t, []Action{ActionApprove, ActionReject, ActionCancel, ActionModifyAmount, ActionAnnotate}, c.AllowedActions())

	_, err := c.Apply(ActionReject, DefaultDeadlinePolicy(), testNow)
	require.NoError(t, err)
	assert.Equal(t, []Action{ActionCancel, ActionAnnotate}, c.AllowedActions())
	assert.Contains(t, AllowedActions(StateRejected, TypeRefundOnly), ActionResubmit, "the state table itself is unchanged")

	_, err = c.Apply(ActionResubmit, DefaultDeadlinePolicy(), testNow)
	assert.ErrorIs(t, err, ErrModificationCapExceeded, "the gate still reports the cap rather than an illegal transition")
}

func TestApplyClearsReviewFlag(t *testing.T) {
	c := newTestCase(TypeRefundOnly)
	c.FlagForReview(testNow)
	assert.True(t, c.NeedsReview)
	assert.Nil(t, c.DeadlineAt)

	_, err := c.Apply(ActionApprove, DefaultDeadlinePolicy(), testNow)
	require.NoError(t, err)
	assert.False(t, c.NeedsReview)
}

func TestForceState(t *testing.T) {
	c := newTestCase(TypeReturnRefund)
	tr := c.ForceState(StatePendingReturn, StageReturn, DefaultDeadlinePolicy(), testNow)

	assert.Equal(t, StatePendingApproval, tr.From)
	assert.Equal(t, StatePendingReturn, tr.To)
	assert.Equal(t, StageReturn, c.Stage)
	assert.True(t, c.ApprovedAmount.IsZero())
	require.NotNil(t, c.DeadlineAt)
	assert.Equal(t, testNow.Add(DefaultDeadlinePolicy().PendingReturn), *c.DeadlineAt)

	c2 := newTestCase(TypeRefundOnly)
	c2.ForceState(StateApproved, StageAudit, DefaultDeadlinePolicy(), testNow)
	assert.True(t, c2.ApprovedAmount.Equal(c2.ActualAmount))
	assert.Nil(t, c2.DeadlineAt)
}

func TestProjectStage(t *testing.T) {
	assert.Equal(t, StageAudit, ProjectStage(StatePendingRefund, TypeRefundOnly))
	assert.Equal(t, StageReceive, ProjectStage(StatePendingRefund, TypeReturnRefund))
	assert.Equal(t, StageComplete, ProjectStage(StateCancelled, TypeExchange))
	assert.True(t, StageApply.Before(StageComplete))
	assert.False(t, StageReceive.Before(StageAudit))
}

func TestDeadlinePolicy(t *testing.T) {
	p := DeadlinePolicy{PendingApproval: time.Hour}
	assert.NotNil(t, p.DeadlineFor(StatePendingApproval, TypeRefundOnly, testNow))
	assert.Nil(t, p.DeadlineFor(StatePendingReturn, TypeReturnRefund, testNow))
	assert.Nil(t, DefaultDeadlinePolicy().DeadlineFor(StatePendingReturn, TypeRefundOnly, testNow))
	assert.Nil(t, DefaultDeadlinePolicy().DeadlineFor(StateApproved, TypeRefundOnly, testNow))
}

func TestTransitionEvents(t *testing.T) {
	c := newTestCase(TypeRefundOnly)
	tr, err := c.Apply(ActionApprove, DefaultDeadlinePolicy(), testNow)
	require.NoError(t, err)

	events := TransitionEvents(c, tr, testNow)
	require.Len(t, events, 2)
	assert.Equal(t, EventStatusChanged, events[0].Type)
	assert.Equal(t, EventProcessingStarted, events[1].Type)
	assert.Equal(t, StatePendingApproval, events[0].FromState)
	assert.Equal(t, StateApproved, events[0].ToState)
	assert.NotEqual(t, events[0].EventID, events[1].EventID)

	assert.Empty(t, TransitionEvents(c, Transition{From: StateApproved, To: StateApproved}, testNow))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(ErrTransient))
	assert.True(t, IsTransient(ErrConcurrentModification))
	assert.True(t, IsTransient(&ReconciliationError{Err: ErrTransient}))
	assert.False(t, IsTransient(errors.New("boom")))
	assert.False(t, IsTransient(ErrCaseNotFound))
}
