package application_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"aftersale/internal/service/aftersale/application"
	"aftersale/internal/service/aftersale/domain"
	"aftersale/internal/service/aftersale/domain/port"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateStartsPendingApproval(t *testing.T) {
	h := newHarness(t)
	c := h.create(t, refundRequest(domain.TypeRefundOnly, 120))

	assert.Equal(t, domain.StatePendingApproval, c.State)
	assert.Equal(t, domain.StageApply, c.Stage)
	assert.Regexp(t, `^AS\d+$`, c.ReferenceNo)
	assert.Equal(t, "SKU-1", c.Snapshot.SkuID)
	require.NotNil(t, c.DeadlineAt)
	assert.Equal(t, t0.Add(h.policy.Deadlines.PendingApproval), *c.DeadlineAt)

	stored, err := h.service.GetByReference(context.Background(), c.ReferenceNo)
	require.NoError(t, err)
	assert.Equal(t, c.ID, stored.ID)
	assert.Equal(t, []domain.AuditAction{domain.AuditCaseCreated}, h.history(t, c.ID))
	assert.Equal(t, []domain.EventType{domain.EventCaseCreated}, h.publisher.Types())
}

func TestCreateRejectsInvalidApplication(t *testing.T) {
	h := newHarness(t)
	req := refundRequest(domain.TypeRefundOnly, 500)
	req.OrderNo = ""

	_, err := h.service.Create(context.Background(), req, customer)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)

	rules := map[string]bool{}
	for _, v := range verr.Violations {
		rules[v.Field+"/"+v.Rule] = true
	}
	assert.True(t, rules["OrderNo/required"], "violations: %v", verr.Violations)
	assert.True(t, rules["RequestedAmount/lte_paid"], "violations: %v", verr.Violations)
	assert.Empty(t, h.publisher.Types(), "nothing is published for a rejected application")
}

func TestCreateFailsWhenCatalogUnavailable(t *testing.T) {
	h := newHarness(t)
	h.catalog.err = assert.AnError

	_, err := h.service.Create(context.Background(), refundRequest(domain.TypeRefundOnly, 10), customer)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestCreateAutoApproval(t *testing.T) {
	h := newHarness(t, withAutoApproval())

	merchant := h.create(t, refundRequest(domain.TypeRefundOnly, 250))
	assert.Equal(t, domain.StateApproved, merchant.State)
	assert.True(t, merchant.ApprovedAmount.Equal(decimal.NewFromInt(250)))
	assert.Equal(t, []domain.AuditAction{domain.AuditCaseCreated, domain.AuditAutoApproved}, h.history(t, merchant.ID))

	small := refundRequest(domain.TypeRefundOnly, 150)
	small.Reason = domain.ReasonNoLongerWanted
	assert.Equal(t, domain.StateApproved, h.create(t, small).State)

	large := refundRequest(domain.TypeRefundOnly, 250)
	large.Reason = domain.ReasonNoLongerWanted
	assert.Equal(t, domain.StatePendingApproval, h.create(t, large).State)

	other := refundRequest(domain.TypeRefundOnly, 10)
	other.Reason = domain.ReasonOther
	assert.Equal(t, domain.StatePendingApproval, h.create(t, other).State)

	assert.Contains(t, h.publisher.Types(), domain.EventProcessingStarted)
}

func TestReturnRefundHappyPath(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.create(t, refundRequest(domain.TypeReturnRefund, 200))

	c = h.perform(t, c.ID, domain.ActionApprove, domain.ActionRequestReturn)
	assert.Equal(t, domain.StatePendingReturn, c.State)
	assert.Equal(t, []domain.Action{domain.ActionSubmitReturn, domain.ActionCancel, domain.ActionAnnotate}, c.AllowedActions())

	c, err := h.service.SubmitReturnShipment(ctx, c.ID, &application.ShipmentRequest{Carrier: "SF", TrackingNo: "SF123"}, customer)
	require.NoError(t, err)
	assert.Equal(t, domain.StatePendingReceive, c.State)
	assert.Equal(t, domain.StageReceive, c.Stage)

	c = h.perform(t, c.ID, domain.ActionConfirmReceipt)
	assert.Equal(t, domain.StatePendingRefund, c.State)
	rs, err := h.store.Satellites().GetReturnShipment(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ReturnReceived, rs.Status)
	assert.Equal(t, "SF123", rs.TrackingNo)

	exec, err := h.service.ExecuteRefund(ctx, c.ID, operator)
	require.NoError(t, err)
	assert.Equal(t, domain.RefundSuccess, exec.Status)
	assert.True(t, exec.Amount.Equal(decimal.NewFromInt(200)))
	require.Len(t, h.refunds.calls, 1)
	assert.Equal(t, c.ReferenceNo, h.refunds.calls[0].ReferenceNo)

	final, err := h.service.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateCompleted, final.State)
	assert.Equal(t, domain.StageComplete, final.Stage)
	assert.Nil(t, final.DeadlineAt)

	assert.Equal(t, []domain.AuditAction{
		domain.AuditCaseCreated,
		domain.AuditStateTransition, // approve
		domain.AuditStateTransition, // request return
		domain.AuditStateTransition, // submit return
		domain.AuditStateTransition, // confirm receipt
		domain.AuditRefundAttempted,
		domain.AuditStateTransition, // refund
	}, h.history(t, c.ID))
	assert.Contains(t, h.publisher.Types(), domain.EventCaseCompleted)
}

func TestExchangeFlowAndReplacement(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := refundRequest(domain.TypeExchange, 0)
	c := h.create(t, req)

	c = h.perform(t, c.ID, domain.ActionApprove, domain.ActionRequestReturn)
	_, err := h.service.ShipReplacement(ctx, c.ID, &application.ShipmentRequest{Carrier: "YTO", TrackingNo: "Y1"}, operator)
	assert.ErrorIs(t, err, domain.ErrSatelliteNotFound)

	_, err = h.service.SubmitReturnShipment(ctx, c.ID, &application.ShipmentRequest{Carrier: "SF", TrackingNo: "SF9"}, customer)
	require.NoError(t, err)
	c = h.perform(t, c.ID, domain.ActionConfirmReceipt)
	assert.Equal(t, domain.StateCompleted, c.State)

	es, err := h.service.ShipReplacement(ctx, c.ID, &application.ShipmentRequest{Carrier: "YTO", TrackingNo: "Y1"}, operator)
	require.NoError(t, err)
	assert.Equal(t, domain.ExchangeReshipped, es.Status)
	assert.Equal(t, "SF9", es.ReturnTrackingNo)
	assert.Equal(t, "Y1", es.ReshipTrackingNo)

	refund := h.create(t, refundRequest(domain.TypeRefundOnly, 10))
	_, err = h.service.ShipReplacement(ctx, refund.ID, &application.ShipmentRequest{Carrier: "YTO", TrackingNo: "Y2"}, operator)
	assert.ErrorIs(t, err, domain.ErrSatelliteMismatch)
}

func TestIllegalActionLeavesNoTrace(t *testing.T) {
	h := newHarness(t)
	c := h.create(t, refundRequest(domain.TypeRefundOnly, 50))

	_, err := h.service.Perform(context.Background(), c.ID, domain.ActionConfirmReceipt, "", operator)
	var illegal *domain.IllegalTransitionError
	require.ErrorAs(t, err, &illegal)

	stored, err := h.service.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Version, stored.Version)
	assert.Equal(t, []domain.AuditAction{domain.AuditCaseCreated}, h.history(t, c.ID))
}

func TestPerformRejectsActionsWithPayload(t *testing.T) {
	h := newHarness(t)
	c := h.create(t, refundRequest(domain.TypeReturnRefund, 50))
	for _, a := range []domain.Action{domain.ActionSubmitReturn, domain.ActionRefund, domain.ActionModifyAmount} {
		_, err := h.service.Perform(context.Background(), c.ID, a, "", operator)
		assert.ErrorIs(t, err, domain.ErrActionNeedsPayload, "action %s", a)
	}
}

func TestPerformUnknownCase(t *testing.T) {
	h := newHarness(t)
	_, err := h.service.Perform(context.Background(), "missing", domain.ActionApprove, "", operator)
	assert.ErrorIs(t, err, domain.ErrCaseNotFound)
	_, err = h.service.History(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrCaseNotFound)
}

func TestModifyAmount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.create(t, refundRequest(domain.TypeRefundOnly, 100))

	_, err := h.service.ModifyAmount(ctx, c.ID, &application.ModifyAmountRequest{ActualAmount: decimal.NewFromInt(101)}, operator)
	assert.ErrorIs(t, err, domain.ErrAmountCapExceeded)

	c, err = h.service.ModifyAmount(ctx, c.ID, &application.ModifyAmountRequest{ActualAmount: decimal.NewFromInt(80), Reason: "partial damage"}, operator)
	require.NoError(t, err)
	assert.True(t, c.AmountModified)

	entries, err := h.service.History(ctx, c.ID)
	require.NoError(t, err)
	last := entries[len(entries)-1]
	assert.Equal(t, domain.AuditAmountModified, last.Action)
	assert.Equal(t, "100", last.Context["oldAmount"])
	assert.Equal(t, "80", last.Context["newAmount"])
}

func TestConcurrentAmountModificationsStayCapped(t *testing.T) {
	h := newHarness(t)
	c := h.create(t, refundRequest(domain.TypeRefundOnly, 100))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(amount int64) {
			defer wg.Done()
			_, _ = h.service.ModifyAmount(context.Background(), c.ID, &application.ModifyAmountRequest{ActualAmount: decimal.NewFromInt(amount)}, operator)
		}(int64(90 + i))
	}
	wg.Wait()

	final, err := h.service.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.True(t, final.ActualAmount.LessThanOrEqual(final.RequestedAmount), "actual %s", final.ActualAmount)

	var modified int
	for _, a := range h.history(t, c.ID) {
		if a == domain.AuditAmountModified {
			modified++
		}
	}
	assert.Equal(t, 11, modified, "amounts 90..100 succeed, 101..109 exceed the cap")
	assert.Equal(t, int64(11), final.Version)
}

func TestFourthModificationIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.create(t, refundRequest(domain.TypeRefundOnly, 100))

	for i := 1; i <= domain.MaxModifications; i++ {
		desc := "revision " + string(rune('0'+i))
		var err error
		c, err = h.service.ModifyApplication(ctx, c.ID, &application.ModifyApplicationRequest{Description: &desc}, customer)
		require.NoError(t, err)
		assert.Equal(t, i, c.ModificationCount)
	}

	desc := "one more"
	_, err := h.service.ModifyApplication(ctx, c.ID, &application.ModifyApplicationRequest{Description: &desc}, customer)
	assert.ErrorIs(t, err, domain.ErrModificationCapExceeded)

	stored, err := h.service.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MaxModifications, stored.ModificationCount)
	assert.True(t, application.NewCaseView(stored).NeedsIntervention)
	assert.Equal(t, "revision 3", stored.Description)
}

func TestModifyApplicationRerunsAutoApproval(t *testing.T) {
	h := newHarness(t, withAutoApproval())
	ctx := context.Background()
	req := refundRequest(domain.TypeRefundOnly, 250)
	req.Reason = domain.ReasonNoLongerWanted
	c := h.create(t, req)
	require.Equal(t, domain.StatePendingApproval, c.State)

	amount := decimal.NewFromInt(120)
	c, err := h.service.ModifyApplication(ctx, c.ID, &application.ModifyApplicationRequest{RequestedAmount: &amount}, customer)
	require.NoError(t, err)
	assert.Equal(t, domain.StateApproved, c.State)
	assert.True(t, c.ApprovedAmount.Equal(amount))
}

func TestResubmitAfterRejection(t *testing.T) {
	h := newHarness(t)
	c := h.create(t, refundRequest(domain.TypeRefundOnly, 100))
	c = h.perform(t, c.ID, domain.ActionReject, domain.ActionResubmit)

	assert.Equal(t, domain.StatePendingApproval, c.State)
	assert.Equal(t, domain.StageAudit, c.Stage, "stage never moves backwards")
	assert.Equal(t, 1, c.ModificationCount)
	require.NotNil(t, c.DeadlineAt)
}

func TestRefundRetryBound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.refunds.results = []port.RefundResult{{Success: false, Message: "insufficient merchant balance"}}
	c := h.create(t, refundRequest(domain.TypeRefundOnly, 60))
	h.perform(t, c.ID, domain.ActionApprove, domain.ActionRequestRefund)

	for i := 1; i <= domain.MaxRefundRetries; i++ {
		exec, err := h.service.ExecuteRefund(ctx, c.ID, operator)
		require.NoError(t, err)
		assert.Equal(t, domain.RefundFailed, exec.Status)
		assert.Equal(t, i, exec.RetryCount)
		assert.Equal(t, "insufficient merchant balance", exec.LastError)
	}

	_, err := h.service.ExecuteRefund(ctx, c.ID, operator)
	assert.ErrorIs(t, err, domain.ErrRefundNotRetryable)
	assert.Len(t, h.refunds.calls, domain.MaxRefundRetries)

	keys := map[string]bool{}
	for _, call := range h.refunds.calls {
		keys[call.IdempotencyKey] = true
	}
	assert.Len(t, keys, domain.MaxRefundRetries, "each attempt carries its own idempotency key")

	stored, err := h.service.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatePendingRefund, stored.State)
}

func TestRefundSucceedsAfterFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.refunds.results = []port.RefundResult{{Success: false, Message: "timeout"}, {Success: true, TxnID: "TXN-2"}}
	h.refunds.errs = []error{assert.AnError, nil}
	c := h.create(t, refundRequest(domain.TypeRefundOnly, 60))
	h.perform(t, c.ID, domain.ActionApprove, domain.ActionRequestRefund)

	exec, err := h.service.ExecuteRefund(ctx, c.ID, operator)
	require.NoError(t, err, "gateway errors are recorded, not returned")
	assert.Equal(t, domain.RefundFailed, exec.Status)
	assert.Equal(t, assert.AnError.Error(), exec.LastError)

	exec, err = h.service.ExecuteRefund(ctx, c.ID, operator)
	require.NoError(t, err)
	assert.Equal(t, domain.RefundSuccess, exec.Status)
	assert.Equal(t, "TXN-2", exec.GatewayTxnID)

	_, err = h.service.ExecuteRefund(ctx, c.ID, operator)
	var illegal *domain.IllegalTransitionError
	assert.ErrorAs(t, err, &illegal, "completed case cannot be refunded again")
}

func TestExecuteRefundOnExchangeIsIllegal(t *testing.T) {
	h := newHarness(t)
	c := h.create(t, refundRequest(domain.TypeExchange, 0))
	_, err := h.service.ExecuteRefund(context.Background(), c.ID, operator)
	var illegal *domain.IllegalTransitionError
	assert.ErrorAs(t, err, &illegal)
	assert.Empty(t, h.refunds.calls)
}

func TestAnnotate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	c := h.create(t, refundRequest(domain.TypeRefundOnly, 30))
	c = h.perform(t, c.ID, domain.ActionCancel)
	require.True(t, c.State.IsTerminal())

	c, err := h.service.Annotate(ctx, c.ID, &application.AnnotateRequest{Note: "customer called"}, operator)
	require.NoError(t, err)
	c, err = h.service.Annotate(ctx, c.ID, &application.AnnotateRequest{Note: "follow up", Service: true}, operator)
	require.NoError(t, err)
	assert.Equal(t, "customer called", c.AuditNote)
	assert.Equal(t, "follow up", c.ServiceNote)
	assert.Equal(t, domain.StateCancelled, c.State)

	_, err = h.service.Annotate(ctx, c.ID, &application.AnnotateRequest{}, operator)
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestSubmitReturnShipmentValidation(t *testing.T) {
	h := newHarness(t)
	c := h.create(t, refundRequest(domain.TypeReturnRefund, 30))
	_, err := h.service.SubmitReturnShipment(context.Background(), c.ID, &application.ShipmentRequest{}, customer)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Violations, 2)

	_, err = h.service.SubmitReturnShipment(context.Background(), c.ID, &application.ShipmentRequest{Carrier: "SF", TrackingNo: "1"}, customer)
	var illegal *domain.IllegalTransitionError
	assert.ErrorAs(t, err, &illegal, "case is still pending approval")
}

func TestPurgeAudit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	old := h.create(t, refundRequest(domain.TypeRefundOnly, 10))
	h.clock.Advance(400 * 24 * time.Hour)
	recent := h.create(t, refundRequest(domain.TypeRefundOnly, 10))

	n, err := h.service.PurgeAudit(ctx, 365*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Empty(t, h.history(t, old.ID))
	assert.Len(t, h.history(t, recent.ID), 1)

	n, err = h.service.PurgeAudit(ctx, 0)
	require.NoError(t, err)
	assert.Zero(t, n, "zero retention keeps everything")
}
