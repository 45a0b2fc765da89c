package domain

import "time"

// DeadlinePolicy 定义每个状态的处理时限，零值表示该状态不设时限
type DeadlinePolicy struct {
	PendingApproval time.Duration `yaml:"pending_approval"`
	PendingReturn   time.Duration `yaml:"pending_return"`
	PendingReceive  time.Duration `yaml:"pending_receive"`
}

func DefaultDeadlinePolicy() DeadlinePolicy {
	return DeadlinePolicy{
		PendingApproval: 72 * time.Hour,
		PendingReturn:   7 * 24 * time.Hour,
		PendingReceive:  72 * time.Hour,
	}
}

// DeadlineFor 计算进入 state 时的截止时间
func (p DeadlinePolicy) DeadlineFor(state State, t CaseType, now time.Time) *time.Time {
	var d time.Duration
	switch state {
	case StatePendingApproval:
		d = p.PendingApproval
	case StatePendingReturn:
		if t.RequiresShipment() {
			d = p.PendingReturn
		}
	case StatePendingReceive:
		d = p.PendingReceive
	}
	if d <= 0 {
		return nil
	}
	deadline := now.Add(d)
	return &deadline
}

// TimedStates 是超时扫描关心的状态
var TimedStates = []State{StatePendingApproval, StatePendingReturn, StatePendingReceive}
