package enums

import "fmt"

// RefundStatus tracks the lifecycle of a refund.
type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusCompleted RefundStatus = "completed"
	RefundStatusFailed    RefundStatus = "failed"
)

var validRefundStatuses = []RefundStatus{
	RefundStatusPending,
	RefundStatusCompleted,
	RefundStatusFailed,
}

// String implements fmt.Stringer.
func (r RefundStatus) String() string {
	return string(r)
}

// IsValid reports whether the value is a known RefundStatus.
func (r RefundStatus) IsValid() bool {
	for _, candidate := range validRefundStatuses {
		if candidate == r {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is permitted.
func (r RefundStatus) IsTerminal() bool {
	return r == RefundStatusCompleted || r == RefundStatusFailed
}

// ParseRefundStatus converts raw input into a RefundStatus.
func ParseRefundStatus(value string) (RefundStatus, error) {
	for _, candidate := range validRefundStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid refund status %q", value)
}

// RefundStatusFromGateway maps the gateway's refund vocabulary onto the
// internal set; unrecognized values stay pending.
func RefundStatusFromGateway(value string) RefundStatus {
	switch value {
	case "SUCCESS", "PROCESSED":
		return RefundStatusCompleted
	case "FAILED", "CANCELLED":
		return RefundStatusFailed
	default:
		return RefundStatusPending
	}
}
