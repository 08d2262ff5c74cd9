package enums

import "fmt"

// ShipmentStatus is the internal shipment state derived from provider events.
type ShipmentStatus string

const (
	ShipmentStatusCreated         ShipmentStatus = "created"
	ShipmentStatusPickupScheduled ShipmentStatus = "pickup_scheduled"
	ShipmentStatusInTransit       ShipmentStatus = "in_transit"
	ShipmentStatusDelivered       ShipmentStatus = "delivered"
	ShipmentStatusCancelled       ShipmentStatus = "cancelled"
	ShipmentStatusReturnInitiated ShipmentStatus = "return_initiated"
)

var validShipmentStatuses = []ShipmentStatus{
	ShipmentStatusCreated,
	ShipmentStatusPickupScheduled,
	ShipmentStatusInTransit,
	ShipmentStatusDelivered,
	ShipmentStatusCancelled,
	ShipmentStatusReturnInitiated,
}

// shipmentStatusRanks orders statuses so webhook reconciliation can drop
// stale or duplicate deliveries: a transition is applied only when the
// incoming rank is strictly greater than the stored rank. cancelled and
// return_initiated sit above delivered because they terminate the flow.
var shipmentStatusRanks = map[ShipmentStatus]int{
	ShipmentStatusCreated:         0,
	ShipmentStatusPickupScheduled: 1,
	ShipmentStatusInTransit:       2,
	ShipmentStatusDelivered:       3,
	ShipmentStatusCancelled:       4,
	ShipmentStatusReturnInitiated: 4,
}

// providerStatusCodes maps the shipment provider's numeric status codes onto
// the internal enumeration. Unlisted codes map to the non-terminal default so
// new provider statuses never break reconciliation.
var providerStatusCodes = map[int]ShipmentStatus{
	1:  ShipmentStatusCreated,
	3:  ShipmentStatusPickupScheduled,
	4:  ShipmentStatusPickupScheduled,
	6:  ShipmentStatusInTransit,
	17: ShipmentStatusInTransit,
	7:  ShipmentStatusDelivered,
	8:  ShipmentStatusCancelled,
	9:  ShipmentStatusReturnInitiated,
	10: ShipmentStatusReturnInitiated,
}

// String implements fmt.Stringer.
func (s ShipmentStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known ShipmentStatus.
func (s ShipmentStatus) IsValid() bool {
	for _, candidate := range validShipmentStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// Rank returns the monotonic ordering position used by webhook reconciliation.
func (s ShipmentStatus) Rank() int {
	if rank, ok := shipmentStatusRanks[s]; ok {
		return rank
	}
	return 0
}

// ParseShipmentStatus converts raw input into a ShipmentStatus.
func ParseShipmentStatus(value string) (ShipmentStatus, error) {
	for _, candidate := range validShipmentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid shipment status %q", value)
}

// ShipmentStatusFromProviderCode resolves a provider status code. The second
// return reports whether the code was recognized; unrecognized codes resolve
// to the non-terminal created state.
func ShipmentStatusFromProviderCode(code int) (ShipmentStatus, bool) {
	if status, ok := providerStatusCodes[code]; ok {
		return status, true
	}
	return ShipmentStatusCreated, false
}
