package enums

// OutboxEventType names the domain events emitted through the outbox.
type OutboxEventType string

const (
	EventSessionCreated   OutboxEventType = "checkout_session.created"
	EventSessionExpired   OutboxEventType = "checkout_session.expired"
	EventSessionCancelled OutboxEventType = "checkout_session.cancelled"
	EventPaymentCompleted OutboxEventType = "payment.completed"
	EventPaymentFailed    OutboxEventType = "payment.failed"
	EventOrderCreated     OutboxEventType = "order.created"
	EventOrderApproved    OutboxEventType = "order.approved"
	EventOrderCancelled   OutboxEventType = "order.cancelled"
	EventShipmentUpdated  OutboxEventType = "shipment.updated"
	EventReturnRequested  OutboxEventType = "order.return_requested"
	EventRefundCreated    OutboxEventType = "refund.created"
	EventRefundCompleted  OutboxEventType = "refund.completed"
	EventRefundFailed     OutboxEventType = "refund.failed"
)

// OutboxAggregateType names the aggregate an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateCheckoutSession OutboxAggregateType = "checkout_session"
	AggregateOrder           OutboxAggregateType = "order"
	AggregatePayment         OutboxAggregateType = "payment"
	AggregateShipment        OutboxAggregateType = "shipment"
	AggregateRefund          OutboxAggregateType = "refund"
)
