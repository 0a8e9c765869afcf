package enums

// OutboxAggregateType is the aggregate_type column of outbox_events.
type OutboxAggregateType string

const (
	AggregateOrder   OutboxAggregateType = "order"
	AggregateProduct OutboxAggregateType = "product"
)

func (a OutboxAggregateType) IsValid() bool {
	return a == AggregateOrder || a == AggregateProduct
}

// OutboxEventType is the event_type column of outbox_events.
type OutboxEventType string

const (
	EventOrderCreated       OutboxEventType = "order_created"
	EventOrderStatusChanged OutboxEventType = "order_status_changed"
	EventLowStockReached    OutboxEventType = "low_stock_reached"
)

// eventAggregates fixes the aggregate every event type is recorded against.
var eventAggregates = map[OutboxEventType]OutboxAggregateType{
	EventOrderCreated:       AggregateOrder,
	EventOrderStatusChanged: AggregateOrder,
	EventLowStockReached:    AggregateProduct,
}

func (e OutboxEventType) IsValid() bool {
	_, ok := eventAggregates[e]
	return ok
}

// Aggregate returns the aggregate type the event belongs to, or "" for an
// unknown event type.
func (e OutboxEventType) Aggregate() OutboxAggregateType {
	return eventAggregates[e]
}

// OutboxDLQErrorReason is why an event was moved to outbox_dlq.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

func (r OutboxDLQErrorReason) IsValid() bool {
	return r == OutboxDLQReasonMaxAttempts || r == OutboxDLQReasonNonRetryable
}
