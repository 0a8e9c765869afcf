package lifecycle

import "github.com/angelmondragon/storefront-backend/pkg/enums"

var transitions = map[enums.OrderStatus][]enums.OrderStatus{
	enums.OrderStatusPending:    {enums.OrderStatusProcessing, enums.OrderStatusCancelled, enums.OrderStatusRefunded},
	enums.OrderStatusProcessing: {enums.OrderStatusShipped, enums.OrderStatusCancelled, enums.OrderStatusRefunded},
	enums.OrderStatusShipped:    {enums.OrderStatusDelivered, enums.OrderStatusRefunded},
}

// AllowedTransitions lists the statuses reachable from status in one step.
// Terminal statuses return an empty slice.
func AllowedTransitions(status enums.OrderStatus) []enums.OrderStatus {
	next := transitions[status]
	out := make([]enums.OrderStatus, len(next))
	copy(out, next)
	return out
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to enums.OrderStatus) bool {
	for _, candidate := range transitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves status.
func IsTerminal(status enums.OrderStatus) bool {
	return status.IsValid() && len(transitions[status]) == 0
}

// releasesInventory reports whether entering status returns reserved stock.
func releasesInventory(status enums.OrderStatus) bool {
	return status == enums.OrderStatusCancelled || status == enums.OrderStatusRefunded
}
