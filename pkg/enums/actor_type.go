package enums

import "fmt"

// ActorType identifies who requested an order status change.
type ActorType string

const (
	ActorTypeCustomer  ActorType = "customer"
	ActorTypeOperator  ActorType = "operator"
	ActorTypeWebhook   ActorType = "webhook"
	ActorTypeScheduler ActorType = "scheduler"
	ActorTypeSystem    ActorType = "system"
)

var validActorTypes = []ActorType{
	ActorTypeCustomer,
	ActorTypeOperator,
	ActorTypeWebhook,
	ActorTypeScheduler,
	ActorTypeSystem,
}

func (a ActorType) String() string {
	return string(a)
}

func (a ActorType) IsValid() bool {
	for _, candidate := range validActorTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseActorType converts raw input into an ActorType.
func ParseActorType(value string) (ActorType, error) {
	for _, candidate := range validActorTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid actor type %q", value)
}
