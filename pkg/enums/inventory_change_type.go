package enums

import "fmt"

// InventoryChangeType classifies why a product's stock moved.
type InventoryChangeType string

const (
	InventoryChangeManualAdjustment InventoryChangeType = "MANUAL_ADJUSTMENT"
	InventoryChangeRestock          InventoryChangeType = "RESTOCK"
	InventoryChangeDamaged          InventoryChangeType = "DAMAGED"
	InventoryChangeOrderPlaced      InventoryChangeType = "ORDER_PLACED"
	InventoryChangeOrderReturned    InventoryChangeType = "ORDER_RETURNED"
	InventoryChangeInitial          InventoryChangeType = "INITIAL"
	InventoryChangeOther            InventoryChangeType = "OTHER"
)

var validInventoryChangeTypes = []InventoryChangeType{
	InventoryChangeManualAdjustment,
	InventoryChangeRestock,
	InventoryChangeDamaged,
	InventoryChangeOrderPlaced,
	InventoryChangeOrderReturned,
	InventoryChangeInitial,
	InventoryChangeOther,
}

// String implements fmt.Stringer.
func (t InventoryChangeType) String() string {
	return string(t)
}

// IsValid reports whether the value matches a known change type.
func (t InventoryChangeType) IsValid() bool {
	for _, candidate := range validInventoryChangeTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// IsReservation reports whether the type is reserved for order-driven movements.
func (t InventoryChangeType) IsReservation() bool {
	return t == InventoryChangeOrderPlaced || t == InventoryChangeOrderReturned
}

// ParseInventoryChangeType converts raw input into an InventoryChangeType.
func ParseInventoryChangeType(value string) (InventoryChangeType, error) {
	for _, candidate := range validInventoryChangeTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid inventory change type %q", value)
}
