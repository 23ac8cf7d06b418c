package detector

import "stockwatch/internal/inventory"

// Classify compares the previous snapshot of an item (nil if the item was
// never seen) with its current state. The first matching rule wins:
//
//  1. no previous snapshot: New_Inventory
//  2. available -> not available: Available_to_Not_Available
//  3. not available -> available: Not_Available_to_Available, a quantity
//     change in the same poll is folded into the restock
//  4. same availability, different quantity: Quantity_Changed
//  5. anything else: False_Positive
//
// A quantity the source did not report is never a change, it only counts
// when the current poll has one and the previous snapshot had none or a
// different one.
func Classify(previous *inventory.Item, current inventory.Item) inventory.Event {
	after := current
	if previous == nil {
		return inventory.Event{Kind: inventory.EventNewInventory, After: &after}
	}
	before := *previous

	kind := inventory.EventFalsePositive
	switch {
	case before.Available && !current.Available:
		kind = inventory.EventAvailableToNotAvailable
	case !before.Available && current.Available:
		kind = inventory.EventNotAvailableToAvailable
	case quantityChanged(before, current):
		kind = inventory.EventQuantityChanged
	}
	return inventory.Event{Kind: kind, Before: &before, After: &after}
}

func quantityChanged(before, current inventory.Item) bool {
	if current.QuantityMissing {
		return false
	}
	previous := before.Quantity
	// an omitted count is stored as 0
	if before.QuantityMissing {
		previous = 0
	}
	return previous != current.Quantity
}
