package render

import (
	"errors"
	"fmt"
	"strconv"

	"stockwatch/internal/inventory"
)

var (
	// ErrNotRenderable is returned for False_Positive events, they never
	// produce a message.
	ErrNotRenderable = fmt.Errorf("%w: event is not renderable", inventory.ErrUnsupportedEventKind)
	ErrMissingImage  = errors.New("event is missing an item image")
)

const unknownCount = "unknown number of"

func quantity(item inventory.Item) string {
	if item.QuantityMissing {
		return "unknown"
	}
	return strconv.Itoa(item.Quantity)
}

// Render turns an event into a single line of markdown, the link always
// points at the item's product page.
func Render(event inventory.Event) (string, error) {
	switch event.Kind {
	case inventory.EventFalsePositive:
		return "", ErrNotRenderable
	case inventory.EventNewInventory,
		inventory.EventAvailableToNotAvailable,
		inventory.EventNotAvailableToAvailable,
		inventory.EventStatusUpdate:
		if event.After == nil {
			return "", fmt.Errorf("%s: %w", event.Kind, ErrMissingImage)
		}
	case inventory.EventQuantityChanged:
		if event.After == nil || event.Before == nil {
			return "", fmt.Errorf("%s: %w", event.Kind, ErrMissingImage)
		}
	case inventory.EventItemRemoved:
		if event.Before == nil {
			return "", fmt.Errorf("%s: %w", event.Kind, ErrMissingImage)
		}
	default:
		return "", fmt.Errorf("%w: %s", inventory.ErrUnsupportedEventKind, event.Kind)
	}

	switch event.Kind {
	case inventory.EventNewInventory:
		after := event.After
		return fmt.Sprintf(
			"New product posted 🚨 %s (Qty %s) - [LINK](%s)",
			after.Title, quantity(*after), after.Site,
		), nil
	case inventory.EventAvailableToNotAvailable:
		after := event.After
		return fmt.Sprintf(
			"Product %s is no longer available...☹️ [LINK](%s)",
			after.Title, after.Site,
		), nil
	case inventory.EventNotAvailableToAvailable:
		after := event.After
		count := unknownCount
		if !after.QuantityMissing && after.Quantity > 0 {
			count = strconv.Itoa(after.Quantity)
		}
		return fmt.Sprintf(
			"Product %s is available! 🥳 (%s units available) - [BUY HERE](%s)",
			after.Title, count, after.Site,
		), nil
	case inventory.EventQuantityChanged:
		before, after := event.Before, event.After
		if before.QuantityMissing || after.QuantityMissing {
			return fmt.Sprintf(
				"Product %s quantity changed - [BUY HERE](%s)",
				after.Title, after.Site,
			), nil
		}
		return fmt.Sprintf(
			"Product %s quantity changed from %d to %d - [BUY HERE](%s)",
			after.Title, before.Quantity, after.Quantity, after.Site,
		), nil
	case inventory.EventItemRemoved:
		before := event.Before
		return fmt.Sprintf(
			"Product %s has been removed from the store...☹️ [LINK](%s)",
			before.Title, before.Site,
		), nil
	case inventory.EventStatusUpdate:
		after := event.After
		return fmt.Sprintf(
			"Status Check: PRODUCT %s | AVAILABLE: %t | QUANTITY: %s | [Link](%s)",
			after.Title, after.Available, quantity(*after), after.Site,
		), nil
	}

	// unreachable, every kind is handled above
	return "", fmt.Errorf("%w: %s", inventory.ErrUnsupportedEventKind, event.Kind)
}
