package shopify

import (
	"fmt"
	"regexp"

	"stockwatch/internal/inventory"
)

// matches file extensions like '.js', '.json' or '.html'
var fileExtensionRegex = regexp.MustCompile(`\.[^/.]+$`)

// productLink strips the machine readable extension from a product endpoint
// so the link opens the product page.
func productLink(endpoint string) string {
	return fileExtensionRegex.ReplaceAllString(endpoint, "")
}

func deref[T any](value *T) T {
	var zero T
	if value == nil {
		return zero
	}
	return *value
}

// normalizeVariant returns false for variants without a title field, those
// are not items. A variant without an id is malformed.
func normalizeVariant(v variant, link string) (inventory.Item, bool, error) {
	if v.Title == nil {
		return inventory.Item{}, false, nil
	}
	if v.ID.String() == "" {
		return inventory.Item{}, false, fmt.Errorf(
			"%w: variant %q of %s has no id",
			inventory.ErrMalformedUpstreamItem, *v.Title, link,
		)
	}

	item := inventory.Item{
		ID:        v.ID.String(),
		Title:     inventory.ResolveTitle(deref(v.Name), *v.Title),
		Available: deref(v.Available),
		Site:      link,
	}
	if v.InventoryQuantity == nil {
		item.QuantityMissing = true
	} else {
		// oversold variants report a negative count
		item.Quantity = max(*v.InventoryQuantity, 0)
	}
	return item, true, nil
}

// normalizeProduct converts every usable variant, malformed variants are
// returned as errors alongside the items that could be converted.
func normalizeProduct(p product, link string) ([]inventory.Item, []error) {
	var (
		items []inventory.Item
		errs  []error
	)
	for _, v := range p.Variants {
		item, ok, err := normalizeVariant(v, link)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			items = append(items, item)
		}
	}
	return items, errs
}
