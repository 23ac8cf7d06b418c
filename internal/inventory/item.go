package inventory

import (
	"fmt"
	"strings"
)

const (
	// UnknownTitle replaces titles that carry no meaning.
	UnknownTitle = "Unknown Product Name"
	// placeholderTitle is what storefronts name the only variant of a product
	// that has no options.
	placeholderTitle = "Default Title"
)

// Item is a single trackable product variant.
type Item struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Available bool   `json:"available"`
	Quantity  int    `json:"quantity"`
	// QuantityMissing is set when the source did not report a quantity, Quantity
	// is 0 in that case.
	QuantityMissing bool `json:"quantity_missing,omitempty"`
	// Site is the human viewable link to the product page.
	Site string `json:"site"`
	// Source is the tracked storefront URL this item was polled from.
	Source string `json:"source"`
}

// Key identifies the timeline of one tracked item.
type Key struct {
	Site string
	ID   string
}

func (k Key) String() string {
	return fmt.Sprintf("%s#%s", k.Site, k.ID)
}

func (i Item) Key() Key {
	return Key{Site: i.Site, ID: i.ID}
}

// ResolveTitle prefers the display name, then the generic title, then
// UnknownTitle.
func ResolveTitle(name, title string) string {
	for _, candidate := range []string{name, title} {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" || candidate == placeholderTitle {
			continue
		}
		return candidate
	}
	return UnknownTitle
}
