package shopify

import "encoding/json"

// productListing is a page of /products.json, only the handles are used.
type productListing struct {
	Products []struct {
		Handle string `json:"handle"`
	} `json:"products"`
}

// product is the payload of /products/<handle>.js
type product struct {
	ID       json.Number `json:"id"`
	Title    string      `json:"title"`
	Handle   string      `json:"handle"`
	Variants []variant   `json:"variants"`
}

type variant struct {
	ID                json.Number `json:"id"`
	Title             *string     `json:"title"`
	Name              *string     `json:"name"`
	Available         *bool       `json:"available"`
	InventoryQuantity *int        `json:"inventory_quantity"`
}
