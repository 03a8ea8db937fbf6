// Package storage provides the product store over the retailer tables.
package storage

import (
	"database/sql"
	"strconv"
)

// Product is one catalog row as returned to clients.
type Product struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	ImageURL    string  `json:"image_url"`
	ProductLink string  `json:"product_link"`
	Category    string  `json:"category"`
	Source      string  `json:"source"`
	Key         string  `json:"key"`
}

// ProductKey is the cross-source identity of a product: ids are only unique
// within one retailer table.
func ProductKey(source string, id int64) string {
	return source + ":" + strconv.FormatInt(id, 10)
}

// Candidate is a product with its stored, still serialized, feature vector.
type Candidate struct {
	Product
	RawVector string
}

// PendingImage is a product that has an image but no feature vector yet.
type PendingImage struct {
	ID       int64
	ImageURL string
}

// productRow holds nullable scan targets for one product row.
type productRow struct {
	id          int64
	name        sql.NullString
	price       sql.NullFloat64
	imageURL    sql.NullString
	productLink sql.NullString
	category    sql.NullString
}

func (r *productRow) targets() []any {
	return []any{&r.id, &r.name, &r.price, &r.imageURL, &r.productLink, &r.category}
}

func (r *productRow) product(source string) Product {
	return Product{
		ID:          r.id,
		Name:        r.name.String,
		Price:       r.price.Float64,
		ImageURL:    r.imageURL.String,
		ProductLink: r.productLink.String,
		Category:    r.category.String,
		Source:      source,
		Key:         ProductKey(source, r.id),
	}
}
