package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/spherical-ai/spherical/libs/fashion-engine/internal/catalog"
)

// EnsureSchema creates any missing retailer table with the columns the store
// reads. Used for local SQLite databases and tests; production tables are
// owned by the scrapers.
func EnsureSchema(ctx context.Context, db *sql.DB, composer *catalog.Composer) error {
	for _, src := range composer.Whitelist().Sources() {
		table, err := composer.Table(src)
		if err != nil {
			return err
		}
		stmt := "CREATE TABLE IF NOT EXISTS " + table + ` (
			id BIGINT PRIMARY KEY,
			name TEXT,
			price NUMERIC,
			image_url TEXT,
			product_link TEXT,
			category TEXT,
			feature_vector TEXT
		)`
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create table %s: %w", src, err)
		}
	}
	return nil
}

// InsertProduct writes one product row. rawVector may be nil.
func InsertProduct(ctx context.Context, db *sql.DB, composer *catalog.Composer, p Product, rawVector *string) error {
	table, err := composer.Table(p.Source)
	if err != nil {
		return err
	}
	var vec any
	if rawVector != nil {
		vec = *rawVector
	}
	_, err = db.ExecContext(ctx,
		"INSERT INTO "+table+" (id, name, price, image_url, product_link, category, feature_vector) VALUES ($1, $2, $3, $4, $5, $6, $7)",
		p.ID, p.Name, p.Price, p.ImageURL, p.ProductLink, p.Category, vec,
	)
	if err != nil {
		return fmt.Errorf("insert %s: %w", ProductKey(p.Source, p.ID), err)
	}
	return nil
}
