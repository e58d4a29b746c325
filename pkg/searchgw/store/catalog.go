package store

import (
	"context"

	"github.com/kasioon/searchgw/pkg/searchgw/model"
)

// The Catalog* methods satisfy the catalog package's Loader interface.

// CatalogCategories loads the full category tree, inactive rows included;
// the index decides what to expose.
func (s *Store) CatalogCategories(ctx context.Context) ([]model.Category, error) {
	const q = `
		SELECT id, slug, name_ar, name_en, parent_id, sort_order, active
		FROM categories
		ORDER BY sort_order, id`

	var out []model.Category
	err := s.withRetry(ctx, "catalog_categories", func(ctx context.Context) error {
		rows, err := s.db.Query(ctx, q)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var c model.Category
			if err := rows.Scan(&c.ID, &c.Slug, &c.Name.Ar, &c.Name.En, &c.ParentID, &c.SortOrder, &c.Active); err != nil {
				return err
			}
			out = append(out, c)
		}
		return rows.Err()
	})
	return out, err
}

// CatalogCities loads the flat city set.
func (s *Store) CatalogCities(ctx context.Context) ([]model.City, error) {
	const q = `
		SELECT id, name_ar, name_en, COALESCE(province, '')
		FROM cities
		ORDER BY id`

	var out []model.City
	err := s.withRetry(ctx, "catalog_cities", func(ctx context.Context) error {
		rows, err := s.db.Query(ctx, q)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var c model.City
			if err := rows.Scan(&c.ID, &c.Name.Ar, &c.Name.En, &c.Province); err != nil {
				return err
			}
			out = append(out, c)
		}
		return rows.Err()
	})
	return out, err
}

// CatalogNeighborhoods loads neighborhoods with their parent city.
func (s *Store) CatalogNeighborhoods(ctx context.Context) ([]model.Neighborhood, error) {
	const q = `
		SELECT id, city_id, name_ar, name_en
		FROM neighborhoods
		ORDER BY id`

	var out []model.Neighborhood
	err := s.withRetry(ctx, "catalog_neighborhoods", func(ctx context.Context) error {
		rows, err := s.db.Query(ctx, q)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var n model.Neighborhood
			if err := rows.Scan(&n.ID, &n.CityID, &n.Name.Ar, &n.Name.En); err != nil {
				return err
			}
			out = append(out, n)
		}
		return rows.Err()
	})
	return out, err
}

// CatalogTransactionTypes loads the closed transaction-type set.
func (s *Store) CatalogTransactionTypes(ctx context.Context) ([]model.TransactionType, error) {
	const q = `
		SELECT id, slug, name_ar, name_en
		FROM transaction_types
		ORDER BY id`

	var out []model.TransactionType
	err := s.withRetry(ctx, "catalog_transaction_types", func(ctx context.Context) error {
		rows, err := s.db.Query(ctx, q)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var t model.TransactionType
			if err := rows.Scan(&t.ID, &t.Slug, &t.Name.Ar, &t.Name.En); err != nil {
				return err
			}
			out = append(out, t)
		}
		return rows.Err()
	})
	return out, err
}

// CatalogAttributes loads attribute definitions with their category scope.
func (s *Store) CatalogAttributes(ctx context.Context) ([]model.Attribute, error) {
	const q = `
		SELECT a.id, a.slug, a.name_ar, a.name_en, a.kind, COALESCE(a.unit, ''), c.slug
		FROM attributes a
		JOIN categories c ON c.id = a.category_id
		ORDER BY a.id`

	var out []model.Attribute
	err := s.withRetry(ctx, "catalog_attributes", func(ctx context.Context) error {
		rows, err := s.db.Query(ctx, q)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var a model.Attribute
			if err := rows.Scan(&a.ID, &a.Slug, &a.Name.Ar, &a.Name.En, &a.Kind, &a.Unit, &a.CategorySlug); err != nil {
				return err
			}
			out = append(out, a)
		}
		return rows.Err()
	})
	return out, err
}
