package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/kasioon/searchgw/pkg/searchgw/model"
)

// MostViewed returns active listings by view count, freshest first among
// equals.
func (s *Store) MostViewed(ctx context.Context, limit int) ([]model.Listing, error) {
	sql := listingSelect + `
	WHERE l.status = 'active'
	ORDER BY l.views DESC, l.created_at DESC, l.id
	LIMIT $1`
	return s.listingRows(ctx, "most_viewed", sql, limit)
}

// MostImpressioned ranks by the impression score: raw views plus a heavy
// boost weight and a light priority weight.
func (s *Store) MostImpressioned(ctx context.Context, limit int) ([]model.Listing, error) {
	sql := listingSelect + `
	WHERE l.status = 'active'
	ORDER BY (l.views + 1000 * (CASE WHEN l.boosted THEN 1 ELSE 0 END) + 10 * l.priority) DESC,
	         l.created_at DESC, l.id
	LIMIT $1`
	return s.listingRows(ctx, "most_impressioned", sql, limit)
}

const officeSelect = `
	SELECT o.id, o.name, COALESCE(o.description_ar, ''), COALESCE(o.description_en, ''),
	       COALESCE(o.phone, ''), COALESCE(o.email, ''), COALESCE(o.website, ''),
	       COALESCE(o.logo_url, ''), o.city_id,
	       COALESCE(ci.name_ar, ''), COALESCE(ci.name_en, ''),
	       COALESCE(o.address, ''), o.latitude, o.longitude,
	       o.premium, o.rating, o.rating_count, o.approved, o.created_at
	FROM offices o
	LEFT JOIN cities ci ON ci.id = o.city_id`

func scanOffice(rows pgx.Rows) (model.Office, error) {
	var o model.Office
	err := rows.Scan(
		&o.ID, &o.Name, &o.Description.Ar, &o.Description.En,
		&o.Phone, &o.Email, &o.Website,
		&o.LogoURL, &o.CityID,
		&o.CityName.Ar, &o.CityName.En,
		&o.Address, &o.Latitude, &o.Longitude,
		&o.Premium, &o.Rating, &o.RatingCount, &o.Approved, &o.CreatedAt,
	)
	return o, err
}

func (s *Store) officeRows(ctx context.Context, name, sql string, args ...any) ([]model.Office, error) {
	var out []model.Office
	err := s.withRetry(ctx, name, func(ctx context.Context) error {
		rows, err := s.db.Query(ctx, sql, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			o, err := scanOffice(rows)
			if err != nil {
				return err
			}
			out = append(out, o)
		}
		return rows.Err()
	})
	return out, err
}

// ListOffices returns approved offices, premium and best-rated first.
// Unrated offices sort after rated ones.
func (s *Store) ListOffices(ctx context.Context, limit int) ([]model.Office, error) {
	sql := officeSelect + `
	WHERE o.approved
	ORDER BY o.premium DESC, o.rating DESC NULLS LAST, o.created_at DESC
	LIMIT $1`
	return s.officeRows(ctx, "list_offices", sql, limit)
}

// OfficeByID fetches one approved office by its UUID.
func (s *Store) OfficeByID(ctx context.Context, id string) (model.Office, error) {
	sql := officeSelect + `
	WHERE o.id = $1 AND o.approved`

	offices, err := s.officeRows(ctx, "office_by_id", sql, id)
	if err != nil {
		return model.Office{}, err
	}
	if len(offices) == 0 {
		return model.Office{}, ErrNotFound
	}
	return offices[0], nil
}

// OfficesByName finds approved offices whose name contains the fragment,
// case-insensitively, best first.
func (s *Store) OfficesByName(ctx context.Context, name string, limit int) ([]model.Office, error) {
	sql := officeSelect + `
	WHERE o.approved AND o.name ILIKE '%' || $1 || '%'
	ORDER BY o.premium DESC, o.rating DESC NULLS LAST, o.created_at DESC
	LIMIT $2`
	return s.officeRows(ctx, "offices_by_name", sql, name, limit)
}

// OfficeListings returns the office's active listings in the shared
// boost/priority/freshness order.
func (s *Store) OfficeListings(ctx context.Context, officeID string, limit int) ([]model.Listing, error) {
	sql := listingSelect + `
	WHERE l.status = 'active' AND l.office_id = $1` + listingOrder + `
	LIMIT $2`
	return s.listingRows(ctx, "office_listings", sql, officeID, limit)
}

// OfficeListingCounts returns the office's active and lifetime listing
// totals in one round trip.
func (s *Store) OfficeListingCounts(ctx context.Context, officeID string) (active, total int, err error) {
	const q = `
	SELECT COUNT(*) FILTER (WHERE status = 'active'), COUNT(*)
	FROM listings
	WHERE office_id = $1`

	err = s.withRetry(ctx, "office_listing_counts", func(ctx context.Context) error {
		return s.db.QueryRow(ctx, q, officeID).Scan(&active, &total)
	})
	return active, total, err
}
