package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/kasioon/searchgw/pkg/searchgw/model"
)

// ListingQuery describes one strategy's database fetch. Zero values mean
// "no filter": empty CategoryIDs skips the category clause, CityID 0 skips
// the city clause, and so on. Keywords are OR-combined over title and
// description.
type ListingQuery struct {
	Keywords        []string
	CategoryIDs     []int64
	CityID          int64
	TransactionType string
	Limit           int
	Offset          int
}

// listingSelect is the shared column set for every listing query. Joins
// denormalize the display names the renderers need.
const listingSelect = `
	SELECT l.id, l.title, l.description, l.category_id, c.slug,
	       l.city_id, ci.name_ar, ci.name_en,
	       l.neighborhood_id, COALESCE(n.name_ar, ''), COALESCE(n.name_en, ''),
	       COALESCE(t.slug, ''), l.views, l.boosted, l.priority, l.status,
	       l.created_at, COALESCE(l.main_image_url, ''), l.office_id, l.user_id
	FROM listings l
	JOIN categories c ON c.id = l.category_id
	JOIN cities ci ON ci.id = l.city_id
	LEFT JOIN neighborhoods n ON n.id = l.neighborhood_id
	LEFT JOIN transaction_types t ON t.id = l.transaction_type_id`

// listingOrder is the fixed ordering every strategy shares: boosted first,
// then priority, then freshness, with the id as a stable tie-break.
const listingOrder = ` ORDER BY l.boosted DESC, l.priority DESC, l.created_at DESC, l.id`

// buildSearchSQL renders the listing fetch for one strategy. Pure; unit
// tested without a database.
func buildSearchSQL(q ListingQuery) (string, []any) {
	where, args := buildWhere(q)
	sql := listingSelect + where + listingOrder
	args = append(args, q.Limit)
	sql += fmt.Sprintf(" LIMIT $%d", len(args))
	if q.Offset > 0 {
		args = append(args, q.Offset)
		sql += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	return sql, args
}

// buildCountSQL renders the matching total for the same filter set.
func buildCountSQL(q ListingQuery) (string, []any) {
	where, args := buildWhere(q)
	sql := `
	SELECT COUNT(*)
	FROM listings l
	LEFT JOIN transaction_types t ON t.id = l.transaction_type_id` + where
	return sql, args
}

// buildWhere assembles the strategy's conditions. Each keyword contributes
// an exact-equality branch, a contains branch, and a pg_trgm word_similarity
// branch so Arabic misspellings still match.
func buildWhere(q ListingQuery) (string, []any) {
	conds := []string{"l.status = 'active'"}
	var args []any

	if len(q.CategoryIDs) > 0 {
		args = append(args, q.CategoryIDs)
		conds = append(conds, fmt.Sprintf("l.category_id = ANY($%d)", len(args)))
	}
	if q.CityID > 0 {
		args = append(args, q.CityID)
		conds = append(conds, fmt.Sprintf("l.city_id = $%d", len(args)))
	}
	if q.TransactionType != "" {
		args = append(args, q.TransactionType)
		conds = append(conds, fmt.Sprintf("t.slug = $%d", len(args)))
	}

	var kwConds []string
	for _, kw := range q.Keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		args = append(args, kw)
		exact := len(args)
		args = append(args, "%"+kw+"%")
		contains := len(args)
		kwConds = append(kwConds, fmt.Sprintf(
			"(l.title = $%[1]d OR l.description = $%[1]d"+
				" OR l.title ILIKE $%[2]d OR l.description ILIKE $%[2]d"+
				" OR word_similarity($%[1]d, l.title) > 0.2 OR word_similarity($%[1]d, l.description) > 0.2)",
			exact, contains))
	}
	if len(kwConds) > 0 {
		conds = append(conds, "("+strings.Join(kwConds, " OR ")+")")
	}

	return "\n\tWHERE " + strings.Join(conds, "\n\t  AND "), args
}

// scanListing reads one row of listingSelect.
func scanListing(rows pgx.Rows) (model.Listing, error) {
	var l model.Listing
	err := rows.Scan(
		&l.ID, &l.Title, &l.Description, &l.CategoryID, &l.CategorySlug,
		&l.CityID, &l.CityName.Ar, &l.CityName.En,
		&l.NeighborhoodID, &l.NeighborhoodName.Ar, &l.NeighborhoodName.En,
		&l.TransactionType, &l.Views, &l.Boosted, &l.Priority, &l.Status,
		&l.CreatedAt, &l.MainImageURL, &l.OfficeID, &l.UserID,
	)
	return l, err
}

func (s *Store) listingRows(ctx context.Context, name, sql string, args ...any) ([]model.Listing, error) {
	var out []model.Listing
	err := s.withRetry(ctx, name, func(ctx context.Context) error {
		rows, err := s.db.Query(ctx, sql, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			l, err := scanListing(rows)
			if err != nil {
				return err
			}
			out = append(out, l)
		}
		return rows.Err()
	})
	return out, err
}

// SearchListings runs one strategy fetch plus its count. The rows come back
// in the fixed boost/priority/freshness order; re-ranking happens in the
// executor.
func (s *Store) SearchListings(ctx context.Context, q ListingQuery) ([]model.Listing, int, error) {
	sql, args := buildSearchSQL(q)
	listings, err := s.listingRows(ctx, "search_listings", sql, args...)
	if err != nil {
		return nil, 0, err
	}
	if len(listings) == 0 {
		return nil, 0, nil
	}

	countSQL, countArgs := buildCountSQL(q)
	var total int
	err = s.withRetry(ctx, "search_count", func(ctx context.Context) error {
		return s.db.QueryRow(ctx, countSQL, countArgs...).Scan(&total)
	})
	if err != nil {
		return nil, 0, err
	}
	return listings, total, nil
}
