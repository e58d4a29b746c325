package store

import (
	"context"

	"github.com/kasioon/searchgw/pkg/searchgw/model"
)

// AttributeBags fetches the attribute values of many listings in one round
// trip, keyed by listing id. Rows violating the one-of numeric/text rule
// are repaired or dropped.
func (s *Store) AttributeBags(ctx context.Context, listingIDs []int64) (map[int64][]model.AttributeValue, error) {
	if len(listingIDs) == 0 {
		return map[int64][]model.AttributeValue{}, nil
	}

	const q = `
	SELECT la.listing_id, la.attribute_id, a.slug,
	       la.numeric_value, la.text_value,
	       COALESCE(NULLIF(la.unit, ''), COALESCE(a.unit, ''))
	FROM listing_attributes la
	JOIN attributes a ON a.id = la.attribute_id
	WHERE la.listing_id = ANY($1)
	ORDER BY la.listing_id, la.attribute_id`

	out := make(map[int64][]model.AttributeValue, len(listingIDs))
	err := s.withRetry(ctx, "attribute_bags", func(ctx context.Context) error {
		rows, err := s.db.Query(ctx, q, listingIDs)
		if err != nil {
			return err
		}
		defer rows.Close()

		clear(out)
		for rows.Next() {
			var listingID int64
			var av model.AttributeValue
			if err := rows.Scan(&listingID, &av.AttributeID, &av.Slug, &av.Numeric, &av.Text, &av.Unit); err != nil {
				return err
			}
			av, ok := av.Normalize()
			if !ok {
				s.logger.Debug("dropping empty attribute value", "listing_id", listingID, "slug", av.Slug)
				continue
			}
			out[listingID] = append(out[listingID], av)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AttachAttributes enriches the listings in place with one AttributeBags
// fetch. Errors leave the listings bare rather than failing the caller.
func (s *Store) AttachAttributes(ctx context.Context, listings []model.Listing) error {
	if len(listings) == 0 {
		return nil
	}
	ids := make([]int64, len(listings))
	for i, l := range listings {
		ids[i] = l.ID
	}
	bags, err := s.AttributeBags(ctx, ids)
	if err != nil {
		return err
	}
	for i := range listings {
		listings[i].Attributes = bags[listings[i].ID]
	}
	return nil
}
