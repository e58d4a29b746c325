package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/kasioon/searchgw/pkg/searchgw/cache"
	"github.com/kasioon/searchgw/pkg/searchgw/model"
)

// CatalogRefresher reloads the reference-data snapshot.
type CatalogRefresher interface {
	Refresh(ctx context.Context) error
}

// CacheSweeper drops stale result entries.
type CacheSweeper interface {
	Enabled() bool
	DeletePattern(ctx context.Context, prefix string) int
}

// PopularSource computes the rankings the prewarm job keeps hot. Calling
// through the stats service repopulates its cache entry as a side effect.
type PopularSource interface {
	MostViewed(ctx context.Context, lang model.Language, limit int) (model.SearchResult, error)
	MostImpressioned(ctx context.Context, lang model.Language, limit int) (model.SearchResult, error)
}

// Register wires the standard maintenance set: catalog refresh on the
// configured interval, a daily sweep of cached search results, and the
// popular-ranking prewarm every fifteen minutes. The cache jobs are only
// registered when the cache is actually enabled.
func Register(s *Scheduler, catalog CatalogRefresher, sweeper CacheSweeper, popular PopularSource, refreshInterval time.Duration) error {
	if refreshInterval <= 0 {
		refreshInterval = 15 * time.Minute
	}

	if catalog != nil {
		schedule := fmt.Sprintf("@every %s", refreshInterval)
		if err := s.Add("catalog-refresh", schedule, time.Minute, catalog.Refresh); err != nil {
			return err
		}
	}

	if sweeper == nil || !sweeper.Enabled() {
		return nil
	}

	err := s.Add("cache-sweep", "@daily", time.Minute, func(ctx context.Context) error {
		sweeper.DeletePattern(ctx, cache.SearchPrefix)
		return nil
	})
	if err != nil {
		return err
	}

	if popular != nil {
		err := s.Add("popular-prewarm", "@every 15m", time.Minute, func(ctx context.Context) error {
			if _, err := popular.MostViewed(ctx, model.LangArabic, model.DefaultLimit); err != nil {
				return err
			}
			_, err := popular.MostImpressioned(ctx, model.LangArabic, model.DefaultLimit)
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}
