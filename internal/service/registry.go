package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"solar_monitor/internal/domain"
	"solar_monitor/internal/repository"
)

var ErrUnknownSource = errors.New("source is not registered to the site")

const sitesCacheKey = "sites"

// SiteRegistry serves the site list through a short-lived cache
type SiteRegistry struct {
	repo  repository.SiteRepository
	cache *Cache
	ttl   time.Duration
}

func NewSiteRegistry(repo repository.SiteRepository, ttl time.Duration) *SiteRegistry {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &SiteRegistry{repo: repo, cache: NewCache(ttl), ttl: ttl}
}

// Sites returns the registry
func (r *SiteRegistry) Sites(ctx context.Context) ([]domain.Site, error) {
	v, err := r.cache.GetOrLoad(ctx, sitesCacheKey, r.ttl, func(ctx context.Context) (interface{}, error) {
		return r.repo.List(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("load site registry: %w", err)
	}
	return v.([]domain.Site), nil
}

// Site finds one site by id
func (r *SiteRegistry) Site(ctx context.Context, siteID string) (domain.Site, bool, error) {
	sites, err := r.Sites(ctx)
	if err != nil {
		return domain.Site{}, false, err
	}
	for _, s := range sites {
		if s.ID == siteID {
			return s, true, nil
		}
	}
	return domain.Site{}, false, nil
}

// Source resolves the vendor of sourceID on siteID
func (r *SiteRegistry) Source(ctx context.Context, siteID, sourceID string) (domain.Site, domain.SiteSource, error) {
	site, ok, err := r.Site(ctx, siteID)
	if err != nil {
		return domain.Site{}, domain.SiteSource{}, err
	}
	if !ok {
		return domain.Site{}, domain.SiteSource{}, fmt.Errorf("%w: site %s unknown", ErrUnknownSource, siteID)
	}
	for _, src := range site.Sources {
		if src.SourceID == sourceID {
			return site, src, nil
		}
	}
	return domain.Site{}, domain.SiteSource{}, fmt.Errorf("%w: %s on %s", ErrUnknownSource, sourceID, siteID)
}

// Invalidate drops the cached list
func (r *SiteRegistry) Invalidate() {
	r.cache.Delete(sitesCacheKey)
}

func (r *SiteRegistry) Close() {
	r.cache.Close()
}
