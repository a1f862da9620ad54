package repository

import (
	"context"
	"fmt"
	"os"
	"sort"

	"solar_monitor/internal/domain"

	"gopkg.in/yaml.v3"
)

type sitesFile struct {
	Sites []domain.Site `yaml:"sites"`
}

// FileSiteRepo serves a registry parsed from a YAML file at startup
type FileSiteRepo struct {
	*MemorySiteRepo
	path string
}

// NewFileSiteRepo reads and validates the file at path
func NewFileSiteRepo(path string) (*FileSiteRepo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sites file: %w", err)
	}
	sites, err := ParseSites(data)
	if err != nil {
		return nil, fmt.Errorf("parse sites file %s: %w", path, err)
	}
	return &FileSiteRepo{MemorySiteRepo: NewMemorySiteRepo(sites...), path: path}, nil
}

// ParseSites decodes a registry document, rejecting duplicate or empty ids
// and unknown vendor types.
func ParseSites(data []byte) ([]domain.Site, error) {
	var doc sitesFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(doc.Sites))
	for _, s := range doc.Sites {
		if s.ID == "" {
			return nil, fmt.Errorf("site without id")
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("duplicate site id %q", s.ID)
		}
		seen[s.ID] = true
		for _, src := range s.Sources {
			if !src.VendorType.Valid() {
				return nil, fmt.Errorf("site %s: %w: %q", s.ID, domain.ErrUnknownVendor, src.VendorType)
			}
		}
	}
	sort.Slice(doc.Sites, func(i, j int) bool { return doc.Sites[i].ID < doc.Sites[j].ID })
	return doc.Sites, nil
}

// List implements SiteRepository
func (r *FileSiteRepo) List(ctx context.Context) ([]domain.Site, error) {
	return r.MemorySiteRepo.List(ctx)
}
