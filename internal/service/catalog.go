package service

import (
	"fmt"
	"sort"
	"sync"

	"draftsync/internal/models"

	"github.com/rs/zerolog"
)

// Catalog resolves display names of editing surfaces.
type Catalog struct {
	logger  *zerolog.Logger
	defs    []models.SurfaceDefinition
	defsMap map[string]models.SurfaceDefinition
	mu      sync.RWMutex
}

func NewCatalog(defs []models.SurfaceDefinition, logger *zerolog.Logger) (*Catalog, error) {
	c := &Catalog{logger: logger}
	if err := c.Replace(defs); err != nil {
		return nil, err
	}
	return c, nil
}

// Replace swaps the catalog contents, e.g. after the surfaces file was edited.
func (c *Catalog) Replace(defs []models.SurfaceDefinition) error {
	defsMap := make(map[string]models.SurfaceDefinition, len(defs))
	for _, d := range defs {
		if _, err := models.ParseDraftKind(string(d.Kind)); err != nil {
			return err
		}
		if d.Kind == models.KindQuiz && d.SubKind == "" {
			return fmt.Errorf("%w: quiz surface %q needs a sub_kind", models.ErrInvalidKey, d.DisplayName)
		}
		if _, dup := defsMap[d.SurfaceKey()]; dup {
			return fmt.Errorf("duplicate surface %s in catalog", d.SurfaceKey())
		}
		defsMap[d.SurfaceKey()] = d
	}

	sorted := append([]models.SurfaceDefinition(nil), defs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].SortOrder < sorted[j].SortOrder })

	c.mu.Lock()
	defer c.mu.Unlock()
	c.defs = sorted
	c.defsMap = defsMap
	return nil
}

func (c *Catalog) Definitions() []models.SurfaceDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]models.SurfaceDefinition(nil), c.defs...)
}

func (c *Catalog) Get(surfaceKey string) (models.SurfaceDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.defsMap[surfaceKey]
	return d, ok
}

// DisplayName falls back to the surface key for surfaces missing from the catalog.
func (c *Catalog) DisplayName(key models.DraftKey) string {
	if c == nil {
		return key.SurfaceKey()
	}
	if d, ok := c.Get(key.SurfaceKey()); ok && d.DisplayName != "" {
		return d.DisplayName
	}
	if c.logger != nil {
		c.logger.Debug().Str("surface", key.SurfaceKey()).Msg("surface not in catalog")
	}
	return key.SurfaceKey()
}
