package service

import (
	"context"
	"errors"
	"time"

	"draftsync/internal/models"
)

type SurfaceView struct {
	Key         string     `json:"key"`
	DisplayName string     `json:"display_name"`
	Saving      bool       `json:"is_saving"`
	Dirty       bool       `json:"dirty"`
	Terminal    bool       `json:"terminal"`
	LastSavedAt *time.Time `json:"last_saved_at,omitempty"`
}

// SessionView is the read-only state of a session as shown to callers.
type SessionView struct {
	EntityID        string              `json:"entity_id"`
	Syncing         bool                `json:"is_syncing"`
	RegisteredCount int                 `json:"registered_count"`
	LastBatchSyncAt *time.Time          `json:"last_batch_sync_at,omitempty"`
	Stats           models.SyncStats    `json:"sync_stats"`
	LastResult      *models.BatchResult `json:"last_result,omitempty"`
	Conflicts       []string            `json:"conflicts"`
	BeforeUnload    bool                `json:"before_unload"`
	ActiveSurface   string              `json:"active_surface"`
	Surfaces        []SurfaceView       `json:"surfaces"`
	StoredDrafts    []string            `json:"stored_drafts"`
}

func (s *Session) View(ctx context.Context) SessionView {
	v := SessionView{
		EntityID:        s.entityID,
		Syncing:         s.coord.Syncing(),
		RegisteredCount: s.coord.RegisteredCount(),
		LastBatchSyncAt: s.coord.LastBatchSyncAt(),
		Stats:           s.coord.Stats(),
		LastResult:      s.coord.LastResult(),
		Conflicts:       s.conflicts.Names(),
		BeforeUnload:    s.BeforeUnload(),
		ActiveSurface:   s.Active(),
		Surfaces:        []SurfaceView{},
		StoredDrafts:    []string{},
	}
	if v.Conflicts == nil {
		v.Conflicts = []string{}
	}
	stored, err := s.StoredDrafts(ctx)
	switch {
	case err == nil:
		v.StoredDrafts = stored
	case !errors.Is(err, errors.ErrUnsupported):
		s.logger.Warn().Err(err).Msg("stored drafts not listed")
	}
	for _, c := range s.Controllers() {
		v.Surfaces = append(v.Surfaces, SurfaceView{
			Key:         c.Key().SurfaceKey(),
			DisplayName: c.DisplayName(),
			Saving:      c.Saving(),
			Dirty:       c.Dirty(),
			Terminal:    c.Terminal(),
			LastSavedAt: c.LastSavedAt(),
		})
	}
	return v
}
