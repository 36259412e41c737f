package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"draftsync/internal/autosave"
	"draftsync/internal/coordinator"
	"draftsync/internal/models"
	"draftsync/internal/navigation"
	"draftsync/internal/service"
	"draftsync/internal/worker"
)

const maxDraftBytes = 1 << 20

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if m := s.sessions.Monitor(); m != nil {
		resp["connectivity"] = m.Quality().Status
		resp["available"] = m.IsAvailable()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleCatalog(w http.ResponseWriter, r *http.Request) {
	defs := []models.SurfaceDefinition{}
	if c := s.sessions.Catalog(); c != nil {
		defs = c.Definitions()
	}
	writeJSON(w, http.StatusOK, map[string]any{"surfaces": defs})
}

func (s *HTTPServer) handleNotices(w http.ResponseWriter, r *http.Request) {
	notices := []models.Notice{}
	if l := s.sessions.Notices(); l != nil {
		notices = l.Recent()
	}
	writeJSON(w, http.StatusOK, map[string]any{"notices": notices})
}

func (s *HTTPServer) handleConnectivity(w http.ResponseWriter, r *http.Request) {
	m := s.sessions.Monitor()
	if m == nil {
		writeError(w, http.StatusServiceUnavailable, "connectivity monitor disabled")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"available": m.IsAvailable(),
		"state":     m.Quality(),
	})
}

// handleSetOnline relays a device online/offline event.
func (s *HTTPServer) handleSetOnline(w http.ResponseWriter, r *http.Request) {
	m := s.sessions.Monitor()
	if m == nil {
		writeError(w, http.StatusServiceUnavailable, "connectivity monitor disabled")
		return
	}
	var body struct {
		Online *bool `json:"online"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Online == nil {
		writeError(w, http.StatusBadRequest, "online is required")
		return
	}
	m.SetOnline(*body.Online)
	writeJSON(w, http.StatusOK, map[string]any{"available": m.IsAvailable(), "state": m.Quality()})
}

func (s *HTTPServer) handleQueue(w http.ResponseWriter, r *http.Request) {
	q := s.sessions.Queue()
	policy := q.Policy()
	writeJSON(w, http.StatusOK, map[string]any{
		"pending":       q.PendingItems(),
		"pending_count": q.PendingCount(),
		"next_retry_at": q.NextRetryAt(),
		"processing":    q.Processing(),
		"dead_letter":   q.DeadLetter(),
		"policy": map[string]any{
			"max_retries":    policy.MaxRetries,
			"initial_delay":  policy.InitialDelay.String(),
			"max_delay":      policy.MaxDelay.String(),
			"backoff_factor": policy.BackoffFactor,
		},
	})
}

func (s *HTTPServer) handleQueueDrain(w http.ResponseWriter, r *http.Request) {
	res := s.sessions.Queue().Drain(r.Context())
	status := http.StatusOK
	if res.Skipped {
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]any{
		"attempted": res.Attempted,
		"succeeded": res.Succeeded,
		"retrying":  res.Retrying,
		"evicted":   res.Evicted,
		"skipped":   res.Skipped,
	})
}

func (s *HTTPServer) handleRetryDeadLetter(w http.ResponseWriter, r *http.Request) {
	item, err := s.sessions.Queue().RetryDeadLetter(r.Context(), r.PathValue("id"))
	switch {
	case errors.Is(err, worker.ErrItemNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil && item == nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	case err != nil:
		s.logger.Warn().Err(err).Str("id", item.ID).Msg("requeued item not persisted")
	}
	writeJSON(w, http.StatusAccepted, item)
}

func (s *HTTPServer) session(w http.ResponseWriter, r *http.Request) (*service.Session, bool) {
	sess, ok := s.sessions.Session(r.PathValue("entity"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return sess, true
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.View(r.Context()))
}

func (s *HTTPServer) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Close(r.PathValue("entity")); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleSync(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	res, err := sess.SyncAll(r.Context())
	if errors.Is(err, coordinator.ErrSyncInProgress) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type navigateResponse struct {
	Prompted bool                `json:"prompted"`
	Choice   string              `json:"choice"`
	Switched bool                `json:"switched"`
	Batch    *models.BatchResult `json:"batch,omitempty"`
}

func (s *HTTPServer) handleNavigate(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var body struct {
		Target string `json:"target"`
		Choice string `json:"choice"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	choice, err := navigation.ParseChoice(body.Choice)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	d, err := sess.Navigate(service.WithChoice(r.Context(), choice), body.Target)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, navigateResponse{
		Prompted: d.Prompted,
		Choice:   d.Choice.String(),
		Switched: d.Switched,
		Batch:    d.Batch,
	})
}

func (s *HTTPServer) handleConflicts(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	names := sess.Conflicts().Names()
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"surfaces": names, "count": len(names)})
}

func (s *HTTPServer) handleDismissConflicts(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.Conflicts().Dismiss()
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleRefreshConflicts(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if err := sess.Conflicts().RefreshAndClear(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sess.View(r.Context()))
}

func draftKey(r *http.Request) (models.DraftKey, error) {
	kind, err := models.ParseDraftKind(r.PathValue("kind"))
	if err != nil {
		return models.DraftKey{}, err
	}
	key := models.DraftKey{EntityID: r.PathValue("entity"), Kind: kind, SubKind: r.PathValue("subkind")}
	return key, key.Validate()
}

// mount opens the session and surface named by the path, creating both on first use.
func (s *HTTPServer) mount(w http.ResponseWriter, r *http.Request) (*autosave.Controller, bool) {
	key, err := draftKey(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	sess, err := s.sessions.Open(key.EntityID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	ctrl, err := sess.Surface(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return nil, false
	}
	return ctrl, true
}

type surfaceResponse struct {
	Key         models.DraftKey `json:"key"`
	DisplayName string          `json:"display_name"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Dirty       bool            `json:"dirty"`
	Saving      bool            `json:"is_saving"`
	Terminal    bool            `json:"terminal"`
	LastSavedAt *time.Time      `json:"last_saved_at,omitempty"`
}

func newSurfaceResponse(c *autosave.Controller) surfaceResponse {
	return surfaceResponse{
		Key:         c.Key(),
		DisplayName: c.DisplayName(),
		Payload:     c.LocalState(),
		Dirty:       c.Dirty(),
		Saving:      c.Saving(),
		Terminal:    c.Terminal(),
		LastSavedAt: c.LastSavedAt(),
	}
}

func (s *HTTPServer) handleGetSurface(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.mount(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newSurfaceResponse(ctrl))
}

// handlePutSurface records a local edit. It never writes to the remote store.
func (s *HTTPServer) handlePutSurface(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.mount(w, r)
	if !ok {
		return
	}
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxDraftBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}
	if len(payload) > maxDraftBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "draft too large")
		return
	}
	if err := ctrl.SetLocalState(r.Context(), payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, newSurfaceResponse(ctrl))
}

func (s *HTTPServer) handleUnmountSurface(w http.ResponseWriter, r *http.Request) {
	key, err := draftKey(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	if !sess.Unmount(key.SurfaceKey()) {
		writeError(w, http.StatusNotFound, "surface not mounted")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *HTTPServer) handleSaveSurface(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.mount(w, r)
	if !ok {
		return
	}
	res, err := ctrl.Save(r.Context())
	if errors.Is(err, autosave.ErrNothingToSave) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	body := map[string]any{"status": res.Status, "at": res.At}
	if res.Err != nil {
		body["error"] = res.Err.Error()
	}
	if res.QueueItem != nil {
		body["queue_item"] = res.QueueItem
	}

	status := http.StatusOK
	switch res.Status {
	case worker.StatusQueued:
		status = http.StatusAccepted
	case worker.StatusRejected:
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, body)
}

func (s *HTTPServer) handleSubmitSurface(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.mount(w, r)
	if !ok {
		return
	}
	ctrl.MarkTerminal()
	writeJSON(w, http.StatusOK, newSurfaceResponse(ctrl))
}
