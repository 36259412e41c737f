package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"draftsync/internal/autosave"
	"draftsync/internal/config"
	"draftsync/internal/conflict"
	"draftsync/internal/connectivity"
	"draftsync/internal/coordinator"
	"draftsync/internal/domain"
	"draftsync/internal/events"
	"draftsync/internal/models"
	"draftsync/internal/navigation"
	"draftsync/internal/worker"

	"github.com/rs/zerolog"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionClosed   = errors.New("session closed")
	ErrWrongEntity     = errors.New("draft belongs to another entity")
)

// Deps are the process-wide collaborators shared by every session.
type Deps struct {
	Store     domain.DraftStore
	Storage   domain.LocalStorage
	Queue     *worker.RetryQueue
	Writer    *worker.Writer
	Monitor   *connectivity.Monitor
	Catalog   *Catalog
	Publisher domain.EventPublisher
	Notices   *events.NoticeLog
	Now       domain.Clock
	// Prompter answers navigation prompts. Defaults to the choice carried by the context.
	Prompter navigation.Prompter
}

// Manager owns one Session per open parent entity.
type Manager struct {
	deps   Deps
	sync   config.SyncConfig
	logger *zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(deps Deps, syncCfg config.SyncConfig, logger *zerolog.Logger) *Manager {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Writer == nil {
		deps.Writer = worker.NewWriter(deps.Store, deps.Queue, deps.Now, deps.Publisher, logger)
	}
	if deps.Prompter == nil {
		deps.Prompter = navigation.PrompterFunc(choiceFromContext)
	}
	if deps.Monitor != nil {
		deps.Monitor.Subscribe(deps.Queue.OnConnectivity)
	}

	return &Manager{
		deps:     deps,
		sync:     syncCfg,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

func (m *Manager) Queue() *worker.RetryQueue {
	return m.deps.Queue
}

func (m *Manager) Monitor() *connectivity.Monitor {
	return m.deps.Monitor
}

func (m *Manager) Catalog() *Catalog {
	return m.deps.Catalog
}

// Notices is nil when no notice log is wired.
func (m *Manager) Notices() *events.NoticeLog {
	return m.deps.Notices
}

// Open returns the session of entityID, creating it on first use.
func (m *Manager) Open(entityID string) (*Session, error) {
	entityID = strings.TrimSpace(entityID)
	if entityID == "" {
		return nil, fmt.Errorf("%w: entity id is required", models.ErrInvalidKey)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[entityID]; ok {
		return s, nil
	}
	s := m.newSession(entityID)
	m.sessions[entityID] = s
	m.logger.Info().Str("entity_id", entityID).Msg("session opened")
	return s, nil
}

func (m *Manager) Session(entityID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[entityID]
	return s, ok
}

// Entities lists open sessions, sorted.
func (m *Manager) Entities() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close stops every surface of entityID. Queued writes stay in the shared queue.
func (m *Manager) Close(entityID string) error {
	m.mu.Lock()
	s, ok := m.sessions[entityID]
	delete(m.sessions, entityID)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, entityID)
	}
	s.close()
	m.logger.Info().Str("entity_id", entityID).Msg("session closed")
	return nil
}

func (m *Manager) CloseAll() {
	for _, id := range m.Entities() {
		_ = m.Close(id)
	}
}

func (m *Manager) newSession(entityID string) *Session {
	logger := m.logger.With().Str("entity_id", entityID).Logger()
	ctx, cancel := context.WithCancel(context.Background())

	notifier := conflict.NewNotifier(m.deps.Publisher)
	coord := coordinator.New(entityID, coordinator.NewRegistry(), m.deps.Queue, m.deps.Writer, m.deps.Store, notifier, coordinator.Options{
		GracePeriod: m.sync.GracePeriod,
		Now:         m.deps.Now,
		Publisher:   m.deps.Publisher,
		Logger:      &logger,
	})

	s := &Session{
		entityID:    entityID,
		m:           m,
		coord:       coord,
		conflicts:   notifier,
		guard:       navigation.NewGuard(coord, m.deps.Prompter, m.deps.Publisher, &logger),
		logger:      &logger,
		ctx:         ctx,
		cancel:      cancel,
		controllers: make(map[string]*autosave.Controller),
	}
	s.unobserve = m.deps.Queue.Observe(coord.ObserveQueue)
	notifier.SetReloader(s)
	return s
}

// Session groups the surfaces, coordinator and conflict state of one parent entity.
type Session struct {
	entityID  string
	m         *Manager
	coord     *coordinator.Coordinator
	conflicts *conflict.Notifier
	guard     *navigation.Guard
	logger    *zerolog.Logger
	unobserve func()

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	closed      bool
	active      string
	controllers map[string]*autosave.Controller
}

func (s *Session) EntityID() string {
	return s.entityID
}

func (s *Session) Coordinator() *coordinator.Coordinator {
	return s.coord
}

func (s *Session) Conflicts() *conflict.Notifier {
	return s.conflicts
}

// Surface returns the controller for key, creating it on first use, and makes it the
// active surface. A new controller restores the local mirror and then starts autosaving.
func (s *Session) Surface(ctx context.Context, key models.DraftKey) (*autosave.Controller, error) {
	if key.EntityID != s.entityID {
		return nil, fmt.Errorf("%w: %s", ErrWrongEntity, key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}
	if c, ok := s.controllers[key.SurfaceKey()]; ok {
		s.active = key.SurfaceKey()
		return c, nil
	}

	c, err := autosave.NewController(key, s.m.deps.Writer, s.m.deps.Store, s.m.deps.Storage, s.coord.Registry(), autosave.Options{
		DisplayName: s.m.deps.Catalog.DisplayName(key),
		Interval:    s.m.sync.AutosaveInterval,
		Now:         s.m.deps.Now,
		Publisher:   s.m.deps.Publisher,
		Logger:      s.logger,
	})
	if err != nil {
		return nil, err
	}
	if _, err := c.Restore(ctx); err != nil {
		s.logger.Warn().Err(err).Str("surface", key.SurfaceKey()).Msg("local draft not restored")
	}
	if err := c.Start(s.ctx); err != nil {
		return nil, err
	}
	s.controllers[key.SurfaceKey()] = c
	s.active = key.SurfaceKey()
	return c, nil
}

// Active is the surface key of the surface last opened, or "" if none is mounted.
func (s *Session) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *Session) Controller(surfaceKey string) (*autosave.Controller, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.controllers[surfaceKey]
	return c, ok
}

// Controllers returns the mounted surfaces ordered by surface key.
func (s *Session) Controllers() []*autosave.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*autosave.Controller, 0, len(s.controllers))
	for _, c := range s.controllers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key().SurfaceKey() < out[j].Key().SurfaceKey() })
	return out
}

// Unmount stops one surface. Its local mirror is kept.
func (s *Session) Unmount(surfaceKey string) bool {
	s.mu.Lock()
	c, ok := s.controllers[surfaceKey]
	delete(s.controllers, surfaceKey)
	if s.active == surfaceKey {
		s.active = ""
	}
	s.mu.Unlock()
	if ok {
		c.Stop()
	}
	return ok
}

func (s *Session) SyncAll(ctx context.Context) (models.BatchResult, error) {
	return s.coord.SyncAll(ctx)
}

// ReloadAll overwrites every mounted surface with its remote draft.
func (s *Session) ReloadAll(ctx context.Context) error {
	var errs []error
	for _, c := range s.Controllers() {
		if err := c.Reload(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StoredDrafts lists the surface keys of this entity that have a local mirror,
// mounted or not. It fails with errors.ErrUnsupported when storage cannot list keys.
func (s *Session) StoredDrafts(ctx context.Context) ([]string, error) {
	lister, ok := s.m.deps.Storage.(domain.KeyLister)
	if !ok {
		return nil, errors.ErrUnsupported
	}
	prefix := models.MirrorKeyPrefix + s.entityID + ":"
	keys, err := lister.Keys(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list stored drafts: %w", err)
	}

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		surfaceKey := strings.TrimPrefix(k, prefix)
		if _, err := models.ParseSurfaceKey(s.entityID, surfaceKey); err != nil {
			continue
		}
		out = append(out, surfaceKey)
	}
	return out, nil
}

// Navigate moves away from the active surface through the navigation guard. A target
// naming a surface of this entity switches the active surface and keeps the session;
// any other target leaves the entity and closes the session.
func (s *Session) Navigate(ctx context.Context, target string) (navigation.Decision, error) {
	if key, err := models.ParseSurfaceKey(s.entityID, target); err == nil {
		if s.Active() == target {
			return navigation.Decision{Choice: navigation.ChoiceDiscard, Switched: true}, nil
		}
		return s.guard.RequestSwitch(ctx, target, func() error {
			return s.switchSurface(ctx, key)
		})
	}
	return s.guard.RequestSwitch(ctx, target, func() error {
		err := s.m.Close(s.entityID)
		if errors.Is(err, ErrSessionNotFound) {
			return nil
		}
		return err
	})
}

// switchSurface unmounts the active surface and mounts key in its place.
func (s *Session) switchSurface(ctx context.Context, key models.DraftKey) error {
	if prev := s.Active(); prev != "" {
		s.Unmount(prev)
	}
	_, err := s.Surface(ctx, key)
	return err
}

func (s *Session) BeforeUnload() bool {
	return s.guard.BeforeUnload()
}

func (s *Session) close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	controllers := make([]*autosave.Controller, 0, len(s.controllers))
	for _, c := range s.controllers {
		controllers = append(controllers, c)
	}
	s.controllers = make(map[string]*autosave.Controller)
	s.mu.Unlock()

	for _, c := range controllers {
		c.Stop()
	}
	s.cancel()
	s.unobserve()
}

type choiceKey struct{}

// WithChoice attaches the user's answer to a pending navigation prompt.
func WithChoice(ctx context.Context, choice navigation.Choice) context.Context {
	return context.WithValue(ctx, choiceKey{}, choice)
}

func choiceFromContext(ctx context.Context, _ string, _ int) (navigation.Choice, error) {
	if c, ok := ctx.Value(choiceKey{}).(navigation.Choice); ok {
		return c, nil
	}
	return navigation.ChoiceCancel, nil
}
