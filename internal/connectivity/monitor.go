package connectivity

import (
	"context"
	"sync"
	"time"

	"draftsync/internal/domain"
	"draftsync/internal/draftstore"
	"draftsync/internal/events"
	"draftsync/internal/metrics"
	"draftsync/internal/models"

	"github.com/rs/zerolog"
)

const browserOfflineError = "device reported offline"

// Monitor combines the device online flag with periodic reachability probes.
type Monitor struct {
	prober    domain.Prober
	interval  time.Duration
	now       domain.Clock
	publisher domain.EventPublisher
	logger    *zerolog.Logger

	mu          sync.RWMutex
	online      bool
	reachable   bool
	state       models.ConnectivityState
	subscribers []func(available bool)

	probeNow chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}
}

type Options struct {
	Interval  time.Duration
	Now       domain.Clock
	Publisher domain.EventPublisher
	Logger    *zerolog.Logger
}

func NewMonitor(prober domain.Prober, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = models.DefaultProbeInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		nop := zerolog.Nop()
		opts.Logger = &nop
	}
	return &Monitor{
		prober:    prober,
		interval:  opts.Interval,
		now:       opts.Now,
		publisher: opts.Publisher,
		logger:    opts.Logger,
		online:    true,
		state:     models.ConnectivityState{Status: models.StatusOffline},
		probeNow:  make(chan struct{}, 1),
	}
}

// Subscribe registers fn for availability transitions in either direction.
func (m *Monitor) Subscribe(fn func(available bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

// IsAvailable is true only while the device is online and the last probe reached the server.
func (m *Monitor) IsAvailable() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online && m.reachable
}

func (m *Monitor) Quality() models.ConnectivityState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.online {
		msg := browserOfflineError
		return models.ConnectivityState{
			Status:        models.StatusOffline,
			LastCheckedAt: m.state.LastCheckedAt,
			LastError:     &msg,
		}
	}
	return m.state
}

// SetOnline applies a device online/offline event immediately.
func (m *Monitor) SetOnline(online bool) {
	m.update(func() { m.online = online })
	if online {
		select {
		case m.probeNow <- struct{}{}:
		default:
		}
	}
}

// Probe runs one reachability check and replaces the connectivity state.
func (m *Monitor) Probe(ctx context.Context) models.ConnectivityState {
	started := m.now()
	err := m.prober.Ping(ctx)
	elapsed := m.now().Sub(started)

	state := Classify(err, elapsed, m.now())
	metrics.ObserveProbe(elapsed.Seconds())
	if err != nil {
		m.logger.Debug().Err(err).Str("status", string(state.Status)).Msg("connectivity probe failed")
	}

	m.update(func() {
		m.state = state
		m.reachable = draftstore.ResponseReceived(err)
	})
	return state
}

// Classify maps a probe outcome to a connectivity state.
func Classify(err error, elapsed time.Duration, checkedAt time.Time) models.ConnectivityState {
	state := models.ConnectivityState{LastCheckedAt: checkedAt}
	if !draftstore.ResponseReceived(err) {
		msg := err.Error()
		state.Status = models.StatusOffline
		state.LastError = &msg
		return state
	}

	ms := elapsed.Milliseconds()
	state.LatencyMs = &ms
	if err != nil {
		// Server answered with an error: the network itself is fine.
		msg := err.Error()
		state.Status = models.StatusGood
		state.LastError = &msg
		return state
	}

	switch {
	case elapsed > models.PoorLatencyThreshold:
		state.Status = models.StatusPoor
	case elapsed >= models.GoodLatencyThreshold:
		state.Status = models.StatusGood
	default:
		state.Status = models.StatusExcellent
	}
	return state
}

func (m *Monitor) update(mutate func()) {
	m.mu.Lock()
	before := m.online && m.reachable
	mutate()
	after := m.online && m.reachable
	status := m.state.Status
	if !m.online {
		status = models.StatusOffline
	}
	state := m.state
	subscribers := append([]func(bool){}, m.subscribers...)
	m.mu.Unlock()

	metrics.SetConnectivity(string(status))
	if before == after {
		return
	}

	m.logger.Info().Bool("available", after).Str("status", string(status)).Msg("connectivity changed")
	if m.publisher != nil {
		_ = m.publisher.PublishJSON(events.EventConnectivityChanged, events.ConnectivityPayload{Available: after, State: state})
	}
	for _, fn := range subscribers {
		fn(after)
	}
}

// Start probes immediately and then on every interval until Stop or ctx is done.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	go func() {
		defer close(done)
		m.logger.Info().Dur("interval", m.interval).Msg("connectivity monitor started")
		defer m.logger.Info().Msg("connectivity monitor stopped")

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.Probe(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Probe(ctx)
			case <-m.probeNow:
				m.Probe(ctx)
			}
		}
	}()
}

// Stop clears the probe timer and waits for the loop to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
