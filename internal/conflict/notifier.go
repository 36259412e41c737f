package conflict

import (
	"context"
	"errors"
	"sort"
	"sync"

	"draftsync/internal/domain"
	"draftsync/internal/events"
	"draftsync/internal/models"
)

// Notifier holds the set of surface names skipped because of a newer remote draft.
// The set grows only through Report and shrinks only through Dismiss or RefreshAndClear.
type Notifier struct {
	mu        sync.Mutex
	names     map[string]struct{}
	reloader  domain.Reloader
	publisher domain.EventPublisher
}

func NewNotifier(publisher domain.EventPublisher) *Notifier {
	return &Notifier{
		names:     make(map[string]struct{}),
		publisher: publisher,
	}
}

// SetReloader wires the component that reloads every surface from the remote store.
func (n *Notifier) SetReloader(r domain.Reloader) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reloader = r
}

func (n *Notifier) Report(surfaceName string) {
	n.mu.Lock()
	_, seen := n.names[surfaceName]
	n.names[surfaceName] = struct{}{}
	n.mu.Unlock()

	if !seen {
		events.Notify(n.publisher, models.Notice{
			Level:   models.NoticeWarn,
			Message: surfaceName + " was changed elsewhere. Your local edits are kept. Reload to resolve.",
			Action:  models.ActionReloadToResolve,
			Surface: surfaceName,
		})
	}
}

// Names returns the conflicted surface names in sorted order.
func (n *Notifier) Names() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.names))
	for name := range n.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (n *Notifier) Count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.names)
}

// Dismiss clears the set without touching remote or local data.
func (n *Notifier) Dismiss() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.names = make(map[string]struct{})
}

// RefreshAndClear clears the set and reloads all surfaces from the remote store,
// discarding local edits. The remote copy is authoritative from here on.
func (n *Notifier) RefreshAndClear(ctx context.Context) error {
	n.mu.Lock()
	n.names = make(map[string]struct{})
	reloader := n.reloader
	n.mu.Unlock()

	if reloader == nil {
		return errors.New("no reloader configured")
	}
	return reloader.ReloadAll(ctx)
}
