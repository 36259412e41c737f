package events

import (
	"encoding/json"
	"sync"
	"time"

	"draftsync/internal/domain"
	"draftsync/internal/models"
)

// Notify publishes a user-facing notice. A nil publisher is a no-op.
func Notify(pub domain.EventPublisher, notice models.Notice) {
	if pub == nil {
		return
	}
	if notice.CreatedAt.IsZero() {
		notice.CreatedAt = time.Now()
	}
	if notice.Action == "" {
		notice.Action = models.ActionNone
	}
	_ = pub.PublishJSON(EventNotice, notice)
}

// NoticeLog keeps the most recent notices for display.
type NoticeLog struct {
	mu      sync.Mutex
	notices []models.Notice
	limit   int
}

// NewNoticeLog subscribes a bounded notice log to bus.
func NewNoticeLog(bus *EventBus, limit int) *NoticeLog {
	if limit <= 0 {
		limit = 50
	}
	l := &NoticeLog{limit: limit}
	bus.Subscribe(EventNotice, l.handle)
	return l
}

func (l *NoticeLog) handle(event *Event) error {
	var n models.Notice
	if err := json.Unmarshal(event.Payload, &n); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.notices = append(l.notices, n)
	if over := len(l.notices) - l.limit; over > 0 {
		l.notices = append([]models.Notice(nil), l.notices[over:]...)
	}
	return nil
}

// Recent returns notices oldest first.
func (l *NoticeLog) Recent() []models.Notice {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.Notice, len(l.notices))
	copy(out, l.notices)
	return out
}
