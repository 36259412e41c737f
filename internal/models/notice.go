package models

import "time"

type NoticeLevel string

const (
	NoticeInfo  NoticeLevel = "info"
	NoticeWarn  NoticeLevel = "warn"
	NoticeError NoticeLevel = "error"
)

// NoticeAction tells the user what happens next.
type NoticeAction string

const (
	ActionNone              NoticeAction = "none"
	ActionRetryAutomatic    NoticeAction = "retry_automatically"
	ActionPressRetry        NoticeAction = "press_retry"
	ActionReloadToResolve   NoticeAction = "reload_to_resolve"
	ActionFixAndSaveAgain   NoticeAction = "fix_and_save_again"
	ActionCheckConnectivity NoticeAction = "check_connectivity"
)

// Notice is a non-blocking, toast-style message for the user.
type Notice struct {
	Level     NoticeLevel  `json:"level"`
	Message   string       `json:"message"`
	Action    NoticeAction `json:"action"`
	Surface   string       `json:"surface,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}
