package chat

import "fmt"

// NoticeKind classifies a transient user-facing notice.
type NoticeKind int

const (
	// NoticeValidation reports input rejected before any message was created.
	NoticeValidation NoticeKind = iota
	// NoticeAuth reports a missing or rejected credential. Retrying will not help.
	NoticeAuth
	// NoticeDegraded reports that every automatic retry failed.
	NoticeDegraded
	// NoticeSendFailed reports a failure that is left to a manual retry.
	NoticeSendFailed
	// NoticeCancelled reports a send aborted by Cancel.
	NoticeCancelled
)

func (k NoticeKind) String() string {
	switch k {
	case NoticeValidation:
		return "validation"
	case NoticeAuth:
		return "auth"
	case NoticeDegraded:
		return "degraded"
	case NoticeSendFailed:
		return "send_failed"
	case NoticeCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("NoticeKind(%d)", int(k))
	}
}

// Notice is delivered to the handler registered with WithNoticeHandler.
type Notice struct {
	Kind      NoticeKind
	SessionID string
	MessageID string
	Text      string
	Err       error
}

func noticeText(k NoticeKind) string {
	switch k {
	case NoticeValidation:
		return "That can't be sent."
	case NoticeAuth:
		return "Your session has expired. Please sign in again."
	case NoticeDegraded:
		return "The network seems degraded. Tap a failed message to retry."
	case NoticeCancelled:
		return "Message cancelled."
	default:
		return "Message failed to send. Tap to retry."
	}
}
