// Package render builds the ordered list of items a chat view draws.
package render

import (
	"sort"

	"github.com/ashureev/companion/internal/domain"
)

// Kind distinguishes message items from synthetic markers.
type Kind int

const (
	KindMessage Kind = iota
	KindGreeting
	KindDivider
	KindTyping
)

func (k Kind) String() string {
	switch k {
	case KindGreeting:
		return "greeting"
	case KindDivider:
		return "divider"
	case KindTyping:
		return "typing"
	default:
		return "message"
	}
}

// Item is one row of the render sequence.
type Item struct {
	Kind    Kind
	Message domain.Message // set for KindMessage
	Text    string         // set for KindGreeting
}

// Options controls the synthetic items around the messages.
type Options struct {
	// Greeting, when non-empty, is prepended as a greeting item.
	Greeting string
	// HistoryCount is the number of messages present when the session was
	// opened from history. A divider follows the HistoryCount-th message.
	HistoryCount int
	// ActiveAssistantID is the session's active assistant pointer.
	ActiveAssistantID string
}

// Sort orders messages by effective timestamp, oldest first, then by store sequence.
func Sort(msgs []domain.Message) []domain.Message {
	out := make([]domain.Message, len(msgs))
	copy(out, msgs)
	sort.SliceStable(out, func(i, j int) bool {
		ti, tj := out[i].SortTime(), out[j].SortTime()
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

// Merge produces the render sequence for one session.
func Merge(msgs []domain.Message, opts Options) []Item {
	sorted := Sort(msgs)
	items := make([]Item, 0, len(sorted)+3)

	if opts.Greeting != "" {
		items = append(items, Item{Kind: KindGreeting, Text: opts.Greeting})
	}

	divider := opts.HistoryCount > 0 && opts.HistoryCount <= len(sorted)
	for i, m := range sorted {
		items = append(items, Item{Kind: KindMessage, Message: m})
		if divider && i == opts.HistoryCount-1 {
			items = append(items, Item{Kind: KindDivider})
		}
	}

	if Typing(msgs, opts.ActiveAssistantID) {
		items = append(items, Item{Kind: KindTyping})
	}
	return items
}

// Typing reports whether the composing indicator should show: there is an
// active assistant id and its message is missing or still empty.
func Typing(msgs []domain.Message, activeID string) bool {
	if activeID == "" {
		return false
	}
	for _, m := range msgs {
		if m.ID == activeID {
			return m.Content == ""
		}
	}
	return true
}
