package main

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/companion/internal/chat"
	"github.com/ashureev/companion/internal/domain"
	"github.com/ashureev/companion/internal/render"
	"github.com/ashureev/companion/internal/store"
)

// view prints the conversation to a terminal. Assistant text is echoed as
// it streams; everything else is printed as one line per event.
type view struct {
	mu        sync.Mutex
	out       io.Writer
	sessionID string
	engine    *chat.Engine

	printed  map[string]int // assistant id -> bytes already echoed
	typing   string
	progress map[string]int
	midLine  bool
}

func newView(out io.Writer, sessionID string) *view {
	return &view{
		out:       out,
		sessionID: sessionID,
		printed:   make(map[string]int),
		progress:  make(map[string]int),
	}
}

func (v *view) attach(e *chat.Engine) { v.engine = e }

func (v *view) printf(format string, args ...any) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.breakLine()
	fmt.Fprintf(v.out, format, args...)
}

// breakLine ends a partially echoed reply. Callers hold mu.
func (v *view) breakLine() {
	if v.midLine {
		fmt.Fprintln(v.out)
		v.midLine = false
	}
}

// draw prints the full render sequence, used when the session opens.
func (v *view) draw() {
	items := v.engine.Render(v.sessionID)

	v.mu.Lock()
	defer v.mu.Unlock()
	for _, it := range items {
		switch it.Kind {
		case render.KindGreeting:
			fmt.Fprintf(v.out, "companion: %s\n", it.Text)
		case render.KindDivider:
			fmt.Fprintln(v.out, "----- new messages -----")
		case render.KindTyping:
			fmt.Fprintln(v.out, "companion is typing...")
		case render.KindMessage:
			fmt.Fprintln(v.out, line(it.Message))
			if it.Message.Role == domain.RoleAssistant {
				v.printed[it.Message.ID] = len(it.Message.Content)
			}
		}
	}
}

func line(m domain.Message) string {
	who := "you"
	if m.Role == domain.RoleAssistant {
		who = "companion"
	}
	text := m.Content
	if m.Media != nil {
		uri := m.Media.RemoteURL
		if uri == "" {
			uri = m.Media.LocalURI
		}
		text = "[image " + uri + "]"
	}
	if m.Status == domain.StatusFailed {
		return fmt.Sprintf("%s: %s  (failed, /retry %s)", who, text, m.ID)
	}
	return who + ": " + text
}

// change is the store subscription.
func (v *view) change(c store.Change) {
	if c.SessionID != v.sessionID {
		return
	}
	st := v.engine.Store()

	switch c.Op {
	case store.OpActive:
		id := st.ActiveAssistant(c.SessionID)
		m, ok := st.Get(c.SessionID, id)
		if id == "" || (ok && m.Content != "") {
			return
		}
		v.mu.Lock()
		defer v.mu.Unlock()
		if v.typing != id {
			v.typing = id
			v.breakLine()
			fmt.Fprintln(v.out, "companion is typing...")
		}

	case store.OpCreate, store.OpAppend:
		m, ok := st.Get(c.SessionID, c.MessageID)
		if !ok || m.Role != domain.RoleAssistant {
			return
		}
		v.mu.Lock()
		defer v.mu.Unlock()
		done := v.printed[m.ID]
		if done >= len(m.Content) {
			return
		}
		if done == 0 {
			v.breakLine()
			fmt.Fprint(v.out, "companion: ")
		}
		fmt.Fprint(v.out, m.Content[done:])
		v.printed[m.ID] = len(m.Content)
		v.midLine = !strings.HasSuffix(m.Content, "\n")

	case store.OpMedia:
		m, ok := st.Get(c.SessionID, c.MessageID)
		if !ok || m.Media == nil || m.Status != domain.StatusSending {
			return
		}
		v.mu.Lock()
		defer v.mu.Unlock()
		if pct := m.Media.UploadProgress; pct != v.progress[m.ID] {
			v.progress[m.ID] = pct
			v.breakLine()
			fmt.Fprintf(v.out, "uploading %s: %d%%\n", m.ID, pct)
		}
	}
}

func (v *view) retrying(attempt int, delay time.Duration, err error) {
	v.printf("send failed (%v), retry %d in %s\n", err, attempt, delay)
}

func (v *view) notice(n chat.Notice) {
	v.printf("! %s\n", n.Text)
}

// finish reports the outcome of a background send.
func (v *view) finish(msg domain.Message, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.breakLine()
	if err == nil {
		return
	}
	if msg.ID != "" && msg.Status == domain.StatusFailed {
		fmt.Fprintln(v.out, line(msg))
	}
}
