// Package split fans a completed assistant reply out into one bubble per line.
package split

import (
	"strings"
	"time"

	"github.com/ashureev/companion/internal/domain"
)

// Step is the timestamp increment between consecutive parts.
const Step = time.Millisecond

// Parts splits content on newlines and drops empty lines. Whitespace-only
// lines and carriage returns are content and are kept.
func Parts(content string) []string {
	lines := strings.Split(content, "\n")
	parts := make([]string, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		parts = append(parts, line)
	}
	return parts
}

// Split returns the messages that replace m. The first keeps m's id and
// timestamp; each following part gets an id from newID and a timestamp one
// Step after the previous part. It returns nil when no structural change is
// needed (zero or one part).
func Split(m domain.Message, newID func() string) []domain.Message {
	parts := Parts(m.Content)
	if len(parts) <= 1 {
		return nil
	}

	out := make([]domain.Message, len(parts))
	ts := m.ClientTimestamp
	var serverTS *time.Time
	if m.ServerTimestamp != nil {
		t := *m.ServerTimestamp
		serverTS = &t
	}
	for i, text := range parts {
		p := m.Clone()
		p.Content = text
		if i > 0 {
			p.ID = newID()
			p.Media = nil
			ts = ts.Add(Step)
			p.ClientTimestamp = ts
			if serverTS != nil {
				next := serverTS.Add(Step)
				serverTS = &next
				p.ServerTimestamp = serverTS
			}
		}
		out[i] = p
	}
	return out
}
