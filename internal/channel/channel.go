// Package channel sends single WhatsApp messages through an external provider.
package channel

import (
	"context"
	"fmt"
	"strings"

	"github.com/unclebandit/wa-campaign-dispatch/internal/model"
)

// Destination identifies who receives a message and, for session channels,
// which connected instance sends it.
type Destination struct {
	Phone       string
	InstanceRef string
}

// Content is a message already personalized for one contact.
type Content struct {
	Text       string
	TemplateID string
	Params     []string
}

// Outcome is the normalized result of one send.
type Outcome struct {
	Success           bool
	ProviderMessageID string
	Error             string
}

func failure(format string, args ...any) Outcome {
	return Outcome{Error: fmt.Sprintf(format, args...)}
}

// Channel is the send capability used by the scheduler.
type Channel interface {
	// Validate reports whether the campaign carries what this channel needs.
	Validate(c *model.Campaign) error
	Send(ctx context.Context, dst Destination, content Content) Outcome
}

// Registry maps a campaign channel type to its adapter.
type Registry map[model.ChannelType]Channel

func (r Registry) Resolve(t model.ChannelType) (Channel, error) {
	ch, ok := r[t.Normalize()]
	if !ok || ch == nil {
		return nil, fmt.Errorf("no channel registered for %q", t.Normalize())
	}
	return ch, nil
}

// DigitsOnly strips everything but ASCII digits from a phone number.
func DigitsOnly(phone string) string {
	var b strings.Builder
	b.Grow(len(phone))
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// truncate keeps at most n runes of s.
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	count := 0
	for i := range s {
		if count == n {
			return s[:i] + "..."
		}
		count++
	}
	return s
}
