// Package pacing computes the randomized wait between two sends of a campaign.
package pacing

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/unclebandit/wa-campaign-dispatch/internal/model"
)

// Window is an inclusive delay range.
type Window struct {
	Min time.Duration
	Max time.Duration
}

var windows = map[model.MessageInterval]Window{
	model.IntervalSlow:   {Min: 60 * time.Second, Max: 90 * time.Second},
	model.IntervalMedium: {Min: 30 * time.Second, Max: 60 * time.Second},
	model.IntervalFast:   {Min: 5 * time.Second, Max: 10 * time.Second},
}

// WindowFor returns the delay range of a tier. Unknown tiers use medium.
func WindowFor(interval model.MessageInterval) Window {
	if w, ok := windows[interval]; ok {
		return w
	}
	return windows[model.IntervalMedium]
}

type Pacer struct {
	// Rand is used when set; the package source otherwise.
	Rand *rand.Rand
}

func NewPacer() *Pacer {
	return &Pacer{}
}

// DelayFor draws a delay uniformly from the tier's window.
func (p *Pacer) DelayFor(interval model.MessageInterval) time.Duration {
	w := WindowFor(interval)
	span := int64(w.Max-w.Min) + 1
	var n int64
	if p != nil && p.Rand != nil {
		n = p.Rand.Int64N(span)
	} else {
		n = rand.Int64N(span)
	}
	return w.Min + time.Duration(n)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
