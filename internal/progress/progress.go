// Package progress carries transfer progress to an optional observer.
package progress

import (
	"fmt"
	"sync/atomic"
)

// Phase is the kind of work an event reports on
type Phase string

const (
	PhaseUpload   Phase = "upload"
	PhaseDownload Phase = "download"
	PhaseDelete   Phase = "delete"
	PhaseDone     Phase = "done"
)

// Event is one progress notification
type Event struct {
	Phase            Phase
	Current          int // 1-based index of the item being processed
	Total            int
	Path             string
	BytesTransferred int64 // bytes moved so far in this run
	BytesTotal       int64
	Err              error
}

// Listener observes progress. Implementations must return quickly.
type Listener interface {
	OnProgress(ev Event)
}

// ListenerFunc adapts a function to Listener
type ListenerFunc func(ev Event)

// OnProgress implements Listener
func (f ListenerFunc) OnProgress(ev Event) { f(ev) }

// Null discards every event
type Null struct{}

// OnProgress implements Listener
func (Null) OnProgress(Event) {}

// Notify delivers ev to l. A nil listener is allowed and a panicking
// listener is contained.
func Notify(l Listener, ev Event) {
	if l == nil {
		return
	}
	defer func() { _ = recover() }()
	l.OnProgress(ev)
}

// Channel forwards events to a buffered channel and drops them when the
// consumer falls behind.
type Channel struct {
	ch      chan Event
	dropped atomic.Int64
}

// NewChannel creates a channel listener with the given buffer
func NewChannel(buffer int) *Channel {
	if buffer < 1 {
		buffer = 1
	}
	return &Channel{ch: make(chan Event, buffer)}
}

// OnProgress implements Listener without blocking
func (c *Channel) OnProgress(ev Event) {
	select {
	case c.ch <- ev:
	default:
		c.dropped.Add(1)
	}
}

// Events returns the receive side
func (c *Channel) Events() <-chan Event {
	return c.ch
}

// Dropped returns how many events were discarded
func (c *Channel) Dropped() int64 {
	return c.dropped.Load()
}

// FormatBytes formats bytes into human-readable string
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// FormatProgress returns a progress bar string
func FormatProgress(current, total int64, width int) string {
	if total == 0 {
		return ""
	}

	percent := float64(current) / float64(total)
	filled := int(percent * float64(width))
	if filled > width {
		filled = width
	}

	bar := make([]byte, width)
	for i := 0; i < width; i++ {
		switch {
		case i < filled:
			bar[i] = '='
		case i == filled:
			bar[i] = '>'
		default:
			bar[i] = ' '
		}
	}

	return fmt.Sprintf("[%s] %5.1f%%", string(bar), percent*100)
}

// FormatEvent renders an event as a single status line
func FormatEvent(ev Event) string {
	if ev.Phase == PhaseDone {
		return fmt.Sprintf("done: %d items, %s", ev.Total, FormatBytes(ev.BytesTransferred))
	}
	line := fmt.Sprintf("[%d/%d] %s %s", ev.Current, ev.Total, ev.Phase, ev.Path)
	if ev.Err != nil {
		line += fmt.Sprintf(" failed: %v", ev.Err)
	}
	return line
}
