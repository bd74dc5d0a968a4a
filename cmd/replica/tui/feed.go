package tui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/jamesainslie/replica/pkg/client"
	"github.com/jamesainslie/replica/pkg/replica/journal"
)

// FilterAll shows every entry in the feed.
const FilterAll = -1

// FilterPasses shows only finished passes.
const FilterPasses = -2

// eventRingBuffer is a thread-safe ring buffer of streamed events.
// It maintains a fixed-size buffer with FIFO eviction.
type eventRingBuffer struct {
	mu         sync.RWMutex
	entries    []client.Event
	maxEntries int
}

// newEventRingBuffer creates a new ring buffer with the specified max size.
func newEventRingBuffer(maxEntries int) *eventRingBuffer {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &eventRingBuffer{
		entries:    make([]client.Event, 0, maxEntries),
		maxEntries: maxEntries,
	}
}

// Add appends an event, evicting the oldest if at capacity.
func (rb *eventRingBuffer) Add(e client.Event) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if len(rb.entries) >= rb.maxEntries {
		rb.entries = rb.entries[1:]
	}
	rb.entries = append(rb.entries, e)
}

// Entries returns a copy of all events in arrival order.
func (rb *eventRingBuffer) Entries() []client.Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	result := make([]client.Event, len(rb.entries))
	copy(result, rb.entries)
	return result
}

// Len returns the number of events in the buffer.
func (rb *eventRingBuffer) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return len(rb.entries)
}

// filterEvents returns the events matching filter: FilterAll, FilterPasses
// or a journal.Kind.
func filterEvents(events []client.Event, filter int) []client.Event {
	if filter == FilterAll {
		return events
	}
	result := make([]client.Event, 0, len(events))
	for _, e := range events {
		switch {
		case filter == FilterPasses && e.Pass != nil:
			result = append(result, e)
		case e.Action != nil && int(e.Action.Kind) == filter:
			result = append(result, e)
		}
	}
	return result
}

// filterName describes a filter for the feed title.
func filterName(filter int) string {
	switch filter {
	case FilterAll:
		return "all"
	case FilterPasses:
		return "passes"
	default:
		return journal.Kind(filter).String()
	}
}

// clampScroll ensures the scroll offset stays within valid bounds.
func clampScroll(offset, total, visibleRows int) int {
	if total <= visibleRows {
		return 0
	}
	maxOffset := total - visibleRows
	if offset < 0 {
		return 0
	}
	if offset > maxOffset {
		return maxOffset
	}
	return offset
}

// FeedState holds the scrollable event list.
type FeedState struct {
	Buffer       *eventRingBuffer
	Filter       int
	ScrollOffset int

	// Follow keeps the newest event in view.
	Follow bool
}

// NewFeedState creates a feed keeping up to maxEntries events.
func NewFeedState(maxEntries int) *FeedState {
	return &FeedState{
		Buffer: newEventRingBuffer(maxEntries),
		Filter: FilterAll,
		Follow: true,
	}
}

// Add appends an event.
func (s *FeedState) Add(e client.Event) {
	s.Buffer.Add(e)
}

// Visible returns the filtered events.
func (s *FeedState) Visible() []client.Event {
	return filterEvents(s.Buffer.Entries(), s.Filter)
}

// SetFilter sets the filter and jumps back to the newest entries.
func (s *FeedState) SetFilter(filter int) {
	s.Filter = filter
	s.Follow = true
}

// ScrollUp scrolls up by one line and stops following.
func (s *FeedState) ScrollUp(visibleRows int) {
	s.syncOffset(visibleRows)
	if s.ScrollOffset > 0 {
		s.ScrollOffset--
	}
	s.Follow = false
}

// ScrollDown scrolls down by one line. Reaching the bottom resumes following.
func (s *FeedState) ScrollDown(visibleRows int) {
	s.syncOffset(visibleRows)
	maxOffset := max(len(s.Visible())-visibleRows, 0)
	if s.ScrollOffset < maxOffset {
		s.ScrollOffset++
	}
	s.Follow = s.ScrollOffset >= maxOffset
}

// Top jumps to the oldest entry.
func (s *FeedState) Top() {
	s.ScrollOffset = 0
	s.Follow = false
}

// Bottom jumps to the newest entry and follows.
func (s *FeedState) Bottom() {
	s.Follow = true
}

// offset returns the effective scroll offset for visibleRows.
func (s *FeedState) offset(visibleRows int) int {
	total := len(s.Visible())
	if s.Follow {
		return max(total-visibleRows, 0)
	}
	return clampScroll(s.ScrollOffset, total, visibleRows)
}

// syncOffset pins ScrollOffset to what is on screen, so scrolling away
// from follow mode starts at the bottom.
func (s *FeedState) syncOffset(visibleRows int) {
	s.ScrollOffset = s.offset(visibleRows)
}

// renderFeed renders the event pane.
func renderFeed(s *FeedState, width, height int) string {
	if height < 3 {
		return ""
	}

	var b strings.Builder

	title := fmt.Sprintf(" Activity [%s] ", filterName(s.Filter))
	b.WriteString(titleStyle.Render(title))
	if !s.Follow {
		b.WriteString(warningTextStyle.Render("paused"))
	}
	b.WriteString("\n")

	visibleRows := max(height-1, 1)
	events := s.Visible()
	offset := s.offset(visibleRows)
	end := min(offset+visibleRows, len(events))

	if len(events) == 0 {
		b.WriteString(mutedTextStyle.Render("  waiting for activity..."))
		b.WriteString("\n")
		visibleRows--
	}

	for _, e := range events[offset:end] {
		b.WriteString(renderEvent(e, width))
		b.WriteString("\n")
	}

	for i := end - offset; i < visibleRows; i++ {
		b.WriteString("\n")
	}

	return strings.TrimSuffix(b.String(), "\n")
}

// renderEvent renders a single feed line.
func renderEvent(e client.Event, width int) string {
	switch {
	case e.Action != nil:
		a := e.Action
		timeStr := feedTimeStyle.Render(a.Time.Local().Format(time.TimeOnly))
		marker := kindStyle(a.Kind).Render(kindChar(a.Kind))
		msg := truncatePath(a.Message(), max(width-len(time.TimeOnly)-3, 10))
		return fmt.Sprintf("%s %s %s", timeStr, marker, msg)

	case e.Pass != nil:
		p := e.Pass
		timeStr := feedTimeStyle.Render(p.Finished.Local().Format(time.TimeOnly))
		summary := fmt.Sprintf("pass %s: %d actions in %s", shortID(p.ID), p.Stats.Actions(), p.Duration().Round(time.Millisecond))
		if p.Failed() {
			return fmt.Sprintf("%s %s %s", timeStr, errorTextStyle.Render("!"),
				errorTextStyle.Render(truncatePath(summary+": "+p.Err, max(width-len(time.TimeOnly)-3, 10))))
		}
		return fmt.Sprintf("%s %s %s", timeStr, passStyle.Render("="), passStyle.Render(summary))

	default:
		return ""
	}
}

// shortID returns the first block of a pass ID.
func shortID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	return id
}

// padRight pads s with spaces up to width cells.
func padRight(s string, width int) string {
	if w := lipgloss.Width(s); w < width {
		return s + strings.Repeat(" ", width-w)
	}
	return s
}
