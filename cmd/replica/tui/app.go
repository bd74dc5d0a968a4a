package tui

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jamesainslie/replica/pkg/client"
	"github.com/jamesainslie/replica/pkg/replica/journal"
	"github.com/jamesainslie/replica/pkg/replica/logging"
)

// statusInterval is how often the daemon status is polled.
const statusInterval = time.Second

// Source is the daemon connection the watch view reads from.
type Source interface {
	Status(ctx context.Context) (*client.Status, error)
	Trigger(ctx context.Context) (bool, error)
	Watch(ctx context.Context, root string) (<-chan client.Event, error)
}

// Options configures the watch view.
type Options struct {
	Source Source

	// Root limits the action feed to paths under it. Empty shows all.
	Root string

	// MaxEntries bounds the feed. Zero uses journal.DefaultRingSize.
	MaxEntries int
}

// Model is the Bubble Tea model for the watch view.
type Model struct {
	options Options
	feed    *FeedState
	spinner spinner.Model

	ctx    context.Context
	cancel context.CancelFunc
	events chan client.Event

	status    *client.Status
	statusErr error
	live      bool
	notice    string
	now       time.Time

	width  int
	height int
}

// NewModel creates a watch model for opts.
func NewModel(opts Options) Model {
	ctx, cancel := context.WithCancel(context.Background())

	maxEntries := opts.MaxEntries
	if maxEntries <= 0 {
		maxEntries = journal.DefaultRingSize
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(accentColor)

	return Model{
		options: opts,
		feed:    NewFeedState(maxEntries),
		spinner: s,
		ctx:     ctx,
		cancel:  cancel,
		events:  make(chan client.Event, 100),
		now:     time.Now(),
		width:   80,
		height:  24,
	}
}

// statusMsg carries a polled daemon status.
type statusMsg struct {
	status *client.Status
	err    error
}

// eventMsg carries one streamed event.
type eventMsg client.Event

// streamStartedMsg reports whether the event stream was opened.
type streamStartedMsg struct{ err error }

// streamClosedMsg reports that the daemon closed the event stream.
type streamClosedMsg struct{}

// triggerMsg carries the result of a trigger request.
type triggerMsg struct {
	queued bool
	err    error
}

// tickMsg schedules the next status poll.
type tickMsg time.Time

// Init starts the stream and the status poll.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		m.subscribe(),
		m.fetchStatus(),
	)
}

// subscribe opens the event stream and pumps it into m.events.
func (m Model) subscribe() tea.Cmd {
	ctx, src, root, out := m.ctx, m.options.Source, m.options.Root, m.events
	return func() tea.Msg {
		in, err := src.Watch(ctx, root)
		if err != nil {
			return streamStartedMsg{err: err}
		}
		go func() {
			defer close(out)
			for e := range in {
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
			}
		}()
		return streamStartedMsg{}
	}
}

// listenForEvents waits for the next streamed event.
func (m Model) listenForEvents() tea.Cmd {
	events := m.events
	return func() tea.Msg {
		e, ok := <-events
		if !ok {
			return streamClosedMsg{}
		}
		return eventMsg(e)
	}
}

// fetchStatus polls the daemon status once.
func (m Model) fetchStatus() tea.Cmd {
	ctx, src := m.ctx, m.options.Source
	return func() tea.Msg {
		st, err := src.Status(ctx)
		return statusMsg{status: st, err: err}
	}
}

// scheduleStatus polls again after statusInterval.
func (m Model) scheduleStatus() tea.Cmd {
	return tea.Tick(statusInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// trigger requests a pass.
func (m Model) trigger() tea.Cmd {
	ctx, src := m.ctx, m.options.Source
	return func() tea.Msg {
		queued, err := src.Trigger(ctx)
		return triggerMsg{queued: queued, err: err}
	}
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case streamStartedMsg:
		if msg.err != nil {
			m.statusErr = msg.err
			logging.Get("tui").Warn("watch failed", "error", msg.err)
			return m, nil
		}
		m.live = true
		return m, m.listenForEvents()

	case streamClosedMsg:
		m.live = false
		m.notice = "daemon closed the event stream"
		return m, nil

	case eventMsg:
		m.feed.Add(client.Event(msg))
		return m, m.listenForEvents()

	case statusMsg:
		m.now = time.Now()
		if msg.err != nil {
			m.statusErr = msg.err
		} else {
			m.status = msg.status
			m.statusErr = nil
		}
		return m, m.scheduleStatus()

	case tickMsg:
		return m, m.fetchStatus()

	case triggerMsg:
		switch {
		case msg.err != nil:
			m.notice = "trigger failed: " + msg.err.Error()
		case msg.queued:
			m.notice = "pass requested"
		default:
			m.notice = "a pass is already pending"
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// handleKey handles keyboard input.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	rows := m.feedRows()

	switch key := msg.String(); key {
	case "ctrl+c", "q", "esc":
		m.cancel()
		return m, tea.Quit

	case "t":
		m.notice = "requesting pass..."
		return m, m.trigger()

	case "up", "k":
		m.feed.ScrollUp(rows)
	case "down", "j":
		m.feed.ScrollDown(rows)
	case "home", "g":
		m.feed.Top()
	case "end", "G":
		m.feed.Bottom()

	case "0":
		m.feed.SetFilter(FilterAll)
	case "p":
		m.feed.SetFilter(FilterPasses)
	case "1", "2", "3", "4", "5":
		m.feed.SetFilter(int(journal.Kinds[key[0]-'1']))
	}

	return m, nil
}

// feedRows is the number of feed lines that fit on screen.
func (m Model) feedRows() int {
	// header, pass line, divider, feed title, divider, notice, hints
	return max(m.height-7, 1)
}

// View renders the model.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(renderAppHeader(m.status, m.live, m.width))
	b.WriteString("\n")
	b.WriteString(renderPassLine(m.status, m.now, m.spinner.View()))
	b.WriteString("\n")
	b.WriteString(renderDivider(m.width))
	b.WriteString("\n")
	b.WriteString(renderFeed(m.feed, m.width, m.feedRows()+1))
	b.WriteString("\n")
	b.WriteString(renderDivider(m.width))
	b.WriteString("\n")

	switch {
	case m.statusErr != nil:
		b.WriteString(errorTextStyle.Render(" " + m.statusErr.Error()))
	case m.notice != "":
		b.WriteString(mutedTextStyle.Render(" " + m.notice))
	}
	b.WriteString("\n")

	b.WriteString(renderKeyHints(
		"t", "trigger",
		"↑↓", "scroll",
		"0-5", "filter",
		"p", "passes",
		"q", "quit",
	))

	return b.String()
}

// Run starts the watch view and blocks until the user quits.
func Run(opts Options) error {
	model := NewModel(opts)
	p := tea.NewProgram(model, tea.WithAltScreen())
	_, err := p.Run()
	model.cancel()
	return err
}
