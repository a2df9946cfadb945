package main

import (
	"context"
	"fmt"
	"sleuthnerd/internal/investigation"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Styles
var (
	watchTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	watchStatStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	watchDimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))

	watchWarnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214"))

	watchSpinnerStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("69"))

	watchBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 2)
)

// watchFeedLines is how many recent progress lines stay on screen.
const watchFeedLines = 8

// runResult carries the engine's return values across the TUI boundary.
type runResult struct {
	input *investigation.ReportInput
	err   error
}

// Messages
type (
	progressMsg investigation.ProgressEvent
	runDoneMsg  struct{}
)

// watchModel renders live progress for a running session. It never
// drives the engine; it only observes the event channel and hands
// control back once the run goroutine signals completion.
type watchModel struct {
	subject  string
	maxDepth int
	cancel   context.CancelFunc

	events   <-chan investigation.ProgressEvent
	res      *runResult
	resReady <-chan struct{}

	spinner spinner.Model
	start   time.Time

	phase    string
	message  string
	depth    int
	queries  int
	entities int
	feed     []string

	quitting bool
	done     bool
}

func newWatchModel(subject string, maxDepth int, cancel context.CancelFunc, events <-chan investigation.ProgressEvent, res *runResult, resReady <-chan struct{}) watchModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = watchSpinnerStyle
	return watchModel{
		subject:  subject,
		maxDepth: maxDepth,
		cancel:   cancel,
		events:   events,
		res:      res,
		resReady: resReady,
		spinner:  sp,
		start:    time.Now(),
		phase:    "starting",
	}
}

// waitForProgress listens for the next engine event. It re-arms after
// every message; a closed channel ends the listen quietly.
func (m watchModel) waitForProgress() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.events
		if !ok {
			return nil
		}
		return progressMsg(ev)
	}
}

func (m watchModel) waitForDone() tea.Cmd {
	return func() tea.Msg {
		<-m.resReady
		return runDoneMsg{}
	}
}

func (m watchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForProgress(), m.waitForDone())
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			if m.done {
				return m, tea.Quit
			}
			// First press asks the engine to stop at the next iteration
			// boundary; the view flips to the cancelling notice.
			if !m.quitting {
				m.quitting = true
				m.cancel()
			}
		}
		return m, nil

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case progressMsg:
		ev := investigation.ProgressEvent(msg)
		m.phase = ev.Phase
		m.message = ev.Message
		if ev.Depth > m.depth {
			m.depth = ev.Depth
		}
		if ev.Phase == investigation.PhaseSearching {
			m.queries += ev.Queries
		}
		if ev.Entities > 0 {
			m.entities = ev.Entities
		}
		m.feed = append(m.feed, feedLine(ev))
		if len(m.feed) > watchFeedLines {
			m.feed = m.feed[len(m.feed)-watchFeedLines:]
		}
		return m, m.waitForProgress()

	case runDoneMsg:
		m.done = true
		return m, tea.Quit
	}

	return m, nil
}

func (m watchModel) View() string {
	if m.done {
		return m.summaryView()
	}

	label := m.phase
	if m.message != "" {
		label = m.message
	}

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString("  " + watchTitleStyle.Render("sleuth") + " " + m.subject + "\n\n")
	b.WriteString(fmt.Sprintf("  %s %s\n\n", m.spinner.View(), label))
	b.WriteString(watchStatStyle.Render(fmt.Sprintf("  depth %d/%d   queries %d   entities %d", m.depth, m.maxDepth, m.queries, m.entities)) + "\n\n")
	for _, line := range m.feed {
		b.WriteString(watchDimStyle.Render("  "+line) + "\n")
	}
	b.WriteString("\n")
	if m.quitting {
		b.WriteString(watchWarnStyle.Render("  cancelling after the current iteration...") + "\n")
	} else {
		b.WriteString(watchDimStyle.Render("  press q to cancel") + "\n")
	}
	return b.String()
}

func (m watchModel) summaryView() string {
	in := m.res.input
	if in == nil {
		msg := "session produced no results"
		if m.res.err != nil {
			msg = m.res.err.Error()
		}
		return watchWarnStyle.Render(msg) + "\n"
	}
	rows := []string{
		"Session     " + in.SessionID,
		"Status      " + sessionStatus(in),
		fmt.Sprintf("Iterations  %d", in.Iterations),
		fmt.Sprintf("Entities    %d", len(in.Entities)),
		fmt.Sprintf("Queries     %d", len(in.Queries)),
		"Reason      " + in.TerminationReason,
		"Elapsed     " + time.Since(m.start).Round(time.Second).String(),
	}
	return watchBoxStyle.Render(strings.Join(rows, "\n")) + "\n"
}

func feedLine(ev investigation.ProgressEvent) string {
	switch ev.Phase {
	case investigation.PhaseStarted:
		return "session started"
	case investigation.PhasePlanning:
		return fmt.Sprintf("planning queries for depth %d", ev.Depth)
	case investigation.PhaseSearching:
		return fmt.Sprintf("searching %d queries", ev.Queries)
	case investigation.PhaseReflecting:
		return "reflecting on findings"
	case investigation.PhaseMerging:
		return "merging entities into the graph"
	case investigation.PhaseRouting:
		return fmt.Sprintf("decision: %s (%s)", ev.Decision, ev.Reason)
	case investigation.PhaseConsolidating:
		return "consolidating cross-entity connections"
	case investigation.PhaseFinished:
		return "finished: " + ev.Reason
	}
	if ev.Message != "" {
		return ev.Message
	}
	return ev.Phase
}

// runWithTUI drives the session under an interactive progress view. The
// engine runs in its own goroutine; the view only observes. No alt
// screen, so the final summary stays in the scrollback.
func runWithTUI(ctx context.Context, cancel context.CancelFunc, orch *investigation.Orchestrator, subject, subjectContext string) (*investigation.ReportInput, error) {
	events := make(chan investigation.ProgressEvent, 64)
	orch.SetEvents(events)

	res := &runResult{}
	resReady := make(chan struct{})
	go func() {
		input, err := orch.Run(ctx, subject, subjectContext)
		close(events)
		res.input, res.err = input, err
		close(resReady)
	}()

	m := newWatchModel(subject, cfg.Research.MaxDepth, cancel, events, res, resReady)
	if _, err := tea.NewProgram(m).Run(); err != nil {
		// The terminal failed, not the research. Stop the engine and
		// wait it out so the session still persists.
		cancel()
	}
	<-resReady
	return res.input, res.err
}
