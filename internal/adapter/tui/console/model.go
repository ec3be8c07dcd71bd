package console

import (
	"context"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"switchboard/internal/adapter/tui/components"
	"switchboard/internal/adapter/tui/theme"
	"switchboard/internal/adapter/tui/uxerror"
	"switchboard/internal/domain"
)

// Client is the dispatcher API the console talks to.
type Client interface {
	Stream(ctx context.Context, query string) iter.Seq2[domain.DispatchUpdate, error]
	Workers(ctx context.Context) ([]domain.WorkerDescriptor, error)
}

// Renderer turns a worker's markdown payload into terminal output.
type Renderer interface {
	Render(in string) (string, error)
}

// NewMarkdownRenderer returns a glamour renderer wrapping at width.
func NewMarkdownRenderer(width int) (Renderer, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(theme.Clamp(width, 20, theme.MaxContentWidth)),
	)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Deps are the console's collaborators. A nil Renderer shows payloads as
// plain text.
type Deps struct {
	Client   Client
	Target   string
	Renderer Renderer
	Logger   *slog.Logger
}

type role int

const (
	roleUser role = iota
	roleWorker
	roleSystem
	roleError
)

type entry struct {
	role    role
	worker  string
	content string
	at      time.Time
}

// Model is the root Bubble Tea model of the console.
type Model struct {
	deps Deps
	base context.Context

	viewport  viewport.Model
	input     textinput.Model
	spinner   spinner.Model
	statusBar components.StatusBarModel

	entries   []entry
	pending   int  // index of the entry being streamed into, -1 when idle
	announced bool // the routing announcement for the pending query arrived
	waiting   bool

	// gen is bumped on every request and on cancel; messages carrying an
	// older gen are discarded.
	gen      uint64
	cancelFn context.CancelFunc

	width    int
	height   int
	ready    bool
	quitting bool
}

// New creates a console model. Requests derive their context from ctx.
func New(ctx context.Context, deps Deps) Model {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(theme.ColorInfo)

	in := textinput.New()
	in.Prompt = theme.InputPrompt.Render("> ")
	in.Placeholder = "Ask something, or /help"
	in.PlaceholderStyle = theme.InputPlaceholder
	in.CharLimit = 4096
	in.Focus()

	sb := components.NewStatusBar()
	sb.Target = deps.Target
	sb.Hints = idleHints()

	return Model{
		deps:      deps,
		base:      ctx,
		input:     in,
		spinner:   s,
		statusBar: sb,
		pending:   -1,
	}
}

// Run starts the console on the terminal and blocks until the user quits or
// ctx is cancelled.
func Run(ctx context.Context, deps Deps) error {
	m := New(ctx, deps)
	_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if err != nil && ctx.Err() != nil {
		return nil
	}
	return err
}

func idleHints() []components.KeyHint {
	return []components.KeyHint{
		{Key: "Enter", Desc: "Send"},
		{Key: "PgUp/PgDn", Desc: "Scroll"},
		{Key: "Ctrl+C", Desc: "Quit"},
	}
}

func busyHints() []components.KeyHint {
	return []components.KeyHint{
		{Key: "Esc", Desc: "Cancel"},
		{Key: "Ctrl+C", Desc: "Cancel"},
	}
}

// Init starts the input cursor blinking.
func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case updateMsg:
		if msg.gen != m.gen {
			return m, nil
		}
		return m.handleUpdate(msg)

	case streamErrMsg:
		if msg.gen != m.gen || !m.waiting {
			return m, nil
		}
		m.deps.Logger.Debug("console: stream failed", "error", msg.err)
		m.fail(uxerror.Humanize(msg.err).Render())
		return m, nil

	case streamClosedMsg:
		if msg.gen != m.gen || !m.waiting {
			return m, nil
		}
		m.fail("The dispatcher closed the stream without an answer.")
		return m, nil

	case workersMsg:
		m.addSystem(formatWorkers(msg))
		return m, nil

	case spinner.TickMsg:
		if !m.waiting {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		m.refresh()
		return m, cmd
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyCtrlC:
		if m.waiting {
			m.cancelRequest("Request cancelled.")
			return m, nil
		}
		m.quitting = true
		return m, tea.Quit

	case tea.KeyEsc:
		if m.waiting {
			m.cancelRequest("Request cancelled.")
		}
		return m, nil

	case tea.KeyEnter:
		if m.waiting {
			return m, nil
		}
		value := strings.TrimSpace(m.input.Value())
		m.input.Reset()
		return m.submit(value)

	case tea.KeyPgUp, tea.KeyPgDown, tea.KeyUp, tea.KeyDown:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	if m.waiting {
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

const helpText = `Commands:
  /workers  list the dispatcher's workers
  /clear    clear the transcript
  /cancel   cancel the running request
  /quit     exit
Anything else is sent to the dispatcher as a query.`

func (m Model) submit(value string) (tea.Model, tea.Cmd) {
	switch {
	case value == "":
		return m, nil
	case value == "/quit" || value == "/exit":
		m.quitting = true
		return m, tea.Quit
	case value == "/clear":
		m.entries = nil
		m.statusBar.Worker = ""
		m.refresh()
		return m, nil
	case value == "/help":
		m.addSystem(helpText)
		return m, nil
	case value == "/workers":
		return m, listWorkersCmd(m.base, m.deps.Client)
	case value == "/cancel":
		m.addSystem("Nothing to cancel.")
		return m, nil
	case strings.HasPrefix(value, "/"):
		m.addSystem(fmt.Sprintf("Unknown command %s. Type /help.", value))
		return m, nil
	}

	m.gen++
	ctx, cancel := context.WithCancel(m.base)
	m.cancelFn = cancel

	now := time.Now()
	m.entries = append(m.entries,
		entry{role: roleUser, content: value, at: now},
		entry{role: roleWorker, at: now},
	)
	m.pending = len(m.entries) - 1
	m.announced = false
	m.waiting = true
	m.statusBar.Extra = "Routing" + theme.SymbolEllipsis
	m.statusBar.Hints = busyHints()
	m.refresh()

	return m, tea.Batch(dispatchCmd(ctx, m.deps.Client, value, m.gen), m.spinner.Tick)
}

func (m Model) handleUpdate(msg updateMsg) (tea.Model, tea.Cmd) {
	u := msg.update
	if u.Final() {
		m.finish(*u.Result)
		return m, nil
	}

	e := &m.entries[m.pending]
	if u.WorkerID != "" {
		e.worker = u.WorkerID
		m.statusBar.Worker = u.WorkerID
	}
	// The first partial update is the dispatcher's routing announcement.
	if !m.announced {
		m.announced = true
		m.statusBar.Extra = u.Content
	} else {
		e.content += u.Content
	}
	m.refresh()
	return m, waitCmd(msg.next, msg.gen)
}

func (m *Model) finish(res domain.DispatchResult) {
	e := &m.entries[m.pending]
	e.at = time.Now()
	if res.TargetWorkerID != "" {
		e.worker = res.TargetWorkerID
		m.statusBar.Worker = res.TargetWorkerID
	}
	if res.Succeeded() {
		e.content = res.Payload
	} else {
		e.role = roleError
		e.content = uxerror.FromResult(res).Render()
	}
	m.idle()
}

func (m *Model) fail(text string) {
	e := &m.entries[m.pending]
	e.role = roleError
	e.content = text
	e.at = time.Now()
	m.idle()
}

func (m *Model) cancelRequest(note string) {
	m.gen++
	e := &m.entries[m.pending]
	e.role = roleSystem
	e.content = note
	m.idle()
}

func (m *Model) idle() {
	if m.cancelFn != nil {
		m.cancelFn()
		m.cancelFn = nil
	}
	m.waiting = false
	m.pending = -1
	m.statusBar.Extra = ""
	m.statusBar.Hints = idleHints()
	m.refresh()
}

func (m *Model) addSystem(text string) {
	m.entries = append(m.entries, entry{role: roleSystem, content: text, at: time.Now()})
	m.refresh()
}

func formatWorkers(msg workersMsg) string {
	if msg.err != nil {
		return uxerror.Humanize(msg.err).Render()
	}
	if len(msg.workers) == 0 {
		return "No workers registered."
	}
	var sb strings.Builder
	sb.WriteString("Workers:")
	for _, w := range msg.workers {
		fmt.Fprintf(&sb, "\n  %s %s (%s): %s", theme.SymbolBullet, w.Name(), w.ID, strings.Join(w.AcceptedIntents, ", "))
	}
	return sb.String()
}

// layout recalculates sizes for all sub-models.
func (m *Model) layout() {
	const inputH, statusH, dividerH = 1, 1, 1
	vpH := max(m.height-inputH-statusH-dividerH, 3)
	if !m.ready {
		m.viewport = viewport.New(m.width, vpH)
		m.ready = true
	} else {
		m.viewport.Width = m.width
		m.viewport.Height = vpH
	}
	m.input.Width = max(m.width-4, 10)
	m.statusBar.SetWidth(m.width)
}

func (m *Model) refresh() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(m.transcript())
	m.viewport.GotoBottom()
}

func (m Model) transcript() string {
	if len(m.entries) == 0 {
		return theme.TextMuted.Render("  Ask something. Type /help for commands.")
	}
	blocks := make([]string, 0, len(m.entries))
	for i, e := range m.entries {
		blocks = append(blocks, m.label(e)+"\n"+m.body(i, e))
	}
	return strings.Join(blocks, "\n\n")
}

func (m Model) label(e entry) string {
	ts := theme.Timestamp.Render(e.at.Format("15:04"))
	var name string
	switch e.role {
	case roleUser:
		name = theme.UserLabel.Render(theme.SymbolUser)
	case roleWorker:
		who := e.worker
		if who == "" {
			who = theme.SymbolRouter
		}
		name = theme.WorkerLabel.Render(who)
	case roleError:
		name = theme.ErrorLabel.Render(theme.SymbolError + " Error")
	default:
		name = theme.SystemLabel.Render(theme.SymbolRouter)
	}
	return name + " " + ts
}

func (m Model) body(i int, e entry) string {
	if i == m.pending {
		if e.content == "" {
			return "  " + m.spinner.View() + " " + theme.TextMuted.Render(m.statusBar.Extra)
		}
		return indent(e.content)
	}
	if e.role == roleWorker && m.deps.Renderer != nil {
		out, err := m.deps.Renderer.Render(e.content)
		if err == nil {
			return strings.TrimRight(out, "\n")
		}
		m.deps.Logger.Debug("console: markdown render failed", "error", err)
	}
	if e.role == roleError {
		return indent(theme.TextError.UnsetBold().Render(e.content))
	}
	return indent(e.content)
}

func indent(s string) string {
	return "  " + strings.ReplaceAll(s, "\n", "\n  ")
}

// View renders the console.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if !m.ready {
		return "  Initializing..."
	}

	inputView := m.input.View()
	if m.waiting {
		inputView = theme.Dim.Render("> waiting for response" + theme.SymbolEllipsis + " (Esc to cancel)")
	}
	divider := theme.Divider.Render(strings.Repeat("─", max(m.width, 1)))

	return lipgloss.JoinVertical(lipgloss.Left,
		m.viewport.View(),
		divider,
		inputView,
		m.statusBar.View(),
	)
}
