// Package tui provides a Bubble Tea terminal user interface for the
// podcast download queue.
package tui

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/handiism/podcast-downloader/internal/config"
	"github.com/handiism/podcast-downloader/internal/download"
)

// Styles for the TUI
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FF6B6B")).
			MarginBottom(1)

	subtitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#4ECDC4"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#95E1A3"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF6B6B"))

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFE66D"))

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#A8DADC"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6C757D"))

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F8B500")).
			Bold(true)
)

// Focus is the UI element receiving key presses.
type Focus int

const (
	FocusList Focus = iota
	FocusInput
)

// LogEntry represents a log message in the UI.
type LogEntry struct {
	Message string
	Level   download.ProgressLevel
}

// Engine is everything the UI drives.
type Engine struct {
	Settings *config.Live
	Manager  *download.Manager

	// Events delivers tracker and manager events. May be nil.
	Events <-chan download.ProgressEvent

	// NewTask creates a task for a media URL typed by the user.
	NewTask func(url string) (*download.Task, error)
}

// Model is the Bubble Tea model for the TUI.
type Model struct {
	engine    Engine
	focus     Focus
	textInput textinput.Model
	spinner   spinner.Model
	progress  progress.Model
	logs      []LogEntry
	tasks     []*download.Task
	cursor    int
	verbose   bool

	width  int
	height int
}

// NewModel creates a new TUI model.
func NewModel(engine Engine) Model {
	ti := textinput.New()
	ti.Placeholder = "https://example.com/episodes/42.mp3"
	ti.CharLimit = 2000
	ti.Width = 60

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))

	prog := progress.New(progress.WithDefaultGradient())
	prog.Width = 30

	return Model{
		engine:    engine,
		textInput: ti,
		spinner:   sp,
		progress:  prog,
		tasks:     engine.Manager.Tasks(),
	}
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickProgress(), waitForEvent(m.engine.Events))
}

// Message types
type (
	// ProgressMsg carries one engine event.
	ProgressMsg struct {
		Event download.ProgressEvent
	}

	// TickMsg is for periodic task list updates.
	TickMsg struct{}
)

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = min(max(msg.Width/4, 10), 40)
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		if m.focus == FocusInput {
			return m.updateInput(msg)
		}
		return m.updateList(msg)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case ProgressMsg:
		m = m.appendLog(msg.Event)
		cmds = append(cmds, waitForEvent(m.engine.Events))

	case TickMsg:
		m.tasks = m.engine.Manager.Tasks()
		m.cursor = min(m.cursor, max(len(m.tasks)-1, 0))
		cmds = append(cmds, tickProgress())
	}

	return m, tea.Batch(cmds...)
}

func (m Model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.focus = FocusList
		m.textInput.Blur()
		return m, nil

	case "enter":
		url := strings.TrimSpace(m.textInput.Value())
		m.textInput.SetValue("")
		m.focus = FocusList
		m.textInput.Blur()
		if url == "" {
			return m, nil
		}
		task, err := m.engine.NewTask(url)
		if err == nil {
			err = m.engine.Manager.AddTask(task, false)
		}
		if err != nil {
			m = m.appendLog(download.ProgressEvent{Message: err.Error(), Level: download.LevelError})
			return m, nil
		}
		m.tasks = m.engine.Manager.Tasks()
		return m, nil
	}

	var cmd tea.Cmd
	m.textInput, cmd = m.textInput.Update(msg)
	return m, cmd
}

func (m Model) updateList(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	task := m.selected()

	switch msg.String() {
	case "q", "esc":
		return m, tea.Quit

	case "a":
		m.focus = FocusInput
		cmd := m.textInput.Focus()
		return m, cmd

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}

	case "down", "j":
		if m.cursor < len(m.tasks)-1 {
			m.cursor++
		}

	case "p":
		if task != nil {
			task.Pause()
		}

	case "r", "f":
		if task != nil && task.Status() != download.StatusDownloading && task.Status() != download.StatusDone {
			if err := m.engine.Manager.AddTask(task, msg.String() == "f"); err != nil {
				m = m.appendLog(download.ProgressEvent{Message: err.Error(), Level: download.LevelError, Task: task})
			}
		}

	case "c":
		if task != nil {
			task.Cancel()
		}

	case "x":
		if task != nil {
			m.engine.Manager.Remove(task)
			m.tasks = m.engine.Manager.Tasks()
			m.cursor = min(m.cursor, max(len(m.tasks)-1, 0))
		}

	case "+", "-":
		delta := 1
		if msg.String() == "-" {
			delta = -1
		}
		m.engine.Settings.Update(func(s *config.Settings) {
			s.MaxDownloads = max(s.MaxDownloads+delta, 1)
			s.MaxDownloadsEnabled = true
		})
		m.engine.Manager.SettingsChanged()

	case "m":
		m.engine.Settings.Update(func(s *config.Settings) {
			s.MaxDownloadsEnabled = !s.MaxDownloadsEnabled
		})
		m.engine.Manager.SettingsChanged()

	case "l":
		m.engine.Settings.Update(func(s *config.Settings) {
			s.LimitRate = !s.LimitRate
		})

	case "v":
		m.verbose = !m.verbose
	}

	return m, nil
}

func (m Model) selected() *download.Task {
	if m.cursor < 0 || m.cursor >= len(m.tasks) {
		return nil
	}
	return m.tasks[m.cursor]
}

func (m Model) appendLog(event download.ProgressEvent) Model {
	if event.Level == download.LevelVerbose && !m.verbose {
		return m
	}
	m.logs = append(m.logs, LogEntry{Message: event.Message, Level: event.Level})
	// Keep only last 10 logs
	if len(m.logs) > 10 {
		m.logs = m.logs[len(m.logs)-10:]
	}
	return m
}

// tickProgress returns a command to tick progress updates.
func tickProgress() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(_ time.Time) tea.Msg {
		return TickMsg{}
	})
}

// waitForEvent delivers the next engine event as a ProgressMsg.
func waitForEvent(events <-chan download.ProgressEvent) tea.Cmd {
	if events == nil {
		return nil
	}
	return func() tea.Msg {
		event, ok := <-events
		if !ok {
			return nil
		}
		return ProgressMsg{Event: event}
	}
}

// View renders the UI.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Podcast Downloader"))
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(m.settingsLine()))
	b.WriteString("\n\n")

	if m.focus == FocusInput {
		b.WriteString(subtitleStyle.Render("Episode URL:"))
		b.WriteString("\n")
		b.WriteString(m.textInput.View())
		b.WriteString("\n\n")
	}

	b.WriteString(m.viewTasks())
	b.WriteString("\n")
	b.WriteString(m.renderLogs())

	b.WriteString("\n")
	b.WriteString(dimStyle.Render(m.helpText()))

	return b.String()
}

func (m Model) settingsLine() string {
	s := m.engine.Settings.Snapshot()
	limit := "unlimited"
	if s.MaxDownloadsEnabled {
		limit = fmt.Sprintf("%d", s.MaxDownloads)
	}
	rate := "off"
	if s.LimitRate {
		rate = fmt.Sprintf("%.0f KiB/s", s.LimitRateValue)
	}
	return fmt.Sprintf("Parallel downloads: %s | Rate limit: %s | Queued: %d", limit, rate, m.engine.Manager.Pending())
}

func (m Model) viewTasks() string {
	if len(m.tasks) == 0 {
		return dimStyle.Render("No downloads. Press a to add an episode URL.") + "\n"
	}

	var b strings.Builder
	for i, task := range m.tasks {
		cursor := "  "
		name := filepath.Base(task.Filename())
		if i == m.cursor {
			cursor = "> "
			name = selectedStyle.Render(name)
		}

		status := task.Status()
		indicator := " "
		if status == download.StatusDownloading {
			indicator = m.spinner.View()
		}

		b.WriteString(fmt.Sprintf("%s%s %s\n", cursor, indicator, name))
		b.WriteString(fmt.Sprintf("     %s %s\n", m.progress.ViewAs(task.Progress()), statusStyle(status).Render(TaskLine(task))))
	}
	return b.String()
}

// TaskLine summarizes a task's status, size and speed.
func TaskLine(task *download.Task) string {
	parts := []string{task.Status().String()}
	if total := task.TotalSize(); total > 0 {
		done := int64(task.Progress() * float64(total))
		parts = append(parts, fmt.Sprintf("%s / %s", FormatBytes(done), FormatBytes(total)))
	}
	if speed := task.Speed(); speed > 0 && task.Status() == download.StatusDownloading {
		parts = append(parts, FormatBytes(int64(speed))+"/s")
	}
	if msg := task.ErrorMessage(); msg != "" && task.Status() == download.StatusFailed {
		parts = append(parts, msg)
	}
	return strings.Join(parts, " | ")
}

// FormatBytes renders n with a binary unit, e.g. "1.5 MiB".
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func statusStyle(status download.Status) lipgloss.Style {
	switch status {
	case download.StatusDone:
		return successStyle
	case download.StatusFailed:
		return errorStyle
	case download.StatusPaused, download.StatusCancelled:
		return warningStyle
	case download.StatusDownloading:
		return infoStyle
	default:
		return dimStyle
	}
}

func (m Model) renderLogs() string {
	var b strings.Builder

	for _, log := range m.logs {
		var style lipgloss.Style
		prefix := "•"
		switch log.Level {
		case download.LevelError:
			style = errorStyle
			prefix = "✗"
		case download.LevelWarning:
			style = warningStyle
			prefix = "!"
		case download.LevelSuccess:
			style = successStyle
			prefix = "✓"
		case download.LevelInfo:
			style = infoStyle
			prefix = "›"
		default:
			style = dimStyle
		}
		b.WriteString(style.Render(prefix + " " + log.Message))
		b.WriteString("\n")
	}

	return b.String()
}

func (m Model) helpText() string {
	if m.focus == FocusInput {
		return "enter: add • esc: back"
	}
	return "a: add • p: pause • r: resume • f: force start • c: cancel • x: remove • +/-: parallel • m: no limit • l: rate limit • v: verbose • q: quit"
}

// Run starts the TUI application and pauses all downloads when it exits.
func Run(ctx context.Context, engine Engine) error {
	p := tea.NewProgram(NewModel(engine), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if serr := engine.Manager.Shutdown(shutdownCtx); serr != nil && err == nil {
		err = serr
	}
	return err
}
