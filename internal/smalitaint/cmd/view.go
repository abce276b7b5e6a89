package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/v2/list"
	"github.com/charmbracelet/bubbles/v2/spinner"
	"github.com/charmbracelet/bubbles/v2/viewport"
	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/spf13/cobra"

	"smalitaint/internal/analysis"
	"smalitaint/internal/pipeline"
	"smalitaint/internal/smalitaint/styles"
	"smalitaint/internal/ui/colorize"
)

type viewMode int

const (
	viewFiles viewMode = iota
	viewListing
	viewReport
)

type fileItem struct {
	path     string
	rel      string
	orig     []string
	out      []string
	inserted int
}

func (i fileItem) FilterValue() string { return i.rel }

type itemDelegate struct{}

func (d itemDelegate) Height() int                               { return 1 }
func (d itemDelegate) Spacing() int                              { return 0 }
func (d itemDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }

func (d itemDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	i, ok := listItem.(fileItem)
	if !ok {
		return
	}
	indicator, name := " ", i.rel
	if index == m.Index() {
		indicator, name = ">", styles.Selected.Render(i.rel)
	}
	fmt.Fprintf(w, " %s  %s  %s", indicator, name, styles.Dim.Render(fmt.Sprintf("+%d", i.inserted)))
}

type runDoneMsg struct {
	rep   *analysis.Report
	items []fileItem
	err   error
}

type model struct {
	files        list.Model
	listing      viewport.Model
	report       viewport.Model
	spinner      spinner.Model
	mode         viewMode
	run          tea.Cmd
	loading      bool
	err          error
	rep          *analysis.Report
	current      *fileItem
	showOriginal bool
	width        int
	height       int
}

func newModel(run tea.Cmd) model {
	files := list.New([]list.Item{}, itemDelegate{}, styles.DefaultWidth, 24)
	files.SetShowStatusBar(false)
	files.SetFilteringEnabled(true)
	files.Title = "Rewritten classes"
	files.Styles.Title = styles.Title
	files.SetShowHelp(true)

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.Selected

	listing := viewport.New()
	listing.SetWidth(styles.DefaultWidth)
	listing.SetHeight(24)
	report := viewport.New()
	report.SetWidth(styles.DefaultWidth)
	report.SetHeight(24)

	return model{
		files:   files,
		listing: listing,
		report:  report,
		spinner: s,
		mode:    viewFiles,
		run:     run,
		loading: true,
		width:   styles.DefaultWidth,
		height:  24,
	}
}

// runPipeline rewrites the tree in memory and collects the changed files.
func runPipeline(ctx context.Context, pc pipeline.Config) tea.Cmd {
	return func() tea.Msg {
		var (
			mu    sync.Mutex
			items []fileItem
		)
		pc.Output = ""
		pc.Emit = func(p string, orig, out []string) error {
			if slices.Equal(orig, out) {
				return nil
			}
			rel, err := filepath.Rel(pc.Input, p)
			if err != nil {
				rel = p
			}
			mu.Lock()
			items = append(items, fileItem{path: p, rel: rel, orig: orig, out: out, inserted: len(out) - len(orig)})
			mu.Unlock()
			return nil
		}
		rep, err := pipeline.Run(ctx, pc)
		sort.Slice(items, func(i, j int) bool { return items[i].rel < items[j].rel })
		return runDoneMsg{rep: rep, items: items, err: err}
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(m.run, m.spinner.Tick)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case runDoneMsg:
		m.loading = false
		m.err = msg.err
		m.rep = msg.rep
		items := make([]list.Item, len(msg.items))
		for i, it := range msg.items {
			items[i] = it
		}
		cmd = m.files.SetItems(items)
		m.files.Title = fmt.Sprintf("Rewritten classes (%d)", len(items))
		m.updateReport()
		return m, cmd

	case spinner.TickMsg:
		if !m.loading {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		if m.mode == viewFiles && m.files.FilterState() == list.Filtering {
			if msg.String() == "ctrl+c" {
				return m, tea.Quit
			}
			break
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "enter":
			if m.mode == viewFiles {
				if it, ok := m.files.SelectedItem().(fileItem); ok {
					m.open(it)
				}
				return m, nil
			}
		case "esc", "f":
			m.mode = viewFiles
			return m, nil
		case "o":
			if m.current != nil {
				m.showOriginal = !m.showOriginal
				m.updateListing()
				m.mode = viewListing
			}
			return m, nil
		case "r":
			m.mode = viewReport
			return m, nil
		case "tab":
			m.cycle()
			return m, nil
		}
	}

	switch m.mode {
	case viewListing:
		m.listing, cmd = m.listing.Update(msg)
	case viewReport:
		m.report, cmd = m.report.Update(msg)
	default:
		m.files, cmd = m.files.Update(msg)
	}
	return m, cmd
}

func (m *model) resize(w, h int) {
	if w == m.width && h == m.height {
		return
	}
	m.width, m.height = w, h
	m.files.SetWidth(w)
	m.files.SetHeight(h - 2)
	m.listing.SetWidth(w)
	m.listing.SetHeight(h - 2)
	m.report.SetWidth(w)
	m.report.SetHeight(h - 2)
	m.updateReport()
}

func (m *model) open(it fileItem) {
	m.current = &it
	m.showOriginal = false
	m.updateListing()
	m.listing.GotoTop()
	m.mode = viewListing
}

func (m *model) cycle() {
	switch m.mode {
	case viewFiles:
		if m.current != nil {
			m.mode = viewListing
		} else {
			m.mode = viewReport
		}
	case viewListing:
		m.mode = viewReport
	default:
		m.mode = viewFiles
	}
}

func (m *model) updateListing() {
	if m.current == nil {
		return
	}
	if m.showOriginal {
		m.listing.SetContent(strings.Join(colorize.Lines(m.current.orig), "\n"))
		return
	}
	m.listing.SetContent(render(m.current.orig, m.current.out, true))
}

func (m *model) updateReport() {
	if m.err != nil {
		m.report.SetContent(styles.Errored.Render(m.err.Error()))
		return
	}
	if m.rep == nil {
		return
	}
	md := m.rep.Markdown()
	out, err := styles.RenderMarkdown(md, m.width-2)
	if err != nil {
		out = md
	}
	m.report.SetContent(out)
}

func (m model) View() string {
	var content string
	switch {
	case m.loading:
		content = fmt.Sprintf("\n  %s Analyzing...", m.spinner.View())
	case m.mode == viewListing:
		content = m.listing.View()
	case m.mode == viewReport:
		content = m.report.View()
	default:
		content = m.files.View()
	}

	var menu string
	switch m.mode {
	case viewListing:
		menu = " O: original • F: files • R: report • Tab: cycle • Q: quit "
		if m.current != nil {
			menu = " " + m.current.rel + " •" + menu
		}
	case viewReport:
		menu = " F: files • Tab: cycle • Q: quit "
	default:
		menu = " Enter: view listing • R: report • Tab: cycle • Q: quit "
	}
	return content + "\n" + styles.Menu.Width(m.width).Render(menu)
}

func newViewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "view",
		Short: "Browse the rewritten classes",
		Long: `Rewrite the input tree in memory and browse the classes that changed,
with inserted lines marked and the run report one key away.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			// keep the log off the alternate screen
			c.Log.Level = "error"
			lg := newLogger(c)
			defer lg.Close()
			pc, err := pipelineConfig(c, lg)
			if err != nil {
				return err
			}

			program := tea.NewProgram(
				newModel(runPipeline(cmd.Context(), pc)),
				tea.WithAltScreen(),
				tea.WithContext(cmd.Context()),
			)
			if _, err := program.Run(); err != nil {
				slog.Error("TUI run error", "error", err)
				return fmt.Errorf("TUI error: %w", err)
			}
			return nil
		},
	}
	runFlags(cmd)
	return cmd
}
