package main

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/riftdata/pgflow"
	"github.com/riftdata/pgflow/internal/pgtype"
	"github.com/riftdata/pgflow/internal/ui"
	"github.com/riftdata/pgflow/rowstream"
)

const browsePageSize = 25

var browseCmd = &cobra.Command{
	Use:   "browse <sql> [args...]",
	Short: "Interactively page through a query's results",
	Long: `Run sql and open an interactive table over the results, pulling
rows a page at a time as you scroll. Each page down asks the Row-Batch
Stream for exactly the rows the view needs next (§5's pull-based
backpressure): nothing streams ahead of what's on screen.`,
	Example: `  pgflow browse "select * from orders order by created_at desc"`,
	Args:    cobra.MinimumNArgs(1),
	RunE:    runBrowse,
}

type pageMsg struct {
	rows []rowstream.Row
	err  error
	done bool
}

type browseModel struct {
	ctx       context.Context
	stream    *rowstream.Stream
	cols      *rowstream.Columns
	table     table.Model
	status    string
	err       error
	loading   bool
	exhausted bool
}

func newBrowseModel(ctx context.Context, stream *rowstream.Stream) *browseModel {
	return &browseModel{ctx: ctx, stream: stream, loading: true, status: "loading..."}
}

func (m *browseModel) Init() tea.Cmd {
	return fetchPage(m.ctx, m.stream, browsePageSize)
}

func fetchPage(ctx context.Context, stream *rowstream.Stream, n int) tea.Cmd {
	return func() tea.Msg {
		rows := make([]rowstream.Row, 0, n)
		for i := 0; i < n; i++ {
			row, err := stream.Next(ctx)
			if err != nil {
				return pageMsg{err: err}
			}
			if row == nil {
				return pageMsg{rows: rows, done: true}
			}
			rows = append(rows, *row)
		}
		return pageMsg{rows: rows}
	}
}

func (m *browseModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			m.stream.Cancel()
			return m, tea.Quit
		case "pgdown", " ":
			if !m.loading && !m.exhausted {
				m.loading = true
				m.status = "loading..."
				return m, fetchPage(m.ctx, m.stream, browsePageSize)
			}
		}

	case pageMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			m.status = msg.err.Error()
			return m, tea.Quit
		}
		if m.cols == nil {
			m.cols = m.stream.Columns()
			m.table = newResultTable(m.cols)
		}
		rows := m.table.Rows()
		for _, r := range msg.rows {
			rows = append(rows, renderTableRow(m.cols, r))
		}
		m.table.SetRows(rows)
		if msg.done {
			m.exhausted = true
			tag, _ := m.stream.CommandTag()
			m.status = fmt.Sprintf("%d row(s) — %s — q to quit", len(rows), tag)
		} else {
			m.status = fmt.Sprintf("%d row(s) so far — space/pgdown for more, q to quit", len(rows))
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *browseModel) View() string {
	if m.err != nil {
		return ui.Error.Render(m.err.Error()) + "\n"
	}
	if m.cols == nil {
		return m.status + "\n"
	}
	return m.table.View() + "\n" + ui.Muted.Render(m.status) + "\n"
}

func newResultTable(cols *rowstream.Columns) table.Model {
	columns := make([]table.Column, cols.Len())
	for i, f := range cols.Fields {
		columns[i] = table.Column{Title: f.Name, Width: 20}
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(20),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).Foreground(ui.ColorPrimary).BorderForeground(ui.ColorMuted)
	styles.Selected = styles.Selected.Foreground(lipgloss.Color("#FFFFFF")).Background(ui.ColorPrimary)
	t.SetStyles(styles)
	return t
}

func renderTableRow(cols *rowstream.Columns, row rowstream.Row) table.Row {
	cells := make(table.Row, cols.Len())
	for i, f := range cols.Fields {
		raw, err := row.At(i)
		if err != nil {
			cells[i] = ""
			continue
		}
		cells[i] = pgtype.Display(f, raw)
	}
	return cells
}

func runBrowse(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	client, err := pgflow.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close(ctx)

	sql := args[0]
	params := toAnySlice(args[1:])
	stream, err := client.Query(ctx, sql, params...)
	if err != nil {
		return err
	}

	model := newBrowseModel(ctx, stream)
	program := tea.NewProgram(model)
	finalModel, err := program.Run()
	if err != nil {
		return err
	}
	if m, ok := finalModel.(*browseModel); ok && m.err != nil {
		return m.err
	}
	return nil
}
