package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/riftdata/pgflow"
	"github.com/riftdata/pgflow/internal/pgtype"
	"github.com/riftdata/pgflow/internal/ui"
	"github.com/riftdata/pgflow/rowstream"
)

var queryCmd = &cobra.Command{
	Use:   "query <sql> [args...]",
	Short: "Run a query and print its rows",
	Long: `Run sql as a single extended-query cycle (Parse/Bind/Execute/Sync)
and print whatever rows come back. Positional args after sql are bound
as $1, $2, ... parameters.`,
	Example: `  pgflow query "select * from pg_stat_activity"
  pgflow query "select * from orders where customer_id = $1" 42`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

var execCmd = &cobra.Command{
	Use:   "exec <sql> [args...]",
	Short: "Run a non-SELECT statement and print its command tag",
	Long:  `Run sql and print the server's command tag (e.g. "UPDATE 3") instead of rows.`,
	Example: `  pgflow exec "update orders set status = 'shipped' where id = $1" 7
  pgflow exec "delete from sessions where expires_at < now()"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExec,
}

func runQuery(cmd *cobra.Command, args []string) error {
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
	return printStream(ctx, stream)
}

func runExec(cmd *cobra.Command, args []string) error {
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
	if _, err := stream.All(ctx); err != nil {
		return err
	}
	tag, err := stream.CommandTag()
	if err != nil {
		return err
	}
	out.Success(tag)
	return nil
}

// printStream drains a Row-Batch Stream row by row (Next, not All) so
// a query against a huge table never forces every row into memory at
// once just to print it.
func printStream(ctx context.Context, stream *rowstream.Stream) error {
	first, err := stream.Next(ctx)
	if err != nil {
		return err
	}
	if first == nil {
		tag, _ := stream.CommandTag()
		if tag != "" {
			out.Success(tag)
		} else {
			out.Info("no rows")
		}
		return nil
	}

	cols := first.Columns()
	headers := make([]string, cols.Len())
	for i, f := range cols.Fields {
		headers[i] = f.Name
	}

	table := ui.NewTable(out, headers...)
	count := 0
	row := first
	for row != nil {
		table.AddRow(renderRow(cols, *row)...)
		count++
		row, err = stream.Next(ctx)
		if err != nil {
			return err
		}
	}
	table.Render()
	out.Printf("(%d row(s))", count)
	return nil
}

func renderRow(cols *rowstream.Columns, row rowstream.Row) []string {
	cells := make([]string, cols.Len())
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

func toAnySlice(args []string) []any {
	vals := make([]any, len(args))
	for i, a := range args {
		vals[i] = a
	}
	return vals
}
