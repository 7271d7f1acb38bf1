package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/riftdata/pgflow"
	"github.com/riftdata/pgflow/internal/pgconf"
)

var parallelConns int

var parallelCmd = &cobra.Command{
	Use:   "parallel <sql>",
	Short: "Run the same query concurrently over N separate connections",
	Long: `Open --connections independent connections and run sql on each one
at once, reporting how long every connection's round trip took. Each
connection gets its own Connection State Machine and its own socket;
nothing is shared between them except the Config they were dialed
from, so this is a quick way to see per-connection latency variance
under concurrent load.`,
	Example: `  pgflow parallel "select pg_sleep(0.2)" --connections 8`,
	Args:    cobra.ExactArgs(1),
	RunE:    runParallel,
}

func init() {
	parallelCmd.Flags().IntVarP(&parallelConns, "connections", "n", 4, "number of concurrent connections")
}

func runParallel(cmd *cobra.Command, args []string) error {
	sql := args[0]
	if parallelConns < 1 {
		return fmt.Errorf("--connections must be at least 1")
	}

	ctx := cmd.Context()
	g, gctx := errgroup.WithContext(ctx)

	elapsed := make([]time.Duration, parallelConns)

	for i := 0; i < parallelConns; i++ {
		i := i
		g.Go(func() error {
			connCfg := *cfg // each worker dials its own connection, same params
			return runOne(gctx, &connCfg, sql, i, elapsed)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	for i, d := range elapsed {
		out.KeyValue(fmt.Sprintf("connection %d", i), d.String())
	}
	return nil
}

// runOne writes only to elapsed[idx]; concurrent goroutines each own a
// distinct index, so no lock is needed around the slice.
func runOne(ctx context.Context, connCfg *pgconf.Config, sql string, idx int, elapsed []time.Duration) error {
	start := time.Now()

	client, err := pgflow.Connect(ctx, connCfg)
	if err != nil {
		return fmt.Errorf("connection %d: %w", idx, err)
	}
	defer client.Close(ctx)

	stream, err := client.Query(ctx, sql)
	if err != nil {
		return fmt.Errorf("connection %d: %w", idx, err)
	}
	if _, err := stream.All(ctx); err != nil {
		return fmt.Errorf("connection %d: %w", idx, err)
	}

	elapsed[idx] = time.Since(start)
	return nil
}
