package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/riftdata/pgflow/internal/pgconf"
	"github.com/riftdata/pgflow/internal/ui"
	"github.com/riftdata/pgflow/pkg/logger"
)

// Build-time variables (set via ldflags)
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

// Global flags
var (
	cfgFile  string
	host     string
	port     int
	dbname   string
	user     string
	password string
	sslmode  string
	service  string
	noColor  bool
	quiet    bool
	logLevel string
	output   string
)

// Global instances, set up in PersistentPreRunE
var (
	cfg *pgconf.Config
	out *ui.Output
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if out != nil {
			out.Error(err.Error())
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		return 1
	}
	return 0
}

var rootCmd = &cobra.Command{
	Use:   "pgflow",
	Short: "A PostgreSQL wire-protocol client for the terminal",
	Long: `pgflow drives the PostgreSQL v3 frontend/backend protocol directly:
no pgx, no database/sql, just the connection and extended-query state
machines talking wire to a server.

Get started:
  pgflow connect
  pgflow query "select * from pg_stat_activity"
  pgflow browse "select * from orders"`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "completion" || cmd.Name() == "help" || cmd.Name() == "connect" {
			format := ui.OutputFormat(output)
			out = ui.NewOutput(format, noColor, quiet)
			return nil
		}

		logger.SetLevel(logLevel)
		format := ui.OutputFormat(output)
		out = ui.NewOutput(format, noColor, quiet)

		loaded, err := pgconf.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		cfg = loaded
		applyConnFlags(cfg, cmd.Flags())

		if service != "" {
			svcCfg, err := pgconf.LoadServiceFile("", service)
			if err != nil {
				return fmt.Errorf("loading pg_service.conf: %w", err)
			}
			cfg.ApplyService(svcCfg)
		}

		if cfg.Password == "" {
			if err := cfg.ResolvePassword(""); err != nil {
				out.Warning(fmt.Sprintf("could not consult .pgpass: %s", err))
			}
		}

		return cfg.Validate()
	},
}

// applyConnFlags overrides cfg fields with any connection flag the
// user actually set, leaving config-file/env-resolved values alone
// otherwise.
func applyConnFlags(cfg *pgconf.Config, fs *pflag.FlagSet) {
	if fs.Changed("host") {
		cfg.Host = host
	}
	if fs.Changed("port") {
		cfg.Port = port
	}
	if fs.Changed("dbname") {
		cfg.Database = dbname
	}
	if fs.Changed("user") {
		cfg.User = user
	}
	if fs.Changed("password") {
		cfg.Password = password
	}
	if fs.Changed("sslmode") {
		cfg.SSLMode = sslmode
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		if output == "json" {
			_ = out.JSON(map[string]string{
				"version":   version,
				"commit":    commit,
				"buildTime": buildTime,
				"goVersion": runtime.Version(),
				"os":        runtime.GOOS,
				"arch":      runtime.GOARCH,
			})
			return
		}
		out.Title("pgflow")
		out.KeyValue("Version", version)
		out.KeyValue("Commit", commit)
		out.KeyValue("Built", buildTime)
		out.KeyValue("Go", runtime.Version())
		out.KeyValue("OS/Arch", fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.pgflow/pgflow.yaml)")
	rootCmd.PersistentFlags().StringVarP(&host, "host", "h", "", "database server host")
	rootCmd.PersistentFlags().IntVarP(&port, "port", "p", 0, "database server port")
	rootCmd.PersistentFlags().StringVarP(&dbname, "dbname", "d", "", "database name")
	rootCmd.PersistentFlags().StringVarP(&user, "user", "U", "", "database user")
	rootCmd.PersistentFlags().StringVar(&password, "password", "", "database password (prefer PGFLOW_PASSWORD or .pgpass)")
	rootCmd.PersistentFlags().StringVar(&sslmode, "sslmode", "", "SSL mode (disable, prefer, require, verify-ca, verify-full)")
	rootCmd.PersistentFlags().StringVar(&service, "service", "", "pg_service.conf service name")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable color output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-essential output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "output format (table, json, yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(browseCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(parallelCmd)
}
