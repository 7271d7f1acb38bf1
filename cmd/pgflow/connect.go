package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/riftdata/pgflow"
	"github.com/riftdata/pgflow/internal/pgconf"
	"github.com/riftdata/pgflow/internal/ui"
)

var saveConnectConfig bool

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Interactively build and test a connection",
	Long: `Prompt for host, port, database, user, password and SSL mode, open
a connection to verify them, then optionally save them as the default
pgflow config file.`,
	Example: `  pgflow connect
  pgflow connect --save`,
	RunE: runConnect,
}

func init() {
	connectCmd.Flags().BoolVar(&saveConnectConfig, "save", false, "write the resulting config to $HOME/.pgflow/pgflow.yaml")
}

func runConnect(cmd *cobra.Command, args []string) error {
	out.Title("pgflow connect")

	defaults := pgconf.DefaultConfig()
	details, err := ui.ConnectionForm(&ui.ConnectionDetails{
		Host:    defaults.Host,
		Port:    strconv.Itoa(defaults.Port),
		SSLMode: defaults.SSLMode,
	})
	if err != nil {
		return err
	}

	port, err := strconv.Atoi(details.Port)
	if err != nil {
		return fmt.Errorf("invalid port %q: %w", details.Port, err)
	}

	built := &pgconf.Config{
		Host:            details.Host,
		Port:            port,
		Database:        details.Database,
		User:            details.User,
		Password:        details.Password,
		SSLMode:         details.SSLMode,
		ConnectTimeout:  defaults.ConnectTimeout,
		ApplicationName: defaults.ApplicationName,
	}
	if err := built.Validate(); err != nil {
		return err
	}

	spinner := ui.NewSimpleSpinner(fmt.Sprintf("Connecting to %s", built.Addr()))
	spinner.Start()

	ctx := cmd.Context()
	client, err := pgflow.Connect(ctx, built)
	if err != nil {
		spinner.StopFail(err.Error())
		return err
	}
	spinner.Stop("Connected")
	_ = client.Close(ctx)

	if saveConnectConfig {
		path, err := pgconf.DefaultConfigPath()
		if err != nil {
			return err
		}
		if err := pgconf.SaveYAML(path, built); err != nil {
			return fmt.Errorf("saving config: %w", err)
		}
		out.Success(fmt.Sprintf("saved to %s", path))
	}

	return nil
}
