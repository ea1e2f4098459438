package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/dmitrijs2005/cryptostore/internal/config"
	"github.com/dmitrijs2005/cryptostore/internal/logging"
)

type command struct {
	use   string
	short string
	args  cobra.PositionalArgs
	run   func(*App, context.Context, []string) error
}

var commands = []command{
	{"stats", "Print row counts per table", cobra.NoArgs, (*App).Stats},
	{"sessions <device curve25519 key>", "List olm sessions with a device", cobra.MaximumNArgs(1), (*App).Sessions},
	{"groups", "List inbound group sessions", cobra.NoArgs, (*App).Groups},
	{"backup", "Print key backup progress", cobra.NoArgs, (*App).Backup},
	{"devices [user id...]", "List known devices", cobra.ArbitraryArgs, (*App).Devices},
	{"tracking [user id]", "Print device list tracking status", cobra.MaximumNArgs(1), (*App).Tracking},
	{"trust <user id> <device id> <y/n>", "Set local verification of a device", cobra.MaximumNArgs(3), (*App).Trust},
	{"block <user id> <device id> <y/n>", "Block or unblock a device", cobra.MaximumNArgs(3), (*App).Block},
	{"crosssigning [user id]", "Print cross-signing keys and trust", cobra.MaximumNArgs(1), (*App).CrossSigning},
	{"requests", "List pending key requests", cobra.NoArgs, (*App).Requests},
	{"rooms [room id]", "Print per-room encryption settings", cobra.MaximumNArgs(1), (*App).Rooms},
	{"tidy", "Drop expired outgoing key requests", cobra.NoArgs, (*App).Tidy},
	{"wipe", "Delete everything in the store", cobra.NoArgs, (*App).Wipe},
}

// NewRootCommand builds the cryptostore command. Without a subcommand it
// starts the interactive shell; every shell command is also available as a
// one-shot subcommand.
//
// cfg is expected to come from config.LoadConfig. The flags registered here
// write into the same fields, so both parsers agree on the command line.
func NewRootCommand(cfg *config.Config, log logging.Logger) *cobra.Command {
	open := func(cmd *cobra.Command) (*App, error) {
		return NewApp(cmd.Context(), cfg, log, cmd.InOrStdin(), cmd.OutOrStdout())
	}

	root := &cobra.Command{
		Use:           "cryptostore",
		Short:         "Inspect and maintain a Matrix end-to-end encryption store",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := open(cmd)
			if err != nil {
				return err
			}
			defer app.Close(cmd.Context())
			app.Run(cmd.Context())
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&cfg.DatabasePath, "db", "d", cfg.DatabasePath, "path to the store database")
	pf.StringVarP(&cfg.UserID, "user", "u", cfg.UserID, "user id the store belongs to")
	pf.StringVarP(&cfg.DeviceID, "device", "D", cfg.DeviceID, "device id the store belongs to")
	pf.StringVarP(&cfg.LogLevel, "log-level", "l", cfg.LogLevel, "log level (debug, info, warn, error)")
	pf.BoolVarP(&cfg.AskPassphrase, "passphrase", "p", cfg.AskPassphrase, "prompt for the at-rest passphrase")
	// read by config.LoadConfig before the command runs
	pf.StringP("config", "c", "", "path to a JSON config file")

	for _, c := range commands {
		c := c
		root.AddCommand(&cobra.Command{
			Use:   c.use,
			Short: c.short,
			Args:  c.args,
			RunE: func(cmd *cobra.Command, args []string) error {
				app, err := open(cmd)
				if err != nil {
					return err
				}
				defer app.Close(cmd.Context())
				return c.run(app, cmd.Context(), args)
			},
		})
	}

	return root
}
