// The gotsend command sends a templated message to every recipient of
// a CSV list, rotating through the GMail accounts connected for the
// sending user.
package main

import (
	"context"
	"log"

	"github.com/matta/gotsend/internal/config"
	"github.com/matta/gotsend/internal/homedir"
	"github.com/matta/gotsend/internal/persist"
	"github.com/matta/gotsend/internal/tracehttp"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// app holds the settings shared by every subcommand.
type app struct {
	configPath string
	dbPath     string
	owner      string
	trace      bool

	cfg *config.Config
}

// load reads the configuration and applies the global flags over it.
func (a *app) load() error {
	cfg, err := config.LoadFromEnv(a.configPath)
	if err != nil {
		return errors.Wrap(err, "unable to load configuration")
	}
	if a.dbPath != "" {
		cfg.Database = homedir.Expand(a.dbPath)
	}
	if a.owner != "" {
		cfg.Owner = a.owner
	}
	a.cfg = cfg
	return nil
}

func (a *app) openDB(ctx context.Context) (*persist.DB, error) {
	sealer, err := persist.NewSealer(a.cfg.TokenKey)
	if err != nil {
		return nil, errors.Wrap(err, "unable to use the token key")
	}
	db, err := persist.Open(ctx, a.cfg.Database, persist.WithSealer(sealer))
	if err != nil {
		return nil, errors.Wrap(err, "unable to initialize database")
	}
	return db, nil
}

func rootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:   "gotsend",
		Short: "Send personalized mail through rotated GMail accounts",
		Long: `gotsend renders one message per recipient of a CSV list and sends
it through the GMail API, spreading recipients over the sending
accounts connected for the owner in fixed size blocks.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if a.trace {
				tracehttp.WrapDefaultTransport()
			}
			return a.load()
		},
	}

	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "YAML configuration file")
	cmd.PersistentFlags().StringVar(&a.dbPath, "db", "", "SQLite database (default ~/.gotsend.db)")
	cmd.PersistentFlags().StringVar(&a.owner, "owner", "", "user the sending accounts belong to")
	cmd.PersistentFlags().BoolVarP(&a.trace, "trace", "T", false, "request debug tracing")

	cmd.AddCommand(sendCmd(a))
	cmd.AddCommand(sendersCmd(a))
	cmd.AddCommand(statsCmd(a))
	return cmd
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		log.Fatalf("Failed: %v\n", err)
	}
}
