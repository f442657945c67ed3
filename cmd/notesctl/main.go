// notesctl administers a yanote database: accounts, notes and backups.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kuitang/yanote/internal/app"
	"github.com/kuitang/yanote/internal/config"
	"github.com/kuitang/yanote/internal/obs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "notesctl: %v\n", err)
		os.Exit(1)
	}
}

// globalFlags mirror the server's CLI switches.
type globalFlags struct {
	dev  bool
	noS3 bool
}

func newRootCmd() *cobra.Command {
	var flags globalFlags
	root := &cobra.Command{
		Use:           "notesctl",
		Short:         "Administer the yanote notes database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&flags.dev, "dev", false, "Use the development master key and in-memory S3")
	root.PersistentFlags().BoolVar(&flags.noS3, "no-s3", false, "Use in-memory S3 for backup commands")

	root.AddCommand(
		newCreateUserCmd(&flags),
		newSetPasswordCmd(&flags),
		newNotesCmd(&flags),
		newBackupCmd(&flags),
		newSessionsCmd(&flags),
	)
	return root
}

// openApp loads configuration from the environment and opens the database.
func openApp(cmd *cobra.Command, flags *globalFlags, withBackups bool) (*app.App, error) {
	cfg, err := config.LoadConfig(config.Flags{Dev: flags.dev, NoS3: flags.noS3})
	if err != nil {
		return nil, err
	}
	obs.Init(obs.ParseLevel(cfg.LogLevel))
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return app.New(ctx, cfg, withBackups)
}
