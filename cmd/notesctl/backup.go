package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newBackupCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the database to object storage",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Upload one snapshot now",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := openApp(cmd, flags, true)
				if err != nil {
					return err
				}
				defer a.Close()

				key, err := a.Backups.RunOnce(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "uploaded %s\n", key)
				return nil
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List stored snapshots, oldest first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				a, err := openApp(cmd, flags, true)
				if err != nil {
					return err
				}
				defer a.Close()

				keys, err := a.Backups.List(cmd.Context())
				if err != nil {
					return err
				}
				for _, k := range keys {
					fmt.Fprintln(cmd.OutOrStdout(), k)
				}
				return nil
			},
		},
		newBackupDownloadCmd(flags),
	)
	return cmd
}

func newBackupDownloadCmd(flags *globalFlags) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "download [key]",
		Short: "Download a snapshot (default: the newest) to --out",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, flags, true)
			if err != nil {
				return err
			}
			defer a.Close()

			var key string
			if len(args) == 1 {
				key = args[0]
			}
			key, err = a.Backups.Download(cmd.Context(), key, out)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "downloaded %s to %s\n", key, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "Destination file (must not exist)")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}
