package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kuitang/yanote/internal/errs"
)

func newCreateUserCmd(flags *globalFlags) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "createuser <username>",
		Short: "Create an account (password from --password or the first line of stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := resolvePassword(cmd.InOrStdin(), password)
			if err != nil {
				return err
			}
			a, err := openApp(cmd, flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			user, err := a.Users.Register(cmd.Context(), args[0], pw)
			if err != nil {
				return describe(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %s (%s)\n", user.Username, user.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "Account password")
	return cmd
}

func newSetPasswordCmd(flags *globalFlags) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "setpassword <username>",
		Short: "Replace an account password and end its sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := resolvePassword(cmd.InOrStdin(), password)
			if err != nil {
				return err
			}
			a, err := openApp(cmd, flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			user, err := a.Users.GetByUsername(ctx, args[0])
			if err != nil {
				return describe(err)
			}
			if err := a.Users.SetPassword(ctx, user.ID, pw); err != nil {
				return describe(err)
			}
			if err := a.Sessions.DeleteByUserID(ctx, user.ID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "password updated for %s\n", user.Username)
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "New password")
	return cmd
}

func resolvePassword(in io.Reader, flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", errors.New("password is required (--password or stdin)")
	}
	return pw, nil
}

// describe turns field errors into one readable line.
func describe(err error) error {
	fields := errs.FieldsOf(err)
	if len(fields) == 0 {
		return err
	}
	parts := make([]string, 0, len(fields))
	for _, name := range errs.FieldNames(err) {
		parts = append(parts, name+": "+fields[name])
	}
	return errors.New(strings.Join(parts, "; "))
}
