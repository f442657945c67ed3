package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kuitang/yanote/internal/app"
	"github.com/kuitang/yanote/internal/notes"
	"github.com/kuitang/yanote/internal/urlutil"
	"github.com/kuitang/yanote/internal/web"
)

func newNotesCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notes",
		Short: "Inspect stored notes",
	}
	cmd.AddCommand(newNotesListCmd(flags), newNotesCountCmd(flags))
	return cmd
}

// noteRow is one line of `notes list` output.
type noteRow struct {
	Slug      string    `json:"slug"`
	Title     string    `json:"title"`
	Author    string    `json:"author"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

func newNotesListCmd(flags *globalFlags) *cobra.Command {
	var (
		username string
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List notes, optionally for one author",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			rows, err := listRows(cmd, a, username)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SLUG\tTITLE\tAUTHOR\tURL")
			for _, r := range rows {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Slug, r.Title, r.Author, r.URL)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&username, "user", "", "Only notes written by this username")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func listRows(cmd *cobra.Command, a *app.App, username string) ([]noteRow, error) {
	ctx := cmd.Context()

	var list []notes.Note
	if username != "" {
		user, err := a.Users.GetByUsername(ctx, username)
		if err != nil {
			return nil, describe(err)
		}
		if list, err = a.Notes.ListByOwner(ctx, user.Principal()); err != nil {
			return nil, err
		}
	} else {
		var err error
		if list, err = a.Notes.ListAll(ctx); err != nil {
			return nil, err
		}
	}

	authors := map[string]string{}
	rows := make([]noteRow, 0, len(list))
	for _, n := range list {
		name, ok := authors[n.AuthorID]
		if !ok {
			if u, err := a.Users.GetByID(ctx, n.AuthorID); err == nil {
				name = u.Username
			}
			authors[n.AuthorID] = name
		}
		rows = append(rows, noteRow{
			Slug:      n.Slug,
			Title:     n.Title,
			Author:    name,
			URL:       urlutil.BuildAbsolute(a.Config.BaseURL, web.MustReverse(web.RouteDetail, n.Slug)),
			CreatedAt: n.CreatedAt,
		})
	}
	return rows, nil
}

func newNotesCountCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the number of stored notes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd, flags, false)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Notes.Count(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
}
