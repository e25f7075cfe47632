package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/matta/gotsend/internal/homedir"
	"github.com/matta/gotsend/internal/message"
	"github.com/matta/gotsend/internal/persist"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
)

func sendersCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "senders",
		Short: "Manage the GMail accounts messages are sent from",
	}
	cmd.AddCommand(sendersAddCmd(a))
	cmd.AddCommand(sendersListCmd(a))
	cmd.AddCommand(sendersRenameCmd(a))
	cmd.AddCommand(sendersRemoveCmd(a))
	return cmd
}

// readToken reads an OAuth 2.0 token saved as JSON, as written by
// most OAuth tools and by golang.org/x/oauth2 itself.
func readToken(path string) (*oauth2.Token, error) {
	b, err := os.ReadFile(homedir.Expand(path))
	if err != nil {
		return nil, errors.Wrap(err, "reading token file")
	}
	tok := &oauth2.Token{}
	if err := json.Unmarshal(b, tok); err != nil {
		return nil, errors.Wrap(err, "parsing token file")
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, errors.New("token file has neither access_token nor refresh_token")
	}
	return tok, nil
}

func sendersAddCmd(a *app) *cobra.Command {
	var name, tokenFile string
	cmd := &cobra.Command{
		Use:   "add ADDRESS",
		Short: "Connect a sending account",
		Long: `Connect a GMail account that was authorized for the gmail.send
scope.  The token file holds the account's OAuth 2.0 tokens as JSON
with access_token and refresh_token fields.  Adding an address again
replaces its tokens.

Examples:
  gotsend senders add ann@gmail.com --name 'Ann Example' --token-file ann.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := readToken(tokenFile)
			if err != nil {
				return err
			}
			if tok.RefreshToken == "" {
				fmt.Fprintln(os.Stderr, "Warning: no refresh token; the account stops working when its access token expires")
			}

			db, err := a.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			id, err := db.AddSender(cmd.Context(), a.cfg.Owner, &message.Identity{
				Address:      args[0],
				DisplayName:  name,
				AccessToken:  tok.AccessToken,
				RefreshToken: tok.RefreshToken,
			})
			if err != nil {
				return errors.Wrap(err, "unable to add sender")
			}
			fmt.Printf("Added sender %d: %s\n", id, args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name for the From header")
	cmd.Flags().StringVar(&tokenFile, "token-file", "", "JSON file with the account's OAuth 2.0 tokens")
	cmd.MarkFlagRequired("token-file")
	return cmd
}

func sendersListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the connected sending accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			ids, err := db.ListSenderIdentities(cmd.Context(), a.cfg.Owner)
			if err != nil {
				return errors.Wrap(err, "unable to list senders")
			}
			if len(ids) == 0 {
				fmt.Println("No senders connected.")
				return nil
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tADDRESS\tNAME\tREFRESH\tSENT(24H)")
			for _, id := range ids {
				refresh := "yes"
				if id.RefreshToken == "" {
					refresh = "no"
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\n", id.ID, id.Address, id.DisplayName, refresh, id.SentInWindow)
			}
			return tw.Flush()
		},
	}
}

func sendersRenameCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rename ID NAME",
		Short: "Change the display name a sending account uses",
		Long: `Change the name shown in the From header of messages sent from an
account.  An empty NAME leaves just the address.

Examples:
  gotsend senders rename 2 'Ann Example'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return errors.Errorf("invalid sender ID %q", args[0])
			}
			db, err := a.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.RenameSender(cmd.Context(), a.cfg.Owner, id, args[1]); err != nil {
				return errors.Wrap(err, "unable to rename sender")
			}
			fmt.Printf("Renamed sender %d to %q\n", id, args[1])
			return nil
		},
	}
}

func sendersRemoveCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove ID",
		Short: "Disconnect a sending account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return errors.Errorf("invalid sender ID %q", args[0])
			}
			db, err := a.openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.RemoveSender(cmd.Context(), a.cfg.Owner, id); err != nil {
				return errors.Wrap(err, "unable to remove sender")
			}
			fmt.Printf("Removed sender %d\n", id)
			return nil
		},
	}
}

func statsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show how many messages were sent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			db, err := a.openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			total, err := db.CountSent(ctx, a.cfg.Owner, time.Time{})
			if err != nil {
				return errors.Wrap(err, "unable to count messages")
			}
			recent, err := db.CountSent(ctx, a.cfg.Owner, time.Now().Add(-persist.SentWindow))
			if err != nil {
				return errors.Wrap(err, "unable to count messages")
			}
			ids, err := db.ListSenderIdentities(ctx, a.cfg.Owner)
			if err != nil {
				return errors.Wrap(err, "unable to list senders")
			}

			fmt.Printf("Owner: %s\n", a.cfg.Owner)
			fmt.Printf("Sent: %d total, %d in the last 24 hours\n", total, recent)
			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			for _, id := range ids {
				fmt.Fprintf(tw, "  %s\t%d\n", id.Address, id.SentInWindow)
			}
			return tw.Flush()
		},
	}
}
