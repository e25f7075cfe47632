package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"github.com/matta/gotsend/internal/archive"
	"github.com/matta/gotsend/internal/dispatch"
	"github.com/matta/gotsend/internal/gmail"
	"github.com/matta/gotsend/internal/gmailhttp"
	"github.com/matta/gotsend/internal/homedir"
	"github.com/matta/gotsend/internal/message"
	"github.com/matta/gotsend/internal/recipients"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

type sendFlags struct {
	csv         string
	subject     string
	body        string
	subjectFile string
	bodyFile    string
	senders     []int64
	quota       int
	concurrency int
	delay       time.Duration
	deadline    time.Duration
	archive     string
	dryRun      bool
}

func sendCmd(a *app) *cobra.Command {
	f := &sendFlags{}
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a templated message to every recipient of a CSV list",
		Long: `Send renders the subject and body once per CSV row, replacing each
{column} placeholder with the row's value, and sends the result to the
row's email column.  {{ and }} produce literal braces.

Recipients are assigned to the sending accounts in blocks of --quota:
the first block goes to the first account, the next to the second, and
so on, wrapping around.

Examples:
  gotsend send --csv leads.csv --subject 'Hi {name}' --body-file body.txt
  gotsend send --csv leads.csv --subject-file s.txt --body-file b.txt --senders 1,3 --quota 20`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			opts := a.cfg.Send.Options()
			if flags.Changed("quota") {
				opts.QuotaPerIdentity = f.quota
			}
			if flags.Changed("concurrency") {
				opts.MaxConcurrentPerIdentity = f.concurrency
			}
			if flags.Changed("delay") {
				opts.PerMessageDelay = f.delay
			}
			if flags.Changed("deadline") {
				opts.Deadline = f.deadline
			}
			if f.archive == "" {
				f.archive = a.cfg.Archive
			}
			return runSend(cmd.Context(), a, f, opts)
		},
	}

	cmd.Flags().StringVar(&f.csv, "csv", "", "recipient list with a header row and an email column")
	cmd.Flags().StringVar(&f.subject, "subject", "", "subject template")
	cmd.Flags().StringVar(&f.body, "body", "", "body template")
	cmd.Flags().StringVar(&f.subjectFile, "subject-file", "", "read the subject template from a file")
	cmd.Flags().StringVar(&f.bodyFile, "body-file", "", "read the body template from a file")
	cmd.Flags().Int64SliceVar(&f.senders, "senders", nil, "sender account IDs in rotation order (default all, by ID)")
	cmd.Flags().IntVar(&f.quota, "quota", 0, "recipients per sender block")
	cmd.Flags().IntVar(&f.concurrency, "concurrency", 0, "deliveries in flight per sender")
	cmd.Flags().DurationVar(&f.delay, "delay", 0, "pause after each message, per sender")
	cmd.Flags().DurationVar(&f.deadline, "deadline", 0, "give up on the batch after this long")
	cmd.Flags().StringVar(&f.archive, "archive", "", "copy delivered messages to this directory")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "show the sender assignment without sending")
	cmd.MarkFlagRequired("csv")
	cmd.MarkFlagsMutuallyExclusive("subject", "subject-file")
	cmd.MarkFlagsMutuallyExclusive("body", "body-file")
	return cmd
}

func readTemplate(f *sendFlags) (message.Template, error) {
	tpl := message.Template{Subject: f.subject, Body: f.body}
	if f.subjectFile != "" {
		b, err := os.ReadFile(homedir.Expand(f.subjectFile))
		if err != nil {
			return tpl, errors.Wrap(err, "reading subject template")
		}
		tpl.Subject = string(b)
	}
	if f.bodyFile != "" {
		b, err := os.ReadFile(homedir.Expand(f.bodyFile))
		if err != nil {
			return tpl, errors.Wrap(err, "reading body template")
		}
		tpl.Body = string(b)
	}
	return tpl, nil
}

func readRecipients(path string) ([]message.Recipient, error) {
	in, err := os.Open(homedir.Expand(path))
	if err != nil {
		return nil, errors.Wrap(err, "opening recipient list")
	}
	defer in.Close()
	return recipients.Read(in)
}

func runSend(ctx context.Context, a *app, f *sendFlags, opts dispatch.Options) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	rs, err := readRecipients(f.csv)
	if err != nil {
		return err
	}
	tpl, err := readTemplate(f)
	if err != nil {
		return err
	}

	db, err := a.openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	ids := f.senders
	if len(ids) == 0 {
		all, err := db.ListSenderIdentities(ctx, a.cfg.Owner)
		if err != nil {
			return errors.Wrap(err, "unable to list sender accounts")
		}
		for _, id := range all {
			ids = append(ids, id.ID)
		}
	}

	if f.dryRun {
		return showPlan(ctx, db, a.cfg.Owner, rs, ids, opts)
	}

	refresher, err := gmailhttp.NewRefresher(a.cfg.Google.ClientID, a.cfg.Google.ClientSecret)
	if err != nil {
		return errors.Wrap(err, "unable to initialize token refresh")
	}
	var transport dispatch.Transport = gmail.New()
	if f.archive != "" {
		store, err := archive.New(homedir.Expand(f.archive))
		if err != nil {
			return errors.Wrap(err, "unable to initialize archive")
		}
		transport = store.Wrap(transport)
	}

	d := dispatch.New(db, transport, refresher, db)
	res, err := d.Run(ctx, dispatch.Request{
		Owner:      a.cfg.Owner,
		Recipients: rs,
		SenderIDs:  ids,
		Template:   tpl,
		Options:    opts,
	})
	if err != nil {
		return errors.Wrap(err, "unable to send")
	}
	report(os.Stdout, res)
	if res.TotalSent < res.TotalAttempted {
		return errors.Errorf("%d of %d messages were not sent", res.TotalAttempted-res.TotalSent, res.TotalAttempted)
	}
	return nil
}

func report(w io.Writer, res *dispatch.BatchResult) {
	fmt.Fprintf(w, "Batch %s: sent %d of %d\n", res.BatchID, res.TotalSent, res.TotalAttempted)
	if res.LedgerFailures > 0 {
		fmt.Fprintf(w, "Warning: %d deliveries could not be recorded\n", res.LedgerFailures)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	header := false
	for _, o := range res.Outcomes {
		if o.Status == dispatch.StatusSent {
			continue
		}
		if !header {
			fmt.Fprintln(tw, "ROW\tRECIPIENT\tSTATUS\tDETAIL")
			header = true
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%v\n", o.Item.Seq+1, o.Item.Recipient.Email(), o.Status, o.Err)
	}
	tw.Flush()
}

// showPlan prints how many recipients each sender would be given.
func showPlan(ctx context.Context, db dispatch.CredentialStore, owner string, rs []message.Recipient, ids []int64, opts dispatch.Options) error {
	idents, err := dispatch.ResolveIdentities(ctx, db, owner, ids)
	if err != nil {
		return err
	}
	items, err := dispatch.Plan(rs, idents, opts.QuotaPerIdentity)
	if err != nil {
		return err
	}

	counts := make([]int, len(idents))
	for _, it := range items {
		counts[it.Identity]++
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSENDER\tRECIPIENTS\tSENT(24H)")
	for i, ident := range idents {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\n", ident.ID, ident.Address, counts[i], ident.SentInWindow)
	}
	tw.Flush()
	fmt.Printf("%d of %d recipients have an address\n", len(items), len(rs))
	return nil
}
