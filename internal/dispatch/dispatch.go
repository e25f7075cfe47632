// Copyright 2019 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package dispatch sends one templated message to each recipient of
// a list, spreading the work over several sending accounts.
//
// Recipients are assigned to accounts in fixed size blocks (see
// Plan) and delivered by a bounded pool of workers.  A rejected
// access token is refreshed once and the delivery retried once.  One
// recipient's failure never stops the others; Run reports what was
// and was not sent.
package dispatch

import (
	"context"
	"log"
	"time"

	"github.com/matta/gotsend/internal/message"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxConcurrentPerIdentity bounds in-flight deliveries per
// sending identity.  The batch as a whole runs at most this many times
// the number of identities.
const DefaultMaxConcurrentPerIdentity = 8

// ledgerTimeout bounds recording a finished batch's deliveries.
const ledgerTimeout = 30 * time.Second

// Options tune a batch.  Zero values select the defaults.
type Options struct {
	QuotaPerIdentity         int
	MaxConcurrentPerIdentity int

	// Pause after each successful send, per identity.  Zero
	// means no pause.
	PerMessageDelay time.Duration

	// Bound on the whole batch.  Zero means none beyond the
	// caller's context.
	Deadline time.Duration
}

func (o Options) withDefaults() Options {
	if o.QuotaPerIdentity <= 0 {
		o.QuotaPerIdentity = DefaultQuotaPerIdentity
	}
	if o.MaxConcurrentPerIdentity <= 0 {
		o.MaxConcurrentPerIdentity = DefaultMaxConcurrentPerIdentity
	}
	return o
}

// Request is one batch to send.
type Request struct {
	// The user the batch is sent for.  Selects the sending
	// identities available and is passed to the ledger.
	Owner string

	Recipients []message.Recipient

	// The identities to rotate through, in rotation order.
	SenderIDs []int64

	Template message.Template
	Options  Options
}

// Dispatcher runs batches against its collaborators.
type Dispatcher struct {
	store     CredentialStore
	transport Transport
	refresher Refresher
	ledger    Ledger
	policy    RetryPolicy
}

// New returns a Dispatcher.  ledger may be nil.
func New(store CredentialStore, t Transport, r Refresher, ledger Ledger) *Dispatcher {
	return &Dispatcher{
		store:     store,
		transport: t,
		refresher: r,
		ledger:    ledger,
		policy:    DefaultRetryPolicy,
	}
}

// batch is the state shared by the workers of one Run.
type batch struct {
	id       string
	template message.Template
	senders  []*sender
	policy   RetryPolicy
	delay    time.Duration
}

// Run sends req and returns what happened.  An error is returned only
// when the batch could not start: no recipients, an empty template, a
// *ConfigError, or a failing credential store.  Once dispatch begins
// Run always returns a result, partial or not.
func (d *Dispatcher) Run(ctx context.Context, req Request) (*BatchResult, error) {
	if len(req.Recipients) == 0 {
		return nil, ErrNoRecipients
	}
	if req.Template.Empty() {
		return nil, ErrEmptyTemplate
	}
	identities, err := ResolveIdentities(ctx, d.store, req.Owner, req.SenderIDs)
	if err != nil {
		return nil, err
	}
	opts := req.Options.withDefaults()
	items, err := Plan(req.Recipients, identities, opts.QuotaPerIdentity)
	if err != nil {
		return nil, err
	}

	b := &batch{
		id:       uuid.New().String(),
		template: req.Template,
		policy:   d.policy,
		delay:    opts.PerMessageDelay,
	}
	for _, id := range identities {
		b.senders = append(b.senders, newSender(id))
	}

	agg := newAggregator(req.Recipients)
	for seq, r := range req.Recipients {
		if !r.Eligible() {
			agg.add(Outcome{
				Item:   WorkItem{Seq: seq, Identity: -1, Recipient: r},
				Status: StatusSkipped,
				Err:    ErrMalformedRecipient,
			})
		}
	}

	log.Printf("batch %s: %d recipients, %d eligible, %d senders, quota %d, at most %d in flight",
		b.id, len(req.Recipients), len(items), len(identities), opts.QuotaPerIdentity,
		opts.MaxConcurrentPerIdentity*len(identities))
	for i, s := range b.senders {
		log.Printf("batch %s: sender %d is %s (%d sent recently)", b.id, i, s.id.Address, s.id.SentInWindow)
	}

	runCtx := ctx
	if opts.Deadline > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, opts.Deadline)
		defer cancel()
	}
	d.dispatch(runCtx, b, items, opts.MaxConcurrentPerIdentity, agg)

	res := agg.result()
	res.BatchID = b.id
	log.Printf("batch %s: sent %d of %d", b.id, res.TotalSent, res.TotalAttempted)

	// Messages already handed to the transport are recorded even
	// when the caller has given up on the batch.
	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerTimeout)
	defer cancel()
	res.LedgerFailures = d.record(recCtx, req.Owner, b, res)
	return res, nil
}

// ResolveIdentities looks up ids among owner's accounts in store,
// keeping the order of ids.  Empty, unknown or repeated ids are a
// *ConfigError.
func ResolveIdentities(ctx context.Context, store CredentialStore, owner string, ids []int64) ([]message.Identity, error) {
	if len(ids) == 0 {
		return nil, &ConfigError{ErrNoIdentities}
	}
	all, err := store.ListSenderIdentities(ctx, owner)
	if err != nil {
		return nil, errors.Wrap(err, "listing sender identities")
	}
	byID := make(map[int64]message.Identity, len(all))
	for _, id := range all {
		byID[id.ID] = id
	}

	seen := make(map[int64]bool, len(ids))
	out := make([]message.Identity, 0, len(ids))
	for _, id := range ids {
		ident, ok := byID[id]
		if !ok {
			return nil, &ConfigError{errors.Wrapf(ErrUnknownIdentity, "sender %d", id)}
		}
		if seen[id] {
			return nil, &ConfigError{errors.Wrapf(ErrDuplicateIdentity, "sender %d", id)}
		}
		seen[id] = true
		out = append(out, ident)
	}
	return out, nil
}

// dispatch runs items on a fixed pool of workers and collects their
// outcomes into agg until all are in or ctx is done.  Each identity
// has its own queue and perIdentity workers, so a slow account cannot
// hold up the others.  Items without an outcome when ctx is done are
// reported as timed out; their workers are abandoned.
func (d *Dispatcher) dispatch(ctx context.Context, b *batch, items []WorkItem, perIdentity int, agg *aggregator) {
	if len(items) == 0 {
		return
	}

	queues := make([][]WorkItem, len(b.senders))
	for _, it := range items {
		queues[it.Identity] = append(queues[it.Identity], it)
	}

	// Buffered so abandoned workers never block.
	outcomes := make(chan Outcome, len(items))

	var grp errgroup.Group
	for _, q := range queues {
		if len(q) == 0 {
			continue
		}
		work := make(chan WorkItem, len(q))
		for _, it := range q {
			work <- it
		}
		close(work)

		n := perIdentity
		if n > len(q) {
			n = len(q)
		}
		for i := 0; i < n; i++ {
			grp.Go(func() error {
				for it := range work {
					outcomes <- d.deliver(ctx, b, it)
				}
				return nil
			})
		}
	}
	go func() {
		_ = grp.Wait()
		close(outcomes)
	}()

collect:
	for {
		select {
		case o, ok := <-outcomes:
			if !ok {
				break collect
			}
			agg.add(o)
		case <-ctx.Done():
			break collect
		}
	}
	// Keep what finished before the deadline.
drain:
	for {
		select {
		case o, ok := <-outcomes:
			if !ok {
				break drain
			}
			agg.add(o)
		default:
			break drain
		}
	}

	timedOut := 0
	for _, it := range items {
		if agg.has(it.Seq) {
			continue
		}
		agg.add(Outcome{Item: it, Status: StatusTransportError, Err: errors.Wrap(ErrTimeout, "batch deadline passed")})
		timedOut++
	}
	if timedOut > 0 {
		log.Printf("batch %s: stopped early: %v; %d recipients timed out", b.id, ctx.Err(), timedOut)
	}
}

// record passes every confirmed delivery to the ledger, in order, and
// returns how many it failed to take.
func (d *Dispatcher) record(ctx context.Context, owner string, b *batch, res *BatchResult) int {
	if d.ledger == nil {
		return 0
	}
	failures := 0
	for _, o := range res.Outcomes {
		if o.Status != StatusSent {
			continue
		}
		del := &message.Delivery{
			BatchID:   b.id,
			SenderID:  b.senders[o.Item.Identity].id.ID,
			Recipient: o.Item.Recipient.Email(),
			Subject:   o.Subject,
		}
		if err := d.ledger.Record(ctx, owner, del); err != nil {
			log.Printf("batch %s: recording delivery to %s: %v", b.id, del.Recipient, err)
			failures++
		}
	}
	return failures
}
