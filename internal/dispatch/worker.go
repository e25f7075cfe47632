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

package dispatch

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/matta/gotsend/internal/message"
	"github.com/matta/gotsend/internal/render"

	"github.com/pkg/errors"
)

// RetryPolicy bounds the work done for one recipient whose access
// token is rejected.
type RetryPolicy struct {
	// Total delivery attempts, including the first.
	MaxAttempts int

	// Token refreshes this recipient may trigger.
	MaxRefreshes int
}

// DefaultRetryPolicy allows a single refresh followed by a single
// retry.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 2, MaxRefreshes: 1}

// sender is the batch's view of one identity.  The access token is
// the only state shared between workers and is guarded by mu.
type sender struct {
	id message.Identity

	mu    sync.Mutex
	token string
	// The token whose refresh already failed in this batch.
	failed string
}

func newSender(id message.Identity) *sender {
	return &sender{id: id, token: id.AccessToken}
}

func (s *sender) current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// renew returns the token to retry with after used was rejected.  If
// another worker already replaced used, its token is returned without
// a refresh.  Otherwise r is called once; refreshed reports whether
// that happened and succeeded.
func (s *sender) renew(ctx context.Context, used string, r Refresher) (token string, refreshed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token != used {
		return s.token, false, nil
	}
	if s.failed == used {
		return "", false, errors.Wrapf(ErrRefreshFailed, "sender %s: earlier refresh failed", s.id.Address)
	}
	if s.id.RefreshToken == "" {
		s.failed = used
		return "", false, errors.Wrapf(ErrRefreshFailed, "sender %s has no refresh token", s.id.Address)
	}
	token, err = r.Refresh(ctx, s.id.RefreshToken)
	if err != nil {
		s.failed = used
		return "", false, errors.Wrapf(err, "refreshing token for %s", s.id.Address)
	}
	if token == "" {
		s.failed = used
		return "", false, errors.Wrapf(ErrRefreshFailed, "empty token for %s", s.id.Address)
	}
	s.token = token
	return token, true, nil
}

// deliver performs the whole attempt for one work item and reports
// its outcome.  It never returns an error; failures are outcomes.
func (d *Dispatcher) deliver(ctx context.Context, b *batch, item WorkItem) Outcome {
	out := Outcome{Item: item}
	fail := func(status Status, err error) Outcome {
		out.Status = status
		out.Err = err
		log.Printf("batch %s: row %d to %s: %v: %v", b.id, item.Seq, item.Recipient.Email(), status, err)
		return out
	}

	if err := ctx.Err(); err != nil {
		return fail(StatusTransportError, errors.Wrap(ErrTimeout, err.Error()))
	}

	subject, body, err := render.Render(b.template, item.Recipient)
	if err != nil {
		return fail(StatusTransportError, errors.Wrap(err, "rendering template"))
	}
	out.Subject = subject

	s := b.senders[item.Identity]
	msg := &message.Outgoing{
		From:    message.Address{Name: s.id.DisplayName, Address: s.id.Address},
		To:      item.Recipient.Email(),
		Subject: subject,
		Body:    body,
	}

	token := s.current()
	refreshes := 0
	for attempt := 1; ; attempt++ {
		err = d.transport.Deliver(ctx, token, msg)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			return fail(StatusTransportError, errors.Wrap(ErrTimeout, err.Error()))
		}
		if !errors.Is(err, ErrAuthExpired) {
			if attempt == 1 {
				return fail(StatusTransportError, err)
			}
			// The retry that followed a refresh failed.
			return fail(StatusAuthExpiredFinal, err)
		}
		if attempt >= b.policy.MaxAttempts || refreshes >= b.policy.MaxRefreshes {
			return fail(StatusAuthExpiredFinal, err)
		}
		refreshes++
		var refreshed bool
		token, refreshed, err = s.renew(ctx, token, d.refresher)
		if err != nil {
			return fail(StatusAuthExpiredFinal, err)
		}
		if refreshed {
			log.Printf("batch %s: refreshed access token for %s", b.id, s.id.Address)
			d.saveToken(ctx, s.id, token)
		}
	}

	pause(ctx, b.delay)
	out.Status = StatusSent
	return out
}

// saveToken writes a refreshed token back to the store, if it takes
// one.  Failure only costs a refresh in a later batch.
func (d *Dispatcher) saveToken(ctx context.Context, id message.Identity, token string) {
	saver, ok := d.store.(CredentialSaver)
	if !ok {
		return
	}
	// The batch may already be over and the store closed.
	if ctx.Err() != nil {
		return
	}
	if err := saver.SaveAccessToken(ctx, id.ID, token); err != nil {
		log.Printf("saving refreshed token for %s: %v", id.Address, err)
	}
}

// pause sleeps for delay or until ctx is done.
func pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
