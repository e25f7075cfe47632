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

package gmail

import (
	"context"
	"encoding/base64"
	"net/http"
	"sync"

	"github.com/matta/gotsend/internal/dispatch"
	"github.com/matta/gotsend/internal/message"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
	gmail_api "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	SendScope = gmail_api.GmailSendScope

	// See https://developers.google.com/gmail/api/reference/quota
	quotaUnitsPerMessagesSend = 100

	quotaUnitsPerSecond = 250
	rateLimitPerSecond  = quotaUnitsPerSecond * 0.8
	rateLimitBurst      = quotaUnitsPerSecond
)

// Transport sends messages through the GMail API on behalf of any
// number of accounts.  Quota is tracked per sending address, which is
// how GMail enforces it.
type Transport struct {
	opts []option.ClientOption

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

var _ dispatch.Transport = (*Transport)(nil)

// New returns a Transport.  opts are applied to every GMail service
// it creates, after the per-call authenticated HTTP client.
func New(opts ...option.ClientOption) *Transport {
	return &Transport{opts: opts, limiters: make(map[string]*rate.Limiter)}
}

func (t *Transport) limiter(sender string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.limiters[sender]
	if !ok {
		l = rate.NewLimiter(rateLimitPerSecond, rateLimitBurst)
		t.limiters[sender] = l
	}
	return l
}

// Deliver sends msg as the user owning accessToken.  A rejected token
// yields an error wrapping dispatch.ErrAuthExpired.
func (t *Transport) Deliver(ctx context.Context, accessToken string, msg *message.Outgoing) error {
	raw, err := msg.RFC2822()
	if err != nil {
		return errors.Wrapf(err, "building message to %s", msg.To)
	}
	if err := t.limiter(msg.From.Address).WaitN(ctx, quotaUnitsPerMessagesSend); err != nil {
		// WaitN fails early when the wait would overrun the deadline.
		if _, ok := ctx.Deadline(); ok || ctx.Err() != nil {
			return errors.Wrapf(dispatch.ErrTimeout, "waiting for sending quota: %v", err)
		}
		return err
	}

	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})
	opts := append([]option.ClientOption{option.WithHTTPClient(oauth2.NewClient(ctx, src))}, t.opts...)
	s, err := gmail_api.NewService(ctx, opts...)
	if err != nil {
		return errors.Wrap(err, "unable to create GMail service")
	}

	_, err = s.Users.Messages.Send("me", &gmail_api.Message{
		Raw: base64.URLEncoding.EncodeToString(raw),
	}).Context(ctx).Do()
	if err != nil {
		return classify(err, msg)
	}
	return nil
}

// classify maps a GMail API error onto the dispatch error kinds.
func classify(err error, msg *message.Outgoing) error {
	if cause, ok := errors.Cause(err).(*googleapi.Error); ok {
		if cause.Code == http.StatusUnauthorized {
			return errors.Wrapf(dispatch.ErrAuthExpired, "sending as %s: %v", msg.From.Address, cause)
		}
	}
	return errors.Wrapf(err, "sending to %s as %s", msg.To, msg.From.Address)
}
