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

/*
Package gmailhttp obtains OAuth 2.0 access tokens for GMail sending
accounts.

Each account is represented by a long lived refresh token, granted
when the account was connected with the gmail.send scope.  Refresh
exchanges it at Google's token endpoint for a fresh access token.  The
refresh token itself never changes here; Google may rotate it, but
any rotated value it returns is ignored since the old one stays valid
for reuse.

Access token expiry is not predicted.  The sending side treats a 401
from GMail as the signal to refresh, which handles revocation and clock
skew the same way as ordinary expiry.
*/
package gmailhttp

import (
	"context"
	"net/http"

	"github.com/matta/gotsend/internal/dispatch"
	"github.com/matta/gotsend/internal/gmail"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

var (
	ErrMissingClientID     = errors.New("missing OAuth client ID")
	ErrMissingClientSecret = errors.New("missing OAuth client secret")
)

// Refresher exchanges refresh tokens for access tokens.  It holds no
// per-account state and is safe for concurrent use.
type Refresher struct {
	config *oauth2.Config
	client *http.Client
}

var _ dispatch.Refresher = (*Refresher)(nil)

// Option configures a Refresher.
type Option func(*Refresher)

// WithEndpoint replaces Google's OAuth 2.0 endpoint.
func WithEndpoint(e oauth2.Endpoint) Option {
	return func(r *Refresher) { r.config.Endpoint = e }
}

// WithHTTPClient sets the client used to reach the token endpoint.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Refresher) { r.client = c }
}

// NewRefresher returns a Refresher for the given OAuth client.
func NewRefresher(clientID, clientSecret string, opts ...Option) (*Refresher, error) {
	if clientID == "" {
		return nil, ErrMissingClientID
	}
	if clientSecret == "" {
		return nil, ErrMissingClientSecret
	}
	r := &Refresher{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{gmail.SendScope},
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Refresh returns a new access token for refreshToken.  Errors wrap
// dispatch.ErrRefreshFailed.
func (r *Refresher) Refresh(ctx context.Context, refreshToken string) (string, error) {
	if refreshToken == "" {
		return "", errors.Wrap(dispatch.ErrRefreshFailed, "no refresh token")
	}
	if r.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, r.client)
	}
	// A token without an access token is never valid, so the
	// source always goes to the endpoint.
	tok, err := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return "", errors.Wrapf(dispatch.ErrRefreshFailed, "%v", err)
	}
	if tok.AccessToken == "" {
		return "", errors.Wrap(dispatch.ErrRefreshFailed, "token endpoint returned no access token")
	}
	return tok.AccessToken, nil
}
