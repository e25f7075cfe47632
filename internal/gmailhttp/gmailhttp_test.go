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

package gmailhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/matta/gotsend/internal/dispatch"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
)

// tokenServer implements the refresh_token grant of an OAuth 2.0
// token endpoint, accepting a single refresh token.
type tokenServer struct {
	valid string

	mu    sync.Mutex
	grant []string
}

func (s *tokenServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.grant = append(s.grant, r.PostForm.Get("grant_type"))
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if r.PostForm.Get("refresh_token") != s.valid {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"access_token": "fresh-" + s.valid,
		"token_type":   "Bearer",
		"expires_in":   3599,
	})
}

func newTestRefresher(t *testing.T, s *tokenServer) *Refresher {
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	r, err := NewRefresher("client-id", "client-secret",
		WithEndpoint(oauth2.Endpoint{TokenURL: srv.URL, AuthStyle: oauth2.AuthStyleInParams}),
		WithHTTPClient(srv.Client()))
	if err != nil {
		t.Fatalf("NewRefresher() error = %v", err)
	}
	return r
}

func TestRefresh(t *testing.T) {
	s := &tokenServer{valid: "rt-1"}
	r := newTestRefresher(t, s)

	got, err := r.Refresh(context.Background(), "rt-1")
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if got != "fresh-rt-1" {
		t.Errorf("Refresh() = %q, want %q", got, "fresh-rt-1")
	}
	if len(s.grant) != 1 || s.grant[0] != "refresh_token" {
		t.Errorf("grants = %v, want [refresh_token]", s.grant)
	}

	// No caching: each call goes to the endpoint.
	if _, err := r.Refresh(context.Background(), "rt-1"); err != nil {
		t.Fatalf("second Refresh() error = %v", err)
	}
	if len(s.grant) != 2 {
		t.Errorf("endpoint called %d times, want 2", len(s.grant))
	}
}

func TestRefreshRejected(t *testing.T) {
	s := &tokenServer{valid: "rt-1"}
	r := newTestRefresher(t, s)

	for _, rt := range []string{"revoked", ""} {
		_, err := r.Refresh(context.Background(), rt)
		if !errors.Is(err, dispatch.ErrRefreshFailed) {
			t.Errorf("Refresh(%q) error = %v, want ErrRefreshFailed", rt, err)
		}
	}
	if len(s.grant) != 1 {
		t.Errorf("endpoint called %d times, want 1 (empty token is not sent)", len(s.grant))
	}
}

func TestNewRefresherValidates(t *testing.T) {
	cases := []struct {
		id, secret string
		want       error
	}{
		{"", "secret", ErrMissingClientID},
		{"id", "", ErrMissingClientSecret},
	}
	for _, tc := range cases {
		if _, err := NewRefresher(tc.id, tc.secret); err != tc.want {
			t.Errorf("NewRefresher(%q, %q) error = %v, want %v", tc.id, tc.secret, err, tc.want)
		}
	}
	r, err := NewRefresher("id", "secret")
	if err != nil {
		t.Fatalf("NewRefresher() error = %v", err)
	}
	if r.config.Endpoint.TokenURL == "" {
		t.Errorf("default endpoint has no token URL")
	}
}
