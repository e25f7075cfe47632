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

package message

import (
	"io"
	"net/mail"
	"strings"
	"testing"
)

func TestRecipientEmail(t *testing.T) {
	cases := []struct {
		r    Recipient
		want string
	}{
		{Recipient{{"name", "Ann"}, {"email", "ann@example.com"}}, "ann@example.com"},
		{Recipient{{"email", "  bob@example.com \t"}}, "bob@example.com"},
		{Recipient{{"email", "   "}}, ""},
		{Recipient{{"name", "Cy"}}, ""},
		{nil, ""},
	}
	for _, tc := range cases {
		if got := tc.r.Email(); got != tc.want {
			t.Errorf("%v.Email() = %q, want %q", tc.r, got, tc.want)
		}
		if got, want := tc.r.Eligible(), tc.want != ""; got != want {
			t.Errorf("%v.Eligible() = %v, want %v", tc.r, got, want)
		}
	}
}

func TestAddressString(t *testing.T) {
	cases := []struct {
		a    Address
		want string
	}{
		{Address{"", "a@example.com"}, "a@example.com"},
		{Address{"Ann Lee", "a@example.com"}, `"Ann Lee" <a@example.com>`},
		{Address{"Zoë", "z@example.com"}, "=?utf-8?q?Zo=C3=AB?= <z@example.com>"},
	}
	for _, tc := range cases {
		if got := tc.a.String(); got != tc.want {
			t.Errorf("%#v.String() = %q, want %q", tc.a, got, tc.want)
		}
	}
}

func TestRFC2822(t *testing.T) {
	m := &Outgoing{
		From:    Address{"Ann Lee", "ann@example.com"},
		To:      "bob@example.com",
		Subject: "Hello\nBob",
		Body:    "Hi Bob,\nsee you soon.\n",
	}
	raw, err := m.RFC2822()
	if err != nil {
		t.Fatalf("RFC2822() = %v, want nil", err)
	}
	parsed, err := mail.ReadMessage(strings.NewReader(string(raw)))
	if err != nil {
		t.Fatalf("mail.ReadMessage() = %v", err)
	}
	if got, want := parsed.Header.Get("To"), "bob@example.com"; got != want {
		t.Errorf("To = %q, want %q", got, want)
	}
	if got, want := parsed.Header.Get("Subject"), "Hello Bob"; got != want {
		t.Errorf("Subject = %q, want %q", got, want)
	}
	from, err := parsed.Header.AddressList("From")
	if err != nil || len(from) != 1 || from[0].Name != "Ann Lee" {
		t.Errorf("From = %v (%v), want Ann Lee", from, err)
	}
	body, _ := io.ReadAll(parsed.Body)
	if !strings.Contains(string(body), "Hi Bob,\r\nsee you soon.") {
		t.Errorf("body = %q, want CRLF separated lines", body)
	}
}

func TestRFC2822Invalid(t *testing.T) {
	cases := []*Outgoing{
		{To: "bob@example.com"},
		{From: Address{Address: "ann@example.com"}},
		{From: Address{Address: "ann@example.com"}, To: "bob@example.com\r\nBcc: x@example.com"},
	}
	for _, m := range cases {
		if _, err := m.RFC2822(); err == nil {
			t.Errorf("%#v.RFC2822() = nil error, want error", m)
		}
	}
}
