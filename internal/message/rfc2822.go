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
	"bytes"
	"mime"
	"mime/quotedprintable"
	"net/mail"
	"strings"

	"github.com/pkg/errors"
)

// String formats the address for a From or To header.  Non-ASCII
// display names are RFC 2047 encoded.
func (a Address) String() string {
	if a.Name == "" {
		return a.Address
	}
	return (&mail.Address{Name: a.Name, Address: a.Address}).String()
}

// RFC2822 returns the message as an RFC 2822 formatted byte string
// with CRLF line endings, as expected by the GMail API's "raw" field.
func (m *Outgoing) RFC2822() ([]byte, error) {
	if m.From.Address == "" {
		return nil, errors.New("message has no sender")
	}
	if m.To == "" {
		return nil, errors.New("message has no recipient")
	}
	if strings.ContainsAny(m.To, "\r\n") || strings.ContainsAny(m.From.Address, "\r\n") {
		return nil, errors.New("address contains a line break")
	}

	var buf bytes.Buffer
	header := func(k, v string) {
		buf.WriteString(k)
		buf.WriteString(": ")
		buf.WriteString(v)
		buf.WriteString("\r\n")
	}
	header("From", m.From.String())
	header("To", m.To)
	header("Subject", mime.QEncoding.Encode("utf-8", oneLine(m.Subject)))
	header("MIME-Version", "1.0")
	header("Content-Type", `text/plain; charset="utf-8"`)
	header("Content-Transfer-Encoding", "quoted-printable")
	buf.WriteString("\r\n")

	w := quotedprintable.NewWriter(&buf)
	body := strings.ReplaceAll(m.Body, "\r\n", "\n")
	if _, err := w.Write([]byte(strings.ReplaceAll(body, "\n", "\r\n"))); err != nil {
		return nil, errors.Wrap(err, "encoding message body")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "encoding message body")
	}
	return buf.Bytes(), nil
}

// oneLine folds a header value onto a single line.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
