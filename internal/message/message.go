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

// This file provides the common data objects used by the rest of the
// program.

import "strings"

// EmailField is the recipient field holding the destination address.
const EmailField = "email"

// Field is one named value of a recipient record.
type Field struct {
	Name  string
	Value string
}

// Recipient is an ordered mapping from field name to value, usually
// one row of a recipient list.
type Recipient []Field

// Get returns the value of the first field with the given name.
func (r Recipient) Get(name string) (string, bool) {
	for _, f := range r {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Email returns the recipient's address with surrounding space
// removed, or "" if the record has none.
func (r Recipient) Email() string {
	v, _ := r.Get(EmailField)
	return strings.TrimSpace(v)
}

// Eligible reports whether the recipient can be dispatched to.
func (r Recipient) Eligible() bool {
	return r.Email() != ""
}

// Identity is one authenticated mail sending account.
type Identity struct {
	// The storage system's identifier for the account.
	ID int64

	// The account's mailbox address, e.g. "someone@gmail.com".
	Address string

	// The human readable name placed in the From header.  May be
	// empty.
	DisplayName string

	// The OAuth 2.0 bearer token currently used to send.
	AccessToken string

	// The OAuth 2.0 refresh token used to obtain a new
	// AccessToken.  May be empty, in which case expiry is final.
	RefreshToken string

	// Messages recorded as sent by this account in the recent
	// accounting window.  Informational.
	SentInWindow int
}

// Template is the subject and body pair filled in per recipient.
type Template struct {
	Subject string
	Body    string
}

// Empty reports whether the template has neither subject nor body.
func (t Template) Empty() bool {
	return strings.TrimSpace(t.Subject) == "" && strings.TrimSpace(t.Body) == ""
}

// Address is a mailbox with an optional display name.
type Address struct {
	Name    string
	Address string
}

// Outgoing is one fully rendered message ready for delivery.
type Outgoing struct {
	From    Address
	To      string
	Subject string
	Body    string
}

// Delivery records one message confirmed sent.
type Delivery struct {
	// The batch the message was sent in.
	BatchID string

	// Identity.ID of the sending account.
	SenderID int64

	// The recipient's address.
	Recipient string

	// The rendered subject line.
	Subject string
}
