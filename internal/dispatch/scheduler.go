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
	"github.com/matta/gotsend/internal/message"
)

// DefaultQuotaPerIdentity is the number of consecutive eligible
// recipients given to one identity before rotating to the next.
const DefaultQuotaPerIdentity = 50

// WorkItem is the unit of dispatch: one recipient bound to one
// sending identity.
type WorkItem struct {
	// Index of the recipient in the caller's original sequence.
	Seq int

	// Index of the assigned identity within the batch's identity
	// list.  -1 for recipients that were skipped.
	Identity int

	Recipient message.Recipient
}

// Plan assigns every eligible recipient to an identity.
//
// Eligible recipients are taken in order and cut into consecutive
// blocks of quota; block k goes to identity k mod len(identities).
// Recipients with no email are left out and use no quota.  The
// result is in original order.
func Plan(recipients []message.Recipient, identities []message.Identity, quota int) ([]WorkItem, error) {
	if len(identities) == 0 {
		return nil, &ConfigError{ErrNoIdentities}
	}
	if quota <= 0 {
		quota = DefaultQuotaPerIdentity
	}

	items := make([]WorkItem, 0, len(recipients))
	pos := 0
	for seq, r := range recipients {
		if !r.Eligible() {
			continue
		}
		block := pos / quota
		items = append(items, WorkItem{
			Seq:       seq,
			Identity:  block % len(identities),
			Recipient: r,
		})
		pos++
	}
	return items, nil
}
