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
	"sync"

	"github.com/matta/gotsend/internal/message"
)

// Status is the terminal state of one recipient within a batch.
type Status int

const (
	StatusSent Status = iota
	StatusAuthExpiredFinal
	StatusTransportError
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusSent:
		return "Sent"
	case StatusAuthExpiredFinal:
		return "AuthExpiredFinal"
	case StatusTransportError:
		return "TransportError"
	case StatusSkipped:
		return "Skipped"
	}
	return "Status(?)"
}

// Outcome is the result of one work item.
type Outcome struct {
	Item   WorkItem
	Status Status

	// The rendered subject, when rendering got that far.
	Subject string

	// Why the item was not sent.  Nil for StatusSent.
	Err error
}

// BatchResult describes a finished batch.  TotalSent less than
// TotalAttempted means partial completion.
type BatchResult struct {
	BatchID string

	// Recipients with an email address.
	TotalAttempted int
	TotalSent      int

	// The recipients confirmed sent, in original order.
	SentRecipients []message.Recipient

	// One outcome per input recipient, in original order,
	// including skipped ones.
	Outcomes []Outcome

	// Confirmed deliveries the ledger failed to record.
	LedgerFailures int
}

// aggregator collects outcomes from concurrent workers.
type aggregator struct {
	mu         sync.Mutex
	recipients []message.Recipient
	outcomes   map[int]Outcome
	sent       int
}

func newAggregator(recipients []message.Recipient) *aggregator {
	return &aggregator{
		recipients: recipients,
		outcomes:   make(map[int]Outcome, len(recipients)),
	}
}

// add records o.  The first outcome reported for a sequence index
// wins; add reports whether o was recorded.
func (a *aggregator) add(o Outcome) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, dup := a.outcomes[o.Item.Seq]; dup {
		return false
	}
	a.outcomes[o.Item.Seq] = o
	if o.Status == StatusSent {
		a.sent++
	}
	return true
}

func (a *aggregator) has(seq int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.outcomes[seq]
	return ok
}

// result freezes the collected outcomes into a BatchResult.
func (a *aggregator) result() *BatchResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	res := &BatchResult{TotalSent: a.sent}
	for seq := range a.recipients {
		o, ok := a.outcomes[seq]
		if !ok {
			continue
		}
		res.Outcomes = append(res.Outcomes, o)
		if o.Status == StatusSkipped {
			continue
		}
		res.TotalAttempted++
		if o.Status == StatusSent {
			res.SentRecipients = append(res.SentRecipients, a.recipients[seq])
		}
	}
	return res
}
