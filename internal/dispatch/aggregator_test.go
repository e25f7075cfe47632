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
	"testing"

	"github.com/matta/gotsend/internal/message"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

func TestAggregatorOrder(t *testing.T) {
	rs := recipients(50)
	agg := newAggregator(rs)

	// Report in reverse from many goroutines; every third row fails.
	var wg sync.WaitGroup
	for seq := len(rs) - 1; seq >= 0; seq-- {
		wg.Add(1)
		go func(seq int) {
			defer wg.Done()
			o := Outcome{Item: WorkItem{Seq: seq, Recipient: rs[seq]}, Status: StatusSent}
			if seq%3 == 0 {
				o.Status = StatusTransportError
				o.Err = errors.New("boom")
			}
			agg.add(o)
		}(seq)
	}
	wg.Wait()

	res := agg.result()
	var want []message.Recipient
	for seq, r := range rs {
		if seq%3 != 0 {
			want = append(want, r)
		}
	}
	if diff := cmp.Diff(want, res.SentRecipients); diff != "" {
		t.Errorf("SentRecipients mismatch (-want +got):\n%s", diff)
	}
	if res.TotalSent != len(want) || res.TotalAttempted != len(rs) {
		t.Errorf("attempted/sent = %d/%d, want %d/%d", res.TotalAttempted, res.TotalSent, len(rs), len(want))
	}
	for i, o := range res.Outcomes {
		if o.Item.Seq != i {
			t.Errorf("Outcomes[%d].Item.Seq = %d", i, o.Item.Seq)
		}
	}
}

func TestAggregatorFirstOutcomeWins(t *testing.T) {
	rs := recipients(2)
	agg := newAggregator(rs)
	if !agg.add(Outcome{Item: WorkItem{Seq: 0}, Status: StatusTransportError, Err: ErrTimeout}) {
		t.Errorf("first add() = false, want true")
	}
	if agg.add(Outcome{Item: WorkItem{Seq: 0}, Status: StatusSent}) {
		t.Errorf("second add() = true, want false")
	}
	agg.add(Outcome{Item: WorkItem{Seq: 1}, Status: StatusSkipped})

	res := agg.result()
	if res.TotalSent != 0 || res.TotalAttempted != 1 || len(res.SentRecipients) != 0 {
		t.Errorf("result = %+v, want nothing sent, one attempted", res)
	}
	if !agg.has(1) {
		t.Errorf("has(1) = false, want true")
	}
}

func TestStatusString(t *testing.T) {
	cases := map[Status]string{
		StatusSent:             "Sent",
		StatusAuthExpiredFinal: "AuthExpiredFinal",
		StatusTransportError:   "TransportError",
		StatusSkipped:          "Skipped",
		Status(42):             "Status(?)",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Errorf("Status(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
