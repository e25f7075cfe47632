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
	"fmt"
	"testing"

	"github.com/matta/gotsend/internal/message"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

func recipients(n int) []message.Recipient {
	rs := make([]message.Recipient, n)
	for i := range rs {
		rs[i] = message.Recipient{
			{Name: "email", Value: fmt.Sprintf("r%d@example.com", i)},
			{Name: "name", Value: fmt.Sprintf("R%d", i)},
		}
	}
	return rs
}

func identities(n int) []message.Identity {
	ids := make([]message.Identity, n)
	for i := range ids {
		ids[i] = message.Identity{
			ID:           int64(i + 1),
			Address:      fmt.Sprintf("sender%d@example.com", i),
			AccessToken:  fmt.Sprintf("access%d", i),
			RefreshToken: fmt.Sprintf("refresh%d", i),
		}
	}
	return ids
}

// assignment maps sequence index to identity index.
func assignment(items []WorkItem) map[int]int {
	m := make(map[int]int, len(items))
	for _, it := range items {
		m[it.Seq] = it.Identity
	}
	return m
}

func TestPlanRotation(t *testing.T) {
	// 120 recipients, 2 identities, quota 50.
	items, err := Plan(recipients(120), identities(2), 50)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(items) != 120 {
		t.Fatalf("len(Plan()) = %d, want 120", len(items))
	}
	for _, it := range items {
		want := 0
		if it.Seq >= 50 && it.Seq < 100 {
			want = 1
		}
		if it.Identity != want {
			t.Errorf("row %d assigned to identity %d, want %d", it.Seq, it.Identity, want)
		}
	}
}

func TestPlanBlocks(t *testing.T) {
	for _, n := range []int{1, 7, 50, 99, 250} {
		for _, k := range []int{1, 2, 3, 5} {
			for _, q := range []int{1, 4, 50} {
				items, err := Plan(recipients(n), identities(k), q)
				if err != nil {
					t.Fatalf("Plan(%d, %d, %d) error = %v", n, k, q, err)
				}
				for i, it := range items {
					if it.Seq != i {
						t.Errorf("Plan(%d, %d, %d)[%d].Seq = %d, want %d", n, k, q, i, it.Seq, i)
					}
					if want := (i / q) % k; it.Identity != want {
						t.Errorf("Plan(%d, %d, %d)[%d].Identity = %d, want %d", n, k, q, i, it.Identity, want)
					}
				}
			}
		}
	}
}

func TestPlanSkipsIneligible(t *testing.T) {
	rs := recipients(8)
	// Rows 1 and 4 have no usable address.
	rs[1] = message.Recipient{{Name: "name", Value: "no address"}}
	rs[4] = message.Recipient{{Name: "email", Value: "  "}}

	items, err := Plan(rs, identities(2), 2)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	want := map[int]int{0: 0, 2: 0, 3: 1, 5: 1, 6: 0, 7: 0}
	if diff := cmp.Diff(want, assignment(items)); diff != "" {
		t.Errorf("Plan() assignment mismatch (-want +got):\n%s", diff)
	}
}

func TestPlanDefaultQuota(t *testing.T) {
	items, err := Plan(recipients(DefaultQuotaPerIdentity+1), identities(2), 0)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if got := items[DefaultQuotaPerIdentity-1].Identity; got != 0 {
		t.Errorf("last row of first block on identity %d, want 0", got)
	}
	if got := items[DefaultQuotaPerIdentity].Identity; got != 1 {
		t.Errorf("first row of second block on identity %d, want 1", got)
	}
}

func TestPlanNoIdentities(t *testing.T) {
	_, err := Plan(recipients(3), nil, 50)
	if !IsConfigError(err) {
		t.Errorf("Plan() error = %v, want ConfigError", err)
	}
	if !errors.Is(err, ErrNoIdentities) {
		t.Errorf("Plan() error = %v, want ErrNoIdentities", err)
	}
}

func TestPlanNoEligible(t *testing.T) {
	rs := []message.Recipient{{{Name: "name", Value: "x"}}}
	items, err := Plan(rs, identities(1), 50)
	if err != nil || len(items) != 0 {
		t.Errorf("Plan() = %v, %v; want no items, nil", items, err)
	}
}
