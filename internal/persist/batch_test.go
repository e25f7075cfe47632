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

package persist

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/matta/gotsend/internal/dispatch"
	"github.com/matta/gotsend/internal/message"

	"github.com/pkg/errors"
)

// cancellingTransport accepts every message and cancels the batch's
// context once it has accepted stopAfter of them.
type cancellingTransport struct {
	stopAfter int
	cancel    context.CancelFunc

	mu       sync.Mutex
	accepted int
}

func (t *cancellingTransport) Deliver(ctx context.Context, token string, msg *message.Outgoing) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	t.accepted++
	if t.accepted == t.stopAfter {
		t.cancel()
	}
	return nil
}

type noRefresh struct{}

func (noRefresh) Refresh(ctx context.Context, refreshToken string) (string, error) {
	return "", errors.New("refresh not expected")
}

func TestBatchRecordedAfterCancel(t *testing.T) {
	db, _ := openTest(t)
	id, err := db.AddSender(context.Background(), "owner", &message.Identity{
		Address: "ann@example.com", AccessToken: "a", RefreshToken: "r",
	})
	if err != nil {
		t.Fatalf("AddSender() error = %v", err)
	}

	var rs []message.Recipient
	for i := 0; i < 5; i++ {
		rs = append(rs, message.Recipient{{Name: message.EmailField, Value: fmt.Sprintf("r%d@example.com", i)}})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr := &cancellingTransport{stopAfter: 3, cancel: cancel}
	d := dispatch.New(db, tr, noRefresh{}, db)
	res, err := d.Run(ctx, dispatch.Request{
		Owner:      "owner",
		Recipients: rs,
		SenderIDs:  []int64{id},
		Template:   message.Template{Subject: "Hi", Body: "Hello"},
		Options:    dispatch.Options{MaxConcurrentPerIdentity: 1},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.TotalSent < 2 || res.TotalSent > 3 {
		t.Errorf("TotalSent = %d, want 2 or 3", res.TotalSent)
	}
	if res.LedgerFailures != 0 {
		t.Errorf("LedgerFailures = %d, want 0", res.LedgerFailures)
	}

	n, err := db.CountSent(context.Background(), "owner", time.Time{})
	if err != nil {
		t.Fatalf("CountSent() error = %v", err)
	}
	if n != res.TotalSent {
		t.Errorf("ledger has %d deliveries, want %d", n, res.TotalSent)
	}
}
