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

// This file declares the collaborators the dispatcher drives.

import (
	"context"

	"github.com/matta/gotsend/internal/message"
)

// CredentialStore supplies the sending accounts available to a batch
// owner.  The dispatcher reads it once at batch start.
type CredentialStore interface {
	ListSenderIdentities(ctx context.Context, owner string) ([]message.Identity, error)
}

// CredentialSaver is optionally implemented by a CredentialStore that
// wants access tokens refreshed during a batch written back.
type CredentialSaver interface {
	SaveAccessToken(ctx context.Context, identityID int64, accessToken string) error
}

// Transport delivers one message using an OAuth 2.0 access token.
// An error wrapping ErrAuthExpired means the token was rejected; any
// other error is a delivery failure that is not retried.
type Transport interface {
	Deliver(ctx context.Context, accessToken string, msg *message.Outgoing) error
}

// Refresher exchanges a refresh token for a new access token.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (string, error)
}

// Ledger receives one record per confirmed delivery.
type Ledger interface {
	Record(ctx context.Context, owner string, d *message.Delivery) error
}
