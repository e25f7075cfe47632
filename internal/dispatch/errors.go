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

import "github.com/pkg/errors"

var (
	// Fatal to a batch; reported before anything is sent.
	ErrNoRecipients       = errors.New("empty recipient list")
	ErrEmptyTemplate      = errors.New("empty template")
	ErrNoIdentities       = errors.New("no sender identities")
	ErrUnknownIdentity    = errors.New("unknown sender identity")
	ErrDuplicateIdentity  = errors.New("sender identity listed twice")
	ErrMalformedRecipient = errors.New("recipient has no email")

	// Per recipient.
	ErrAuthExpired   = errors.New("access token expired or unauthorized")
	ErrRefreshFailed = errors.New("access token refresh failed")
	ErrTimeout       = errors.New("timeout")
)

// ConfigError reports a batch request that cannot be dispatched as
// given, such as one naming no sender identities.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return "ConfigError: " + e.Err.Error()
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Cause satisfies github.com/pkg/errors causer.
func (e *ConfigError) Cause() error { return e.Err }

// IsConfigError reports whether err is, or wraps, a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
