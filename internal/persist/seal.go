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
	"crypto/rand"
	"encoding/base64"
	"io"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/crypto/nacl/secretbox"
)

// sealedPrefix marks a value sealed by a Sealer.  The digit is the
// encoding version.
const sealedPrefix = "sb1:"

const nonceSize = 24

var (
	ErrBadKey    = errors.New("token key must be 32 bytes, base64 encoded")
	ErrNoKey     = errors.New("token is sealed but no token key is configured")
	ErrBadSealed = errors.New("sealed token is corrupt or was sealed with another key")
)

// Sealer encrypts OAuth tokens before they are written to the
// database.  A nil *Sealer stores tokens as plain text.
type Sealer struct {
	key [32]byte
}

// NewSealer returns a Sealer for a base64 encoded 32 byte key.  An
// empty key returns a nil Sealer.
func NewSealer(key string) (*Sealer, error) {
	if key == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(key))
	if err != nil || len(b) != 32 {
		return nil, ErrBadKey
	}
	s := &Sealer{}
	copy(s.key[:], b)
	return s, nil
}

// Seal returns plaintext in its stored form.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if s == nil || plaintext == "" {
		return plaintext, nil
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", errors.Wrap(err, "reading nonce")
	}
	box := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &s.key)
	return sealedPrefix + base64.StdEncoding.EncodeToString(box), nil
}

// Open reverses Seal.  Values stored before a key was configured are
// returned unchanged.
func (s *Sealer) Open(stored string) (string, error) {
	if !strings.HasPrefix(stored, sealedPrefix) {
		return stored, nil
	}
	if s == nil {
		return "", ErrNoKey
	}
	b, err := base64.StdEncoding.DecodeString(stored[len(sealedPrefix):])
	if err != nil || len(b) < nonceSize+secretbox.Overhead {
		return "", ErrBadSealed
	}
	var nonce [nonceSize]byte
	copy(nonce[:], b[:nonceSize])
	out, ok := secretbox.Open(nil, b[nonceSize:], &nonce, &s.key)
	if !ok {
		return "", ErrBadSealed
	}
	return string(out), nil
}
