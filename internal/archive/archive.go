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

// Package archive keeps a copy of every message delivered, one file
// per message, in a form mail indexers such as notmuch can read.
package archive

import (
	"context"
	"hash/fnv"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/matta/gotsend/internal/dispatch"
	"github.com/matta/gotsend/internal/message"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	dirFileMode     = 0700
	messageFileMode = 0600

	pathFarm16 = "abcdefghijklmnop"
)

type Store struct {
	// Root of the directory farm messages are written to.
	path string
}

type path struct {
	root string
	dirs []string
	base string
}

func (p path) Join() string {
	parts := make([]string, 1, len(p.dirs)+2)
	parts[0] = p.root
	parts = append(parts, p.dirs...)
	parts = append(parts, p.base)
	return filepath.Join(parts...)
}

// New returns a Store writing below dir, creating it if needed.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("archive directory not set")
	}
	if err := mkdirfarm(dir, 2); err != nil {
		return nil, errors.Wrapf(err, "creating archive at %s", dir)
	}
	return &Store{path: dir}, nil
}

// Insert writes msg under the given unique id and returns the file
// name used.
func (s *Store) Insert(msg *message.Outgoing, id string) (string, error) {
	if id == "" {
		return "", errors.New("message has no ID")
	}
	raw, err := msg.RFC2822()
	if err != nil {
		return "", err
	}
	p := s.makePath(msg.From.Address, id).Join()

	// Files on disk use local line endings; the wire form is
	// CRLF as mandated by RFC 822 and successors.
	text := strings.ReplaceAll(string(raw), "\r\n", "\n")
	if err := os.WriteFile(p, []byte(text), messageFileMode); err != nil {
		return "", errors.Wrap(err, "writing archived message")
	}
	return p, nil
}

// Wrap returns a Transport that delivers through t and archives each
// message t accepts.  Archive failures are logged, never returned:
// the message has already gone out.
func (s *Store) Wrap(t dispatch.Transport) dispatch.Transport {
	return &archivingTransport{next: t, store: s}
}

type archivingTransport struct {
	next  dispatch.Transport
	store *Store
}

func (a *archivingTransport) Deliver(ctx context.Context, accessToken string, msg *message.Outgoing) error {
	if err := a.next.Deliver(ctx, accessToken, msg); err != nil {
		return err
	}
	if _, err := a.store.Insert(msg, uuid.New().String()); err != nil {
		log.Printf("archiving message to %s: %v", msg.To, err)
	}
	return nil
}

// basename holds the fields encoded into the basename portion of the
// file name of archived messages.
type basename struct {
	// The sending address.  Together with id it names the file.
	scope string

	// A string unique within scope.
	id string
}

// Return the specified string with characters that should not appear
// in a Maildir filename escaped.
func escape(s string) string {
	hexCount := 0
	for i := 0; i < len(s); i++ {
		if shouldEscape(s[i]) {
			hexCount++
		}
	}

	if hexCount == 0 {
		return s
	}

	t := make([]byte, len(s)+2*hexCount)
	j := 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case shouldEscape(c):
			t[j] = '='
			t[j+1] = "0123456789ABCDEF"[c>>4]
			t[j+2] = "0123456789ABCDEF"[c&15]
			j += 3
		default:
			t[j] = s[i]
			j++
		}
	}
	return string(t)
}

// Return true if the specified character should be escaped when
// appearing in a Maildir filename.  Only the alphanumeric subset of
// the POSIX portable filename character set (IEEE Std 1003.1-2017,
// 3.282) is left alone; '=' introduces two hex digits.
func shouldEscape(c byte) bool {
	return !('A' <= c && c <= 'Z' || 'a' <= c && c <= 'z' || '0' <= c && c <= '9')
}

// encode returns the basename in a filename (and Maildir) safe form,
// prefixed with "gotsend-1-": a distinguisher followed by an encoding
// version.
func (b basename) encode() string {
	var sb strings.Builder
	const prefix = "gotsend-1-"
	sb.Grow(len(prefix) + len(b.scope) + len(b.id) + 1)
	sb.WriteString(prefix)
	sb.WriteString(escape(b.scope))
	sb.WriteRune('-')
	sb.WriteString(escape(b.id))
	return sb.String()
}

func mkdir(dir string) error {
	if err := os.Mkdir(dir, dirFileMode); err != nil && !os.IsExist(err) {
		return err
	}
	return nil
}

func mkdirfarm(path string, depth int) error {
	if err := mkdir(path); err != nil {
		return err
	}
	if depth == 0 {
		return nil
	}

	for i := 0; i < len(pathFarm16); i++ {
		path := filepath.Join(path, pathFarm16[i:i+1])
		if err := mkdirfarm(path, depth-1); err != nil {
			return err
		}
	}
	return nil
}

func fingerprint(b []byte) uint32 {
	hash := fnv.New32a()
	hash.Write(b)
	return hash.Sum32()
}

func pathParts(id string) []string {
	fp := fingerprint([]byte(id))
	nibble1 := fp & 0xf
	nibble2 := (fp >> 4) & 0xf
	return []string{pathFarm16[nibble1 : nibble1+1], pathFarm16[nibble2 : nibble2+1]}
}

func (s *Store) makePath(sender, id string) path {
	return path{
		root: s.path,
		dirs: pathParts(id),
		base: basename{scope: sender, id: id}.encode(),
	}
}
