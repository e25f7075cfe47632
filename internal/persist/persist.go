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
	"database/sql"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/matta/gotsend/internal/dispatch"
	"github.com/matta/gotsend/internal/message"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// SentWindow is the period Identity.SentInWindow counts over.
const SentWindow = 24 * time.Hour

var ErrNoSuchSender = errors.New("no such sender account")

var (
	createTableSql = []string{
		// The sender_accounts table holds the GMail accounts each
		// owner may send from.
		//
		// Field: owner
		//
		//   The user the account was connected for.  An address
		//   may be connected by several owners.
		//
		// Field: access_token, refresh_token
		//
		//   OAuth 2.0 tokens for the gmail.send scope, sealed when
		//   a token key is configured.  access_token is replaced
		//   whenever a batch refreshes it.
		//
		// Field: added_at
		//
		//   Unix seconds.
		`
CREATE TABLE IF NOT EXISTS sender_accounts (
id INTEGER PRIMARY KEY AUTOINCREMENT,
owner TEXT NOT NULL,
address TEXT NOT NULL,
display_name TEXT NOT NULL DEFAULT '',
access_token TEXT NOT NULL,
refresh_token TEXT NOT NULL,
added_at INTEGER NOT NULL,
UNIQUE (owner, address)
);`,
		// The emails_sent table holds one row per confirmed
		// delivery.
		//
		// Field: sender_id
		//
		//   As in sender_accounts.id.  Rows outlive the account.
		//
		// Field: subject
		//
		//   The subject as rendered for the recipient.
		//
		// Field: sent_at
		//
		//   Unix seconds.
		`
CREATE TABLE IF NOT EXISTS emails_sent (
id INTEGER PRIMARY KEY AUTOINCREMENT,
owner TEXT NOT NULL,
batch_id TEXT NOT NULL,
sender_id INTEGER NOT NULL,
recipient_email TEXT NOT NULL,
subject TEXT NOT NULL,
sent_at INTEGER NOT NULL
);`,
		`
CREATE INDEX IF NOT EXISTS emails_sent_sender
ON emails_sent (sender_id, sent_at);`,
	}
)

type DB struct {
	db     *sql.DB
	sealer *Sealer
	now    func() time.Time
}

type Tx struct {
	tx  *sql.Tx
	now func() time.Time
}

var (
	_ dispatch.CredentialStore = (*DB)(nil)
	_ dispatch.CredentialSaver = (*DB)(nil)
	_ dispatch.Ledger          = (*DB)(nil)
)

// Option configures a DB.
type Option func(*DB)

// WithSealer seals OAuth tokens at rest.
func WithSealer(s *Sealer) Option {
	return func(db *DB) { db.sealer = s }
}

func withClock(now func() time.Time) Option {
	return func(db *DB) { db.now = now }
}

func dsnFromPath(path string, addValues url.Values) (string, error) {
	var u *url.URL
	if !strings.HasPrefix(path, "file:") {
		u = &url.URL{Scheme: "file", Path: path}
	} else {
		var err error
		u, err = url.Parse(path)
		if err != nil {
			return "", err
		}
	}
	values := u.Query()
	for k, v := range addValues {
		for _, item := range v {
			values.Add(k, item)
		}
	}
	u.RawQuery = values.Encode()
	return u.String(), nil
}

func Open(ctx context.Context, path string, opts ...Option) (*DB, error) {
	// The _busy_timeout is a SQLite extension that controls how
	// long SQLite will poll before giving up.  Batches record
	// deliveries while other commands may read; wait up to a
	// minute.
	var busyTimeout = int(time.Minute) / int(time.Millisecond)

	dsn, err := dsnFromPath(path, url.Values{
		"_busy_timeout": {fmt.Sprintf("%d", busyTimeout)}})
	if err != nil {
		return nil, errors.Wrapf(err,
			"Open(%q) failed: could not form a DB DSN from "+
				"the given path",
			path)
	}
	log.Printf("opening database at %q\n", dsn)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrapf(err,
			"Open(%q) failed: could not open database at %q",
			path, dsn)
	}

	if err = initSchema(ctx, db); err != nil {
		db.Close()
		return nil, errors.Wrapf(err,
			"Open(%q) failed: could not initialize the "+
				"database schema", path)
	}

	d := &DB{db: db, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

func (db *DB) Begin(ctx context.Context) (*Tx, error) {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin transaction failed")
	}
	return &Tx{tx: tx, now: db.now}, nil
}

func (tx *Tx) Commit() error {
	return tx.tx.Commit()
}

func (tx *Tx) Rollback() error {
	return tx.tx.Rollback()
}

func initSchema(ctx context.Context, db *sql.DB) error {
	for _, sql := range createTableSql {
		if _, err := db.ExecContext(ctx, sql); err != nil {
			return errors.Wrapf(err, "while executing %q", sql)
		}
	}

	return nil
}

// AddSender connects id.Address for owner, replacing the tokens and
// display name of an account already connected, and returns the
// account's ID.
func (db *DB) AddSender(ctx context.Context, owner string, id *message.Identity) (int64, error) {
	if id.Address == "" {
		return 0, errors.New("sender has no address")
	}
	access, err := db.sealer.Seal(id.AccessToken)
	if err != nil {
		return 0, err
	}
	refresh, err := db.sealer.Seal(id.RefreshToken)
	if err != nil {
		return 0, err
	}

	const upsert = `
INSERT INTO sender_accounts
	(owner, address, display_name, access_token, refresh_token, added_at)
	VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (owner, address)
DO UPDATE SET (display_name, access_token, refresh_token) =
	(excluded.display_name, excluded.access_token, excluded.refresh_token)`
	if _, err := db.db.ExecContext(ctx, upsert,
		owner, id.Address, id.DisplayName, access, refresh, db.now().Unix()); err != nil {
		return 0, errors.Wrap(err, "db upsert failed for sender")
	}

	var rowID int64
	row := db.db.QueryRowContext(ctx,
		`SELECT id FROM sender_accounts WHERE owner = $1 AND address = $2`,
		owner, id.Address)
	if err := row.Scan(&rowID); err != nil {
		return 0, errors.Wrap(err, "db scan failed in AddSender")
	}
	return rowID, nil
}

// RemoveSender disconnects one of owner's accounts.  Its deliveries
// stay in the ledger.
func (db *DB) RemoveSender(ctx context.Context, owner string, senderID int64) error {
	res, err := db.db.ExecContext(ctx,
		`DELETE FROM sender_accounts WHERE id = $1 AND owner = $2`,
		senderID, owner)
	if err != nil {
		return errors.Wrap(err, "db delete failed for sender")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "RemoveSender")
	}
	if n == 0 {
		return errors.Wrapf(ErrNoSuchSender, "sender %d", senderID)
	}
	return nil
}

// RenameSender changes the display name used in the From header of
// one of owner's accounts.
func (db *DB) RenameSender(ctx context.Context, owner string, senderID int64, name string) error {
	res, err := db.db.ExecContext(ctx,
		`UPDATE sender_accounts SET display_name = $1 WHERE id = $2 AND owner = $3`,
		name, senderID, owner)
	if err != nil {
		return errors.Wrap(err, "db update failed for sender name")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "RenameSender")
	}
	if n == 0 {
		return errors.Wrapf(ErrNoSuchSender, "sender %d", senderID)
	}
	return nil
}

// ListSenderIdentities returns owner's accounts ordered by ID, each
// with the number of deliveries it made in the last SentWindow.
func (db *DB) ListSenderIdentities(ctx context.Context, owner string) ([]message.Identity, error) {
	const q = `
SELECT a.id, a.address, a.display_name, a.access_token, a.refresh_token,
	(SELECT COUNT(*) FROM emails_sent e
	 WHERE e.sender_id = a.id AND e.sent_at >= $1)
FROM sender_accounts a
WHERE a.owner = $2
ORDER BY a.id
`
	since := db.now().Add(-SentWindow).Unix()
	rows, err := db.db.QueryContext(ctx, q, since, owner)
	if err != nil {
		return nil, errors.Wrap(err, "db query failed in ListSenderIdentities")
	}
	defer rows.Close()

	var out []message.Identity
	for rows.Next() {
		var id message.Identity
		var access, refresh string
		if err := rows.Scan(&id.ID, &id.Address, &id.DisplayName, &access, &refresh, &id.SentInWindow); err != nil {
			return nil, errors.Wrap(err, "db scan failed in ListSenderIdentities")
		}
		if id.AccessToken, err = db.sealer.Open(access); err != nil {
			return nil, errors.Wrapf(err, "access token of sender %d", id.ID)
		}
		if id.RefreshToken, err = db.sealer.Open(refresh); err != nil {
			return nil, errors.Wrapf(err, "refresh token of sender %d", id.ID)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "ListSenderIdentities")
	}
	return out, nil
}

// SaveAccessToken replaces the stored access token of an account.
func (db *DB) SaveAccessToken(ctx context.Context, senderID int64, accessToken string) error {
	sealed, err := db.sealer.Seal(accessToken)
	if err != nil {
		return err
	}
	res, err := db.db.ExecContext(ctx,
		`UPDATE sender_accounts SET access_token = $1 WHERE id = $2`,
		sealed, senderID)
	if err != nil {
		return errors.Wrap(err, "db update failed for access token")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errors.Wrapf(ErrNoSuchSender, "sender %d", senderID)
	}
	return nil
}

// Record adds one confirmed delivery to the ledger.
func (db *DB) Record(ctx context.Context, owner string, d *message.Delivery) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	if err := tx.InsertDelivery(ctx, owner, d); err != nil {
		tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "commit failed for delivery")
}

func (tx *Tx) InsertDelivery(ctx context.Context, owner string, d *message.Delivery) error {
	const sql = `
INSERT INTO emails_sent
	(owner, batch_id, sender_id, recipient_email, subject, sent_at)
	VALUES ($1, $2, $3, $4, $5, $6)
`
	_, err := tx.tx.ExecContext(ctx, sql,
		owner, d.BatchID, d.SenderID, d.Recipient, d.Subject, tx.now().Unix())
	if err != nil {
		return errors.Wrap(err, "db insert failed for delivery")
	}
	return nil
}

// CountSent returns how many deliveries owner made since the given
// time.  A zero time counts all of them.
func (db *DB) CountSent(ctx context.Context, owner string, since time.Time) (int, error) {
	var after int64
	if !since.IsZero() {
		after = since.Unix()
	}
	var n int
	row := db.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM emails_sent WHERE owner = $1 AND sent_at >= $2`,
		owner, after)
	if err := row.Scan(&n); err != nil {
		return 0, errors.Wrap(err, "db scan failed in CountSent")
	}
	return n, nil
}
