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

// Package recipients reads recipient lists from CSV.
package recipients

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/matta/gotsend/internal/message"

	"github.com/pkg/errors"
)

var (
	ErrEmpty    = errors.New("recipient list has no header row")
	ErrNoEmail  = errors.New("recipient list has no " + message.EmailField + " column")
	ErrDupField = errors.New("recipient list repeats a column name")
)

// Read returns one Recipient per data row of r, in file order.  The
// first row names the fields.  Short rows are padded with empty
// values and extra cells are dropped.  Rows are not otherwise
// validated; a row without an address is kept and skipped at send
// time.
func Read(r io.Reader) ([]message.Recipient, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading header row")
	}
	names := make([]string, len(header))
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if seen[h] {
			return nil, errors.Wrapf(ErrDupField, "%q", h)
		}
		seen[h] = true
		names[i] = h
	}
	if !seen[message.EmailField] {
		return nil, ErrNoEmail
	}

	var out []message.Recipient
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "reading recipient list")
		}
		rec := make(message.Recipient, len(names))
		for i, n := range names {
			rec[i].Name = n
			if i < len(row) {
				rec[i].Value = row[i]
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

