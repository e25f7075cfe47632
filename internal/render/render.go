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

// Package render fills "{field}" placeholders in a message template
// from a recipient record.
//
// A placeholder is a field name between single braces.  Doubled
// braces, "{{" and "}}", stand for literal braces.  Field names are
// matched exactly, including case and surrounding space.
package render

import (
	"fmt"
	"strings"

	"github.com/matta/gotsend/internal/message"
)

// Error reports a template that cannot be filled in for a recipient.
type Error struct {
	// The placeholder name with no matching recipient field, or
	// "" for a syntax problem.
	Field string

	// Byte offset of the problem within the template text.
	Offset int

	msg string
}

func (e *Error) Error() string {
	if e.Field != "" {
		return "missing field " + e.Field
	}
	return fmt.Sprintf("%s at offset %d", e.msg, e.Offset)
}

// Render returns the subject and body of tpl filled in from r.
func Render(tpl message.Template, r message.Recipient) (subject, body string, err error) {
	if subject, err = String(tpl.Subject, r); err != nil {
		return "", "", err
	}
	if body, err = String(tpl.Body, r); err != nil {
		return "", "", err
	}
	return subject, body, nil
}

// String fills every placeholder in text from r.
func String(text string, r message.Recipient) (string, error) {
	if strings.IndexAny(text, "{}") < 0 {
		return text, nil
	}

	var sb strings.Builder
	sb.Grow(len(text))
	for i := 0; i < len(text); {
		switch c := text[i]; c {
		case '{':
			if i+1 < len(text) && text[i+1] == '{' {
				sb.WriteByte('{')
				i += 2
				continue
			}
			end := strings.IndexByte(text[i+1:], '}')
			if end < 0 {
				return "", &Error{Offset: i, msg: "unterminated placeholder"}
			}
			name := text[i+1 : i+1+end]
			if strings.IndexByte(name, '{') >= 0 {
				return "", &Error{Offset: i, msg: "unterminated placeholder"}
			}
			v, ok := r.Get(name)
			if !ok {
				return "", &Error{Field: name, Offset: i}
			}
			sb.WriteString(v)
			i += end + 2
		case '}':
			if i+1 < len(text) && text[i+1] == '}' {
				sb.WriteByte('}')
				i += 2
				continue
			}
			return "", &Error{Offset: i, msg: "single '}' in template"}
		default:
			sb.WriteByte(c)
			i++
		}
	}
	return sb.String(), nil
}
