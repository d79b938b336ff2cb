// Package identity derives stable identity keys for submission comments.
//
// A key is the hex SHA-256 of a canonical JSON rendering of a small tuple:
// sorted keys, "," and ":" separators, null for absent values and ASCII-only
// string escaping. The rendering matches state files written by earlier
// versions of the notifier, so existing dedupe history stays valid.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf16"
	"unicode/utf8"
)

// Comment is the subset of an upstream comment record the keyer looks at.
type Comment struct {
	ID        *int64
	AuthorID  *int64
	CreatedAt *string
	Text      *string
}

// Key returns the identity key of a comment on a submission.
//
// With a platform comment ID the key covers (course, assignment, submission
// owner, comment ID) only, so edits keep the same key. Without one it also
// covers author, timestamp and whitespace-normalized text.
func Key(courseID int64, assignmentID, submissionUserID *int64, c Comment) string {
	fields := map[string]value{
		"course_id":          intValue(&courseID),
		"assignment_id":      intValue(assignmentID),
		"submission_user_id": intValue(submissionUserID),
	}
	if c.ID != nil {
		fields["comment_id"] = intValue(c.ID)
	} else {
		text := NormalizeText(c.Text)
		fields["author_id"] = intValue(c.AuthorID)
		fields["created_at"] = strValue(c.CreatedAt)
		fields["comment"] = strValue(&text)
	}
	sum := sha256.Sum256([]byte(canonical(fields)))
	return hex.EncodeToString(sum[:])
}

// NormalizeText collapses whitespace runs to one space and trims the ends.
// A nil text normalizes to "".
func NormalizeText(s *string) string {
	if s == nil {
		return ""
	}
	return strings.Join(strings.FieldsFunc(*s, isSpace), " ")
}

// isSpace also treats the ASCII file/group/record/unit separators as
// whitespace; legacy keys were normalized that way.
func isSpace(r rune) bool {
	return unicode.IsSpace(r) || (r >= 0x1c && r <= 0x1f)
}

// value is a pre-rendered JSON scalar.
type value string

const null value = "null"

func intValue(v *int64) value {
	if v == nil {
		return null
	}
	return value(strconv.FormatInt(*v, 10))
}

func strValue(v *string) value {
	if v == nil {
		return null
	}
	return value(quoteASCII(*v))
}

func canonical(fields map[string]value) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(quoteASCII(k))
		b.WriteByte(':')
		b.WriteString(string(fields[k]))
	}
	b.WriteByte('}')
	return b.String()
}

const hexDigits = "0123456789abcdef"

// quoteASCII renders s as a JSON string literal with every non-ASCII rune
// escaped as \uXXXX (UTF-16 surrogate pairs above the BMP). Invalid UTF-8
// bytes become U+FFFD.
func quoteASCII(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\b':
			b.WriteString(`\b`)
		case '\f':
			b.WriteString(`\f`)
		default:
			switch {
			case r < 0x20 || (r >= 0x7f && r < 0x10000):
				writeU(&b, r)
			case r >= 0x10000:
				hi, lo := utf16.EncodeRune(r)
				writeU(&b, hi)
				writeU(&b, lo)
			default:
				b.WriteRune(r)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}

func writeU(b *strings.Builder, r rune) {
	b.WriteString(`\u`)
	b.WriteByte(hexDigits[(r>>12)&0xf])
	b.WriteByte(hexDigits[(r>>8)&0xf])
	b.WriteByte(hexDigits[(r>>4)&0xf])
	b.WriteByte(hexDigits[r&0xf])
}
