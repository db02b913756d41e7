// Package message adapts parsed RFC 5322 messages to what scripts test.
package message

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"

	gomessage "github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/k3a/html2text"
	"github.com/migadu/sora-sieve/helpers"
	"github.com/migadu/sora-sieve/sieve/interp"
)

// MaxBodyPartSize bounds how much of one text part the body test sees.
const MaxBodyPartSize = 1 << 20

// Message is a parsed RFC 5322 message scripts are evaluated against.
type Message struct {
	raw    []byte
	header gomessage.Header
	body   []byte
}

var _ interp.Message = (*Message)(nil)

// Parse parses the header of raw. Bodies are decoded on demand.
func Parse(raw []byte) (*Message, error) {
	entity, err := gomessage.Read(bytes.NewReader(raw))
	if err != nil && !gomessage.IsUnknownCharset(err) && !gomessage.IsUnknownEncoding(err) {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	return &Message{raw: raw, header: entity.Header, body: splitBody(raw)}, nil
}

// splitBody returns what follows the first empty line.
func splitBody(raw []byte) []byte {
	if i := bytes.Index(raw, []byte("\r\n\r\n")); i >= 0 {
		return raw[i+4:]
	}
	if i := bytes.Index(raw, []byte("\n\n")); i >= 0 {
		return raw[i+2:]
	}
	return nil
}

// HeaderValues returns the values of every field named name, with encoded
// words decoded. Values that fail to decode are returned as they are.
func (m *Message) HeaderValues(name string) []string {
	fields := m.header.FieldsByKey(name)
	var out []string
	for fields.Next() {
		v, err := fields.Text()
		if err != nil {
			v = fields.Value()
		}
		out = append(out, helpers.SanitizeUTF8(v))
	}
	return out
}

func (m *Message) Size() int64 { return int64(len(m.raw)) }

// Body returns the undecoded body for BodyRaw. For BodyText it returns each
// text part decoded to UTF-8, with HTML parts converted to plain text.
func (m *Message) Body(transform interp.BodyTransform) ([]string, error) {
	if transform == interp.BodyRaw {
		return []string{string(m.body)}, nil
	}

	entity, err := gomessage.Read(bytes.NewReader(m.raw))
	if err != nil && !gomessage.IsUnknownCharset(err) && !gomessage.IsUnknownEncoding(err) {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	var parts []string
	err = entity.Walk(func(path []int, part *gomessage.Entity, err error) error {
		if err != nil {
			if gomessage.IsUnknownCharset(err) || gomessage.IsUnknownEncoding(err) {
				return nil
			}
			return err
		}
		mediaType, _, _ := part.Header.ContentType()
		if mediaType == "" {
			mediaType = "text/plain"
		}
		if disp, _, _ := part.Header.ContentDisposition(); disp == "attachment" {
			return nil
		}
		switch mediaType {
		case "text/plain", "text/html":
		default:
			return nil
		}
		content, err := io.ReadAll(io.LimitReader(part.Body, MaxBodyPartSize))
		if err != nil {
			return err
		}
		text := helpers.SanitizeUTF8(string(content))
		if mediaType == "text/html" {
			text = html2text.HTML2Text(stripBase64DataURIs(text))
		}
		parts = append(parts, text)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return parts, nil
}

var base64DataURI = regexp.MustCompile(`data:[^;,"'\s]+;base64,[A-Za-z0-9+/=]{50,}`)

// stripBase64DataURIs replaces embedded images so HTML conversion does not
// spend time on them.
func stripBase64DataURIs(s string) string {
	if !strings.Contains(s, ";base64,") {
		return s
	}
	return base64DataURI.ReplaceAllString(s, "[embedded-image]")
}
