package message

import (
	"strings"
	"testing"

	"github.com/migadu/sora-sieve/sieve/interp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const multipartMessage = "From: =?utf-8?q?J=C3=B6rg?= <jorg@example.com>\r\n" +
	"Subject: =?iso-8859-1?q?Gr=FC=DFe?=\r\n" +
	"Received: from a\r\n" +
	"Received: from b\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=XYZ\r\n" +
	"\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"Content-Transfer-Encoding: quoted-printable\r\n" +
	"\r\n" +
	"Caf=C3=A9 at noon\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/html\r\n" +
	"\r\n" +
	"<p>Bring <b>cake</b></p>\r\n" +
	"--XYZ\r\n" +
	"Content-Type: application/pdf\r\n" +
	"Content-Disposition: attachment; filename=a.pdf\r\n" +
	"\r\n" +
	"%PDF\r\n" +
	"--XYZ--\r\n"

func TestMessageHeaders(t *testing.T) {
	msg, err := Parse([]byte(multipartMessage))
	require.NoError(t, err)

	assert.Equal(t, []string{"Jörg <jorg@example.com>"}, msg.HeaderValues("from"))
	assert.Equal(t, []string{"Grüße"}, msg.HeaderValues("Subject"))
	assert.Equal(t, []string{"from a", "from b"}, msg.HeaderValues("received"))
	assert.Nil(t, msg.HeaderValues("x-missing"))
	assert.Equal(t, int64(len(multipartMessage)), msg.Size())
}

func TestMessageBody(t *testing.T) {
	msg, err := Parse([]byte(multipartMessage))
	require.NoError(t, err)

	text, err := msg.Body(interp.BodyText)
	require.NoError(t, err)
	require.Len(t, text, 2)
	assert.Contains(t, text[0], "Café at noon")
	assert.Contains(t, text[1], "Bring cake")

	raw, err := msg.Body(interp.BodyRaw)
	require.NoError(t, err)
	require.Len(t, raw, 1)
	assert.True(t, strings.HasPrefix(raw[0], "--XYZ\r\n"))
	assert.Contains(t, raw[0], "Caf=C3=A9")
}

func TestMessageWithoutMIME(t *testing.T) {
	msg, err := Parse([]byte("Subject: hi\n\nplain body\n"))
	require.NoError(t, err)
	text, err := msg.Body(interp.BodyText)
	require.NoError(t, err)
	assert.Equal(t, []string{"plain body\n"}, text)
}

func TestStripBase64DataURIs(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "HTML with embedded base64 image",
			input:    `<img src="data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNk+M9QDwADhgGAWjR9awAAAABJRU5ErkJggg==" alt="test">`,
			expected: `<img src="[embedded-image]" alt="test">`,
		},
		{
			name:     "Multiple embedded images",
			input:    `<img src="data:image/jpeg;base64,` + strings.Repeat("A", 200) + `"> <img src="data:image/gif;base64,` + strings.Repeat("B", 150) + `">`,
			expected: `<img src="[embedded-image]"> <img src="[embedded-image]">`,
		},
		{
			name:     "Short base64 not stripped (< 50 chars)",
			input:    `<img src="data:image/png;base64,ABC123">`,
			expected: `<img src="data:image/png;base64,ABC123">`,
		},
		{
			name:     "No base64 data URIs",
			input:    `<img src="https://example.com/image.png">`,
			expected: `<img src="https://example.com/image.png">`,
		},
		{
			name:     "Mixed content",
			input:    `<p>Hello</p><img src="data:image/png;base64,` + strings.Repeat("C", 500) + `"><p>World</p>`,
			expected: `<p>Hello</p><img src="[embedded-image]"><p>World</p>`,
		},
		{
			name:     "Very large base64 (simulating newsletter)",
			input:    `<html><body><img src="data:image/png;base64,` + strings.Repeat("X", 100000) + `"></body></html>`,
			expected: `<html><body><img src="[embedded-image]"></body></html>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := stripBase64DataURIs(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestStripBase64DataURIs_SizeReduction(t *testing.T) {
	// Test that stripping actually reduces size significantly
	largeBase64 := strings.Repeat("A", 1000000) // 1 MB of base64
	input := `<img src="data:image/png;base64,` + largeBase64 + `">`

	result := stripBase64DataURIs(input)

	// Original should be > 1MB, result should be < 100 bytes
	assert.Greater(t, len(input), 1000000)
	assert.Less(t, len(result), 100)
	assert.Contains(t, result, "[embedded-image]")
}

func TestStripBase64DataURIs_VariousFormats(t *testing.T) {
	tests := []struct {
		name     string
		mimeType string
	}{
		{"PNG", "data:image/png;base64,"},
		{"JPEG", "data:image/jpeg;base64,"},
		{"GIF", "data:image/gif;base64,"},
		{"SVG", "data:image/svg+xml;base64,"},
		{"WebP", "data:image/webp;base64,"},
		{"PDF", "data:application/pdf;base64,"},
		{"Any type", "data:foo/bar;base64,"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base64Data := strings.Repeat("A", 200) // Long enough to match regex
			input := tt.mimeType + base64Data
			result := stripBase64DataURIs(input)

			assert.NotContains(t, result, base64Data, "Base64 data should be stripped")
			assert.Contains(t, result, "[embedded-image]")
		})
	}
}
