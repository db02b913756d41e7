package body

import (
	"testing"

	"github.com/migadu/sora-sieve/sieve/codegen"
	"github.com/migadu/sora-sieve/testutils"
	"github.com/stretchr/testify/assert"
)

func TestBody(t *testing.T) {
	h := testutils.NewHarness(t, Register)
	msg := &testutils.Message{
		Headers: map[string][]string{"Content-Type": {"multipart/alternative"}},
		Text:    []string{"Please find the quarterly report attached.", "Regards"},
		Raw:     "--b\r\nContent-Type: text/html\r\n\r\n<p>quarterly <b>report</b></p>\r\n--b--\r\n",
	}

	tests := []struct {
		name string
		test string
		want bool
	}{
		{"text contains", `body :contains "quarterly report"`, true},
		{"explicit text", `body :text :contains "REGARDS"`, true},
		{"text hides markup", `body :contains "<b>"`, false},
		{"raw sees markup", `body :raw :contains "<b>report</b>"`, true},
		{"default is is", `body "Regards"`, true},
		{"matches", `body :matches "*report*"`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := h.Run(`require "body"; if `+tt.test+` { discard; }`, testutils.Env(msg))
			assert.Equal(t, tt.want, res.Len() == 1)
		})
	}

	t.Run("no message", func(t *testing.T) {
		res := h.Run(`require "body"; if body :contains "x" { discard; }`, testutils.Env(nil))
		assert.Equal(t, 0, res.Len())
	})
}

func TestBodyCompileErrors(t *testing.T) {
	h := testutils.NewHarness(t, Register)
	tests := []struct {
		name   string
		script string
		msg    string
	}{
		{"not required", `if body "x" { keep; }`, `requires "body"`},
		{"two transforms", `require "body"; if body :raw :text "x" { keep; }`, "exclude each other"},
		{"content unsupported", `require "body"; if body :content "text" "x" { keep; }`, "unknown tag :content"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.CompileError(tt.script)
			assert.ErrorIs(t, err, codegen.ErrCompile)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestBodyDump(t *testing.T) {
	h := testutils.NewHarness(t, Register)
	out := h.Dump(`require "body"; if body :raw "x" { keep; }`)
	assert.Contains(t, out, "BODY")
	assert.Contains(t, out, "transform: NUM 1")
}
