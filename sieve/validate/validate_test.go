package validate

import (
	"testing"

	"github.com/migadu/sora-sieve/sieve/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtensions(t *testing.T) {
	supported := []string{"fileinto", "vacation"}
	assert.NoError(t, Extensions(nil, supported))
	assert.NoError(t, Extensions([]string{"vacation"}, supported))

	err := Extensions([]string{"vacation", "enotify", "bogus"}, supported)
	assert.ErrorIs(t, err, ErrUnknownExtension)
	assert.ErrorContains(t, err, "enotify, bogus")
}

func TestCapabilities(t *testing.T) {
	assert.Equal(t, []string{
		"comparator-i;ascii-casemap",
		"comparator-i;octet",
		"fileinto",
		"vacation",
	}, Capabilities([]string{"vacation", "fileinto", "fileinto"}))
}

func TestCrossCheck(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		checked bool
		wantErr bool
	}{
		{"accepted", `require "fileinto"; if header :contains "subject" "x" { fileinto "A"; }`, true, false},
		{"rejected", `require "fileinto"; fileinto;`, true, true},
		{"unknown to go-sieve", `require "notify"; notify;`, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			script, err := parser.Parse(tt.src)
			require.NoError(t, err)
			checked, err := CrossCheck(tt.src, script, []string{"fileinto", "notify"})
			assert.Equal(t, tt.checked, checked)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrRejected)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
