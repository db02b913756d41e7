package helpers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBaseSubject(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"Meeting notes", "Meeting notes"},
		{"Re: Meeting notes", "Meeting notes"},
		{"RE: re: Meeting notes", "Meeting notes"},
		{"Re[2]: Budget", "Budget"},
		{"Re(3): Budget", "Budget"},
		{"Fwd: Re: Budget", "Budget"},
		{"FW: Forward: Budget", "Budget"},
		{"Auto: Re: Out of office", "Out of office"},
		{"  Re:   spaced  ", "spaced"},
		{"Re[broken Budget", "Re[broken Budget"},
		{"Regarding the plan", "Regarding the plan"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, BaseSubject(tt.input))
		})
	}
}
