package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeArgs(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"empty", nil, []string{}},
		{"legacy no audio", []string{"-u", "abc", "-na"}, []string{"-u", "abc", "--no-audio"}},
		{"untouched", []string{"-p", "9000", "-i"}, []string{"-p", "9000", "-i"}},
		{"after terminator", []string{"--", "-na"}, []string{"--", "-na"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeArgs(tt.in))
		})
	}
}

func TestRootFlagsBound(t *testing.T) {
	for _, name := range []string{"udid", "port", "include-header", "no-audio", "host", "metrics-addr"} {
		assert.NotNil(t, rootCmd.Flags().Lookup(name), name)
	}
	assert.Equal(t, "u", rootCmd.Flags().Lookup("udid").Shorthand)
	assert.Equal(t, "p", rootCmd.Flags().Lookup("port").Shorthand)
	assert.Equal(t, "i", rootCmd.Flags().Lookup("include-header").Shorthand)
}
