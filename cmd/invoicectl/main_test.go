package main

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/invoicer/internal/crypto"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	log := zerolog.New(io.Discard)
	root := newRootCmd(&log)

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)

	err := root.Execute()
	return out.String(), err
}

func TestRootCmd_Commands(t *testing.T) {
	log := zerolog.New(io.Discard)
	root := newRootCmd(&log)

	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"remind", "issues", "invoice", "customer", "migrate", "email", "keygen"} {
		assert.True(t, names[want], "missing command %q", want)
	}
}

func TestKeygen(t *testing.T) {
	out, err := execute(t, "keygen")
	require.NoError(t, err)

	key, err := crypto.DecodeKeyBase64(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Len(t, key, 32)
}

func TestRemind_RejectsBadTime(t *testing.T) {
	_, err := execute(t, "remind", "--at", "yesterday")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --at value")
}

func TestArgValidation(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"resolve without id", []string{"issues", "resolve"}},
		{"replay with two ids", []string{"issues", "replay", "a", "b"}},
		{"show without number", []string{"invoice", "show"}},
		{"pay without ref", []string{"invoice", "pay", "INV-1"}},
		{"deactivate without id", []string{"customer", "deactivate"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			assert.Error(t, err)
		})
	}
}
