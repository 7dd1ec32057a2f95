package cmd

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amansearch/pkg/version"
)

func runVersion(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newVersionCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestVersionCmd(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, out string)
	}{
		{"default", nil, func(t *testing.T, out string) {
			assert.Equal(t, version.String()+"\n", out)
		}},
		{"short", []string{"--short"}, func(t *testing.T, out string) {
			assert.Equal(t, version.Short(), strings.TrimSpace(out))
		}},
		{"json", []string{"--json"}, func(t *testing.T, out string) {
			var info version.BuildInfo
			require.NoError(t, json.Unmarshal([]byte(out), &info))
			assert.Equal(t, version.GetInfo(), info)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runVersion(t, tt.args...)

			require.NoError(t, err)
			tt.check(t, out)
		})
	}
}

func TestVersionCmd_FlagsAreExclusive(t *testing.T) {
	_, err := runVersion(t, "--json", "--short")
	assert.ErrorContains(t, err, "none of the others can be")
}

func TestVersionCmd_RejectsArgs(t *testing.T) {
	_, err := runVersion(t, "extra")
	assert.Error(t, err)
}
