package sh

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestShellRuns(t *testing.T) {
	r := New(false, nil)
	out, err := r.Shell(context.Background(), "echo hello", true)
	require.NoError(t, err)
	require.Contains(t, out, "hello")
}

func TestShellDryRunDoesNotExecute(t *testing.T) {
	r := New(true, nil)
	out, err := r.Shell(context.Background(), "touch /should/not/run", true)
	require.NoError(t, err)
	require.Equal(t, "", out)
}

func TestPipeDryRun(t *testing.T) {
	r := New(true, nil)
	err := r.Pipe(context.Background(), "zfs send tank@a", "zfs recv tank2@a", 0, true)
	require.NoError(t, err)
}
