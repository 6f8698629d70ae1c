package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestNextDue(t *testing.T) {
	out, err := run(t, "next-due", "--frequency", "weekly", "--from", "2024-01-31", "--tz", "UTC", "-n", "3")
	require.NoError(t, err)
	require.Equal(t, "2024-02-07T00:00:00Z\n2024-02-14T00:00:00Z\n2024-02-21T00:00:00Z\n", out)

	out, err = run(t, "next-due", "--frequency", "Monthly", "--from", "2024-01-31", "--tz", "UTC")
	require.NoError(t, err)
	require.Equal(t, "2024-03-02T00:00:00Z\n", out)

	_, err = run(t, "next-due", "--frequency", "fortnightly")
	require.Error(t, err)
	_, err = run(t, "next-due", "--from", "soon")
	require.Error(t, err)
}

func TestClassify(t *testing.T) {
	out, err := run(t, "classify", "--tz", "UTC", "2000-01-01", "2999-01-01", "garbage")
	require.NoError(t, err)
	require.Equal(t, "2000-01-01\tMissed\n2999-01-01\tScheduled\ngarbage\tunknown\n", out)
}

func TestTokenReconcileAndFeed(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	body := fmt.Sprintf(`{
		"logging": {"level": "error"},
		"storage": {"driver": "sqlite", "path": %q},
		"feed": {"base_url": "https://cal.example.com/"}
	}`, filepath.Join(dir, "touchbase.db"))
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o600))

	rotated, err := run(t, "-c", cfgPath, "token", "rotate", "--owner", "u1")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(rotated, "https://cal.example.com/feed/"), rotated)
	require.True(t, strings.HasSuffix(rotated, ".ics\n"), rotated)

	shown, err := run(t, "-c", cfgPath, "token", "show", "--owner", "u1")
	require.NoError(t, err)
	require.Equal(t, rotated, shown)

	out, err := run(t, "-c", cfgPath, "reconcile", "--owner", "u1")
	require.NoError(t, err)
	require.Contains(t, out, `"owner_id": "u1"`)

	out, err = run(t, "-c", cfgPath, "feed", "--owner", "u1")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "BEGIN:VCALENDAR\r\n"))

	_, err = run(t, "-c", cfgPath, "feed")
	require.Error(t, err)
}
