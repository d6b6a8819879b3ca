package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cramsino/cramsino"
	"github.com/cramsino/cramsino/internal/economy"
	"github.com/cramsino/cramsino/internal/testutil"
)

// focusEnv points the CLI at a fresh state file and no quest generator.
func focusEnv(t *testing.T) {
	t.Helper()
	t.Setenv("FOCUS_STATE_PATH", filepath.Join(t.TempDir(), "focus.db"))
	t.Setenv("FOCUS_DATABASE_URL", "")
	t.Setenv("FOCUS_QUEST_URL", "")
	t.Setenv("FOCUS_CLIENT_ID", "")
	t.Setenv("FOCUS_RELAY_URL", "")
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestLedgerCommand(t *testing.T) {
	focusEnv(t)

	out, err := execute(t, "", "ledger", "--json")
	require.NoError(t, err)
	var snap economy.Snapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	assert.Equal(t, economy.DefaultCoins, snap.Coins)
	assert.Equal(t, 1, snap.Level)

	out, err = execute(t, "", "ledger")
	require.NoError(t, err)
	assert.Contains(t, out, "coins  10000")
	assert.Contains(t, out, "100 to next level")
}

func TestQuestCommands(t *testing.T) {
	focusEnv(t)

	out, err := execute(t, "", "quests", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "no quests offered")

	out, err = execute(t, "", "quests", "generate", "--quest-count", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Manual Training", "no generator configured, so the fallback is offered")
	assert.Contains(t, out, "Quick Focus Test")

	out, err = execute(t, "", "quests", "list")
	require.NoError(t, err)
	var localID string
	for _, line := range strings.Split(out, "\n") {
		if strings.HasSuffix(line, "Quick Focus Test") {
			localID = strings.Fields(line)[0]
		}
	}
	require.NotEmpty(t, localID)

	_, err = execute(t, "", "quests", "select", "nope")
	require.Error(t, err)

	out, err = execute(t, "", "quests", "select", localID)
	require.NoError(t, err)
	assert.Contains(t, out, "active quest: Quick Focus Test")

	out, err = execute(t, "", "quests", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "phase: active")
}

func TestPackOpen(t *testing.T) {
	focusEnv(t)

	out, err := execute(t, "", "pack", "open")
	require.NoError(t, err)
	assert.Contains(t, out, "9500 coins left")
}

func TestInvalidFlags(t *testing.T) {
	focusEnv(t)

	_, err := execute(t, "", "ledger", "--poll-interval", "10ms")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FOCUS_POLL_INTERVAL")

	_, err = execute(t, "", "status")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client_id is required")

	_, err = execute(t, "", "ledger", "--log-level", "loud")
	require.Error(t, err)
}

func TestPublishStatusAndRunAgainstRelay(t *testing.T) {
	focusEnv(t)
	t.Setenv("RELAY_RATE_LIMIT_ENABLED", "false")
	app, err := cramsino.New(cramsino.WithLogger(testutil.TestLogger()))
	require.NoError(t, err)
	srv := httptest.NewServer(app.Handler())
	t.Cleanup(srv.Close)

	_, err = execute(t, "", "status", "--relay", srv.URL, "--client-id", "desk-7")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nothing published yet")

	out, err := execute(t, "", "publish", "--relay", srv.URL, "--client-id", "desk-7", "--talking")
	require.NoError(t, err)
	assert.Contains(t, out, "published status for desk-7")

	require.Eventually(t, func() bool {
		_, err := app.Status(context.Background(), "desk-7")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)

	out, err = execute(t, "", "status", "--relay", srv.URL, "--client-id", "desk-7")
	require.NoError(t, err)
	assert.Contains(t, out, `"talking":true`)

	out, err = execute(t, "pause\nledger\nquit\n", "run", "--relay", srv.URL, "--client-id", "desk-7")
	require.NoError(t, err)
	assert.Contains(t, out, "session started for desk-7")
	assert.Contains(t, out, "running -> paused")
	assert.Contains(t, out, "coins  10000")
}
