package cmd

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/BrandonDHaskell/smartdoor/internal/smartdoor/types"
)

const testVaultKey = "smartdoorctl-test-vault-key-0001"

// run executes one smartdoorctl invocation against dbPath and returns
// its stdout.
func run(t *testing.T, dbPath string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--db", dbPath}, args...))
	err := root.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, dbPath string, args ...string) string {
	t.Helper()
	out, err := run(t, dbPath, args...)
	require.NoError(t, err, "smartdoorctl %s\n%s", strings.Join(args, " "), out)
	return out
}

func setup(t *testing.T) string {
	t.Helper()
	t.Setenv("SMARTDOOR_CONFIG", "")
	t.Setenv("SMARTDOOR_ENV", "prod")
	t.Setenv("SMARTDOOR_VAULT_KEY", testVaultKey)
	return filepath.Join(t.TempDir(), "ctl.db")
}

// ---------------------------------------------------------------------------
// passcode
// ---------------------------------------------------------------------------

func TestPasscode_SetMainAndReveal(t *testing.T) {
	dbPath := setup(t)

	out := mustRun(t, dbPath, "passcode", "set-main", "13571234")
	assert.Contains(t, out, "****1234")

	out = mustRun(t, dbPath, "passcode", "reveal-main")
	assert.Equal(t, "13571234\n", out)
}

func TestPasscode_RevealMainWithoutOne(t *testing.T) {
	dbPath := setup(t)

	_, err := run(t, dbPath, "passcode", "reveal-main")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no main code")
}

func TestPasscode_GuestLifecycleJSON(t *testing.T) {
	dbPath := setup(t)

	out := mustRun(t, dbPath, "-o", "json", "passcode", "add-guest", "2468", "--ttl", "30m", "--one-time")
	var created struct {
		ID      string `json:"id"`
		Masked  string `json:"masked"`
		OneTime bool   `json:"one_time"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &created))
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "****2468", created.Masked)
	assert.True(t, created.OneTime)

	out = mustRun(t, dbPath, "-o", "json", "passcode", "list")
	var listed []types.GuestCodeView
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, created.ID, listed[0].ID)
	assert.InDelta(t, 30*60, listed[0].RemainSec, 5)

	out = mustRun(t, dbPath, "passcode", "reveal", created.ID)
	assert.Equal(t, "2468\n", out)

	mustRun(t, dbPath, "passcode", "delete", created.ID)
	out = mustRun(t, dbPath, "-o", "json", "passcode", "list")
	assert.Equal(t, "[]\n", out)
}

func TestPasscode_RejectsBadCode(t *testing.T) {
	dbPath := setup(t)

	_, err := run(t, dbPath, "passcode", "add-guest", "12ab")
	require.Error(t, err)
}

func TestPasscode_DeleteUnknown(t *testing.T) {
	dbPath := setup(t)

	_, err := run(t, dbPath, "passcode", "delete", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

// ---------------------------------------------------------------------------
// settings
// ---------------------------------------------------------------------------

func TestSettings_ToggleAndHoldYAML(t *testing.T) {
	dbPath := setup(t)

	mustRun(t, dbPath, "settings", "disable", "face")
	mustRun(t, dbPath, "settings", "set-hold", "12")

	out := mustRun(t, dbPath, "-o", "yaml", "settings", "show")
	var s types.Settings
	require.NoError(t, yaml.Unmarshal([]byte(out), &s))
	assert.False(t, s.FaceEnabled)
	assert.True(t, s.PasscodeEnabled)
	assert.Equal(t, 12, s.HoldTimeSeconds)
}

func TestSettings_RejectsOutOfRangeHold(t *testing.T) {
	dbPath := setup(t)

	_, err := run(t, dbPath, "settings", "set-hold", "301")
	require.Error(t, err)
}

func TestSettings_RejectsManualToggle(t *testing.T) {
	dbPath := setup(t)

	_, err := run(t, dbPath, "settings", "disable", "manual")
	require.Error(t, err)
}

// ---------------------------------------------------------------------------
// templates, logs, vault
// ---------------------------------------------------------------------------

func TestTemplate_EnrollListDelete(t *testing.T) {
	dbPath := setup(t)

	mustRun(t, dbPath, "template", "add-face", "alice", "--embedding", "0.1,0.2,0.3")
	mustRun(t, dbPath, "template", "add-fingerprint", "alice", "--slot", "3")

	out := mustRun(t, dbPath, "-o", "json", "template", "list")
	var views []templateView
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	require.Len(t, views, 2)

	out = mustRun(t, dbPath, "template", "delete", "--kind", "face", "--label", "alice")
	assert.Contains(t, out, "1 face template(s)")

	out = mustRun(t, dbPath, "-o", "json", "template", "list", "--kind", "fingerprint")
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "fingerprint", views[0].Kind)
}

func TestLogs_EmptyTable(t *testing.T) {
	dbPath := setup(t)

	out := mustRun(t, dbPath, "logs", "recent")
	assert.Contains(t, out, "No access attempts recorded.")

	_, err := run(t, dbPath, "logs", "list", "--month", "13")
	require.Error(t, err)
}

func TestVault_CheckAndRewrap(t *testing.T) {
	dbPath := setup(t)
	mustRun(t, dbPath, "passcode", "set-main", "13571234")

	// Rotate: the old key becomes a previous key.
	t.Setenv("SMARTDOOR_VAULT_KEY", "smartdoorctl-test-vault-key-0002")
	t.Setenv("SMARTDOOR_VAULT_PREVIOUS_KEYS", testVaultKey)

	out := mustRun(t, dbPath, "-o", "json", "vault", "check")
	var rep vaultReportView
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	assert.Equal(t, 1, rep.Checked)
	assert.Len(t, rep.Rewrap, 1)

	out = mustRun(t, dbPath, "vault", "rewrap")
	assert.Contains(t, out, "re-sealed 1")

	// The retired key is no longer needed.
	t.Setenv("SMARTDOOR_VAULT_PREVIOUS_KEYS", "")
	out = mustRun(t, dbPath, "passcode", "reveal-main")
	assert.Equal(t, "13571234\n", out)
}

func TestVault_CheckFailsOnUnknownKey(t *testing.T) {
	dbPath := setup(t)
	mustRun(t, dbPath, "passcode", "set-main", "13571234")

	t.Setenv("SMARTDOOR_VAULT_KEY", "some-other-vault-key-entirely")
	_, err := run(t, dbPath, "vault", "check")
	require.Error(t, err)
}

// ---------------------------------------------------------------------------
// root
// ---------------------------------------------------------------------------

func TestRoot_RequiresVaultKey(t *testing.T) {
	dbPath := setup(t)
	t.Setenv("SMARTDOOR_VAULT_KEY", "")

	_, err := run(t, dbPath, "settings", "show")
	require.Error(t, err)
}

func TestRoot_RejectsUnknownFormat(t *testing.T) {
	dbPath := setup(t)

	_, err := run(t, dbPath, "-o", "xml", "settings", "show")
	require.Error(t, err)
}
