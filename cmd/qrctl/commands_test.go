package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payment_backend/internal/emvqr"
)

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("APP_ENV", "dev")
	t.Setenv("QR_SIGNING_KEY", "")
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestBuildThenInspect(t *testing.T) {
	content, err := run(t, "", "build", "--bank", "mb", "--account", "0123456789", "--amount", "120000", "--message", "Order#5", "--tx-id", "cli-1")
	require.NoError(t, err)
	content = strings.TrimSpace(content)
	assert.True(t, emvqr.IsValid(content))

	out, err := run(t, content, "inspect")
	require.NoError(t, err)
	var report emvqr.Report
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Equal(t, "cli-1", report.TransactionID)
	assert.True(t, report.CRCValid)
	assert.True(t, report.SignatureValid)
	assert.Equal(t, "120000", report.Fields["54"])
}

func TestBuild_RejectsBadAmount(t *testing.T) {
	_, err := run(t, "", "build", "--account", "1", "--amount", "-5")
	assert.Error(t, err)
}

func TestRenderAndInspectImage(t *testing.T) {
	content, err := run(t, "", "build", "--account", "42", "--amount", "1000", "--tx-id", "img-1")
	require.NoError(t, err)

	out := filepath.Join(t.TempDir(), "qr.png")
	_, err = run(t, "", "render", "--out", out, strings.TrimSpace(content))
	require.NoError(t, err)
	info, err := os.Stat(out)
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	report, err := run(t, "", "inspect", "--image", "--no-verify", out)
	require.NoError(t, err)
	assert.Contains(t, report, `"transactionId": "img-1"`)
}

func TestInspect_NoInput(t *testing.T) {
	_, err := run(t, "", "inspect", "--no-verify")
	assert.EqualError(t, err, "no input")
}
