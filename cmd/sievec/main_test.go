package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/migadu/sora-sieve/server/sieveengine"
	"github.com/migadu/sora-sieve/sieve/bytecode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const urgentScript = `require "fileinto";
if header :contains "subject" "urgent" {
	fileinto "Urgent";
}
`

const testMessage = "From: alice@example.org\r\n" +
	"To: bob@example.com\r\n" +
	"Subject: Urgent report\r\n" +
	"\r\n" +
	"Please read.\r\n"

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestCompileWritesBinary(t *testing.T) {
	dir := t.TempDir()
	script := writeFile(t, dir, "urgent.sieve", urgentScript)

	out, err := execute(t, "compile", script)
	require.NoError(t, err)
	assert.Contains(t, out, "urgent.svbin")

	raw, err := os.ReadFile(filepath.Join(dir, "urgent.svbin"))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(raw, []byte(bytecode.Magic)))
}

func TestCompileJSON(t *testing.T) {
	dir := t.TempDir()
	script := writeFile(t, dir, "urgent.sieve", urgentScript)
	target := filepath.Join(dir, "out.bin")

	out, err := execute(t, "--format", "json", "compile", "-o", target, script)
	require.NoError(t, err)

	var res compileResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, target, res.Output)
	assert.Len(t, res.Key, 64)

	info, err := os.Stat(target)
	require.NoError(t, err)
	assert.Equal(t, int64(res.Size), info.Size())
}

func TestCompileInvalidScript(t *testing.T) {
	dir := t.TempDir()
	script := writeFile(t, dir, "bad.sieve", `fileinto "A";`)

	_, err := execute(t, "compile", script)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.sieve")
	_, statErr := os.Stat(filepath.Join(dir, "bad.svbin"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestDumpScriptAndBinary(t *testing.T) {
	dir := t.TempDir()
	script := writeFile(t, dir, "urgent.sieve", urgentScript)

	fromScript, err := execute(t, "dump", script)
	require.NoError(t, err)
	assert.Contains(t, fromScript, "FILEINTO")

	_, err = execute(t, "compile", script)
	require.NoError(t, err)
	fromBinary, err := execute(t, "dump", filepath.Join(dir, "urgent.svbin"))
	require.NoError(t, err)
	assert.Equal(t, fromScript, fromBinary)
}

func TestCheck(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.sieve", urgentScript)
	bad := writeFile(t, dir, "bad.sieve", `if true {`)

	out, err := execute(t, "check", good)
	require.NoError(t, err)
	assert.Contains(t, out, "good.sieve: ok")

	out, err = execute(t, "check", good, bad)
	require.Error(t, err)
	assert.Contains(t, out, "good.sieve: ok")
	assert.Contains(t, err.Error(), "bad.sieve")
}

func TestCheckRestrictedExtensions(t *testing.T) {
	dir := t.TempDir()
	script := writeFile(t, dir, "urgent.sieve", urgentScript)

	_, err := execute(t, "--extensions", "envelope", "check", script)
	assert.Error(t, err)
}

func TestRunJSON(t *testing.T) {
	dir := t.TempDir()
	script := writeFile(t, dir, "urgent.sieve", urgentScript)
	msg := writeFile(t, dir, "msg.eml", testMessage)

	out, err := execute(t, "--format", "json", "run", "--from", "alice@example.org", "--to", "bob@example.com", script, msg)
	require.NoError(t, err)

	var res runResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, sieveengine.ActionFileInto, res.Summary.Action)
	assert.Equal(t, "Urgent", res.Summary.Mailbox)
	assert.Empty(t, res.Error)
}

func TestRunImplicitKeep(t *testing.T) {
	dir := t.TempDir()
	script := writeFile(t, dir, "urgent.sieve", urgentScript)
	msg := writeFile(t, dir, "msg.eml", "Subject: hello\r\n\r\nhi\r\n")

	out, err := execute(t, "run", script, msg)
	require.NoError(t, err)
	assert.Contains(t, out, "action: keep")
	assert.Contains(t, out, "mailbox: INBOX")
}

func TestRunMessageFromStdin(t *testing.T) {
	dir := t.TempDir()
	script := writeFile(t, dir, "urgent.sieve", urgentScript)

	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(bytes.NewBufferString(testMessage))
	cmd.SetArgs([]string{"--log-level", "error", "run", script, "-"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "action: fileinto")
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "--format", "yaml", "check", "x.sieve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestMissingConfigFile(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "absent.toml"), "check", "x.sieve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestConfigFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "config.toml", "[sieve]\ndefault_mailbox = \"Delivered\"\n")
	script := writeFile(t, dir, "keep.sieve", "keep;\n")
	msg := writeFile(t, dir, "msg.eml", "Subject: hello\r\n\r\nhi\r\n")

	out, err := execute(t, "--config", cfg, "run", script, msg)
	require.NoError(t, err)
	assert.Contains(t, out, "mailbox: Delivered")
}
