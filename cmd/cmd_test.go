package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/michaelpento.lv/flasharb/config"
	"github.com/michaelpento.lv/flasharb/dex"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestPoolCommand(t *testing.T) {
	out, err := run(t, "pool")
	require.NoError(t, err)

	want, err := dex.ComputePoolAddress(dex.PancakeSwapV3Deployer, config.USDT, config.WBNB, 100)
	require.NoError(t, err)
	assert.Contains(t, out, want.Hex())
	assert.Contains(t, out, "pancakev3")
	assert.Contains(t, out, "venue B")
}

func TestSimulateCommand(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		return path
	}

	ok := write("ok.yaml", `
name: withdraw stray
deposits:
  - {token: asset1, to: engine, amount: "7"}
steps:
  - action: withdraw
    token: asset1
    expect: success
`)
	out, err := run(t, "simulate", "--scenario", ok)
	require.NoError(t, err)
	assert.Contains(t, out, `scenario "withdraw stray"`)
	assert.Contains(t, out, "withdraw")

	bad := write("bad.yaml", `
steps:
  - action: withdraw
    token: asset1
    expect: success
`)
	out, err = run(t, "simulate", "--scenario", bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not match")
	assert.Contains(t, out, "expected success")
}
