package main

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"capstore/core/genesis"
	"capstore/core/types"
)

var (
	systemHex = strings.Repeat("ff", 32)
	aliceHex  = strings.Repeat("01", 32)
)

func writeFixture(t *testing.T) (configPath string, genesisPath string) {
	t.Helper()
	dir := t.TempDir()
	configPath = filepath.Join(dir, "config.toml")
	genesisPath = filepath.Join(dir, "genesis.yaml")
	cfg := fmt.Sprintf(`DataDir = %q
SystemAccount = %q

[Logging]
File = %q
`, filepath.Join(dir, "data"), systemHex, filepath.Join(dir, "capstore.log"))
	require.NoError(t, os.WriteFile(configPath, []byte(cfg), 0o644))
	spec := fmt.Sprintf(`genesisTime: "2024-01-01T00:00:00Z"
protocolVersion: 1
systemAccount: "%s"
accounts:
  - address: "%s"
    balance: "1000"
    bondedAmount: "10"
`, systemHex, aliceHex)
	require.NoError(t, os.WriteFile(genesisPath, []byte(spec), 0o644))
	return configPath, genesisPath
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	err := app.Run(append([]string{"capstore"}, args...))
	return out.String(), err
}

func TestGenesisThenRead(t *testing.T) {
	configPath, genesisPath := writeFixture(t)

	out, err := run(t, "--config", configPath, "genesis", genesisPath)
	require.NoError(t, err)
	require.Contains(t, out, "root\t0x")

	_, err = run(t, "--config", configPath, "genesis", genesisPath)
	require.Error(t, err)

	out, err = run(t, "--config", configPath, "balance", aliceHex)
	require.NoError(t, err)
	require.Equal(t, "1000\n", out)

	alice, err := types.ParseAddress(aliceHex)
	require.NoError(t, err)
	bech, err := genesis.EncodeBech32Account(alice)
	require.NoError(t, err)
	out, err = run(t, "--config", configPath, "query", "--key", "account:"+systemHex, "--path", "pos")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "Contract "), out)
	require.Contains(t, out, "v_"+aliceHex+"_10")

	out, err = run(t, "--config", configPath, "query", "--key", "account:"+bech)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "Account "), out)

	out, err = run(t, "--config", configPath, "dump")
	require.NoError(t, err)
	require.Contains(t, out, "account-"+aliceHex)

	out, err = run(t, "--config", configPath, "history")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(out, "0 "), out)
	require.Contains(t, out, "genesis")
}

func TestGenesisRequiresMatchingSystemAccount(t *testing.T) {
	configPath, genesisPath := writeFixture(t)
	raw, err := os.ReadFile(genesisPath)
	require.NoError(t, err)
	other := strings.Replace(string(raw), systemHex, strings.Repeat("ee", 32), 1)
	require.NoError(t, os.WriteFile(genesisPath, []byte(other), 0o644))

	_, err = run(t, "--config", configPath, "genesis", genesisPath)
	require.ErrorContains(t, err, "does not match")
}

func TestReadsBeforeGenesis(t *testing.T) {
	configPath, _ := writeFixture(t)
	_, err := run(t, "--config", configPath, "balance", aliceHex)
	require.Error(t, err)
	_, err = run(t, "--config", configPath, "balance")
	require.ErrorContains(t, err, "missing account")
}
