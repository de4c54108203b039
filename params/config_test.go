package params

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	alice = "0x00000000000000000000000000000000000a11ce"
	bob   = "0x0000000000000000000000000000000000000b0b"
	usdc  = "0x0000000000000000000000000000000000005dc0"
)

// noEnvFile points LoadFromEnv at a file that does not exist so a stray
// .env in the package directory cannot leak in.
func noEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoadFromEnvDefaults(t *testing.T) {
	cfg, err := LoadFromEnv(noEnvFile(t))
	require.NoError(t, err)
	assert.Equal(t, Default().Exchange, cfg.Exchange)
	assert.Equal(t, 200*time.Millisecond, cfg.Node.MinBlockTime)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("CHAIN_ID", "42")
	t.Setenv("FEE_ACCOUNT", bob)
	t.Setenv("FEE_PERCENT", "3")
	t.Setenv("DATA_DIR", "")
	t.Setenv("NODE_MIN_BLOCK_TIME_MS", "50")
	t.Setenv("MAX_PENDING", "1000")
	t.Setenv("GENESIS_NATIVE", alice+":100, "+bob+":7,"+alice+":1")
	t.Setenv("TOKEN_USDC", usdc+":6:USD Coin")
	t.Setenv("TOKEN_USDC_BALANCES", bob+":5000000")
	t.Setenv("ENABLE_TXGEN", "true")
	t.Setenv("TXGEN_MODE", "high")

	cfg, err := LoadFromEnv(noEnvFile(t))
	require.NoError(t, err)

	assert.Equal(t, int64(42), cfg.Exchange.ChainID)
	assert.Equal(t, common.HexToAddress(bob), cfg.Exchange.FeeAccount)
	assert.Equal(t, uint64(3), cfg.Exchange.FeePercent)
	assert.Empty(t, cfg.Node.DataDir)
	assert.Equal(t, 50*time.Millisecond, cfg.Node.MinBlockTime)
	assert.Equal(t, 1000, cfg.Node.MaxPending)
	assert.Equal(t, "high", cfg.Node.TxGen)

	assert.Equal(t, "101", cfg.Genesis.Native[common.HexToAddress(alice)].Dec())
	assert.Equal(t, "7", cfg.Genesis.Native[common.HexToAddress(bob)].Dec())

	require.Len(t, cfg.Genesis.Tokens, 1)
	tok := cfg.Genesis.Tokens[0]
	assert.Equal(t, "USDC", tok.Symbol)
	assert.Equal(t, "USD Coin", tok.Name)
	assert.Equal(t, uint8(6), tok.Decimals)
	assert.Equal(t, common.HexToAddress(usdc), tok.Address)
	assert.Equal(t, "5000000", tok.Balances[common.HexToAddress(bob)].Dec())
}

func TestLoadFromEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("FEE_PERCENT=9\nAPI_ADDR=:9090\n"), 0o644))
	t.Setenv("FEE_PERCENT", "4") // environment wins over the file
	t.Setenv("API_ADDR", "") // registers restore; unset so the file applies
	os.Unsetenv("API_ADDR")

	cfg, err := LoadFromEnv(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), cfg.Exchange.FeePercent)
	assert.Equal(t, ":9090", cfg.Node.APIAddr)
}

func TestLoadFromEnvErrors(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"CHAIN_ID", "x"},
		{"FEE_ACCOUNT", "0x1234"},
		{"FEE_PERCENT", "-1"},
		{"GENESIS_NATIVE", alice},
		{"GENESIS_NATIVE", alice + ":1.5"},
		{"TOKEN_BAD", usdc},
		{"TOKEN_BAD", usdc + ":300"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := LoadFromEnv(noEnvFile(t))
			assert.ErrorContains(t, err, tt.key)
		})
	}
}
