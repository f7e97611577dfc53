package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.False(t, cfg.HasSigner())
	assert.Contains(t, cfg.Networks, "sepolia")
	assert.Contains(t, cfg.Networks, "mumbai")
	assert.Equal(t, 6, cfg.Networks["sepolia"].Tokens["USDC"].Decimals)
}

func TestValidateAggregatesErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Bet.MinStake = "0"
	cfg.Wallet.EncryptedKeyPath = "/tmp/key.enc"
	n := cfg.Networks["sepolia"]
	n.Contract = "not-an-address"
	cfg.Networks["sepolia"] = n
	cfg.Archive.Enabled = true

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, `unknown mode "trade"`)
	assert.Contains(t, msg, "bet: min_stake")
	assert.Contains(t, msg, "wallet: key_password")
	assert.Contains(t, msg, "networks.sepolia: contract")
	assert.Contains(t, msg, "archive: requires")
}

func TestValidateRedisDisabledSkipsAddr(t *testing.T) {
	cfg := Defaults()
	cfg.Redis.Addr = ""
	require.Error(t, cfg.Validate())

	cfg.Redis.Enabled = false
	assert.NoError(t, cfg.Validate())
}

func TestValidateDuplicateChainID(t *testing.T) {
	cfg := Defaults()
	n := cfg.Networks["mumbai"]
	n.ChainID = cfg.Networks["sepolia"].ChainID
	cfg.Networks["mumbai"] = n

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already used by")
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "server"

[chain]
chain_id = 80001
poll_interval = "500ms"

[networks.local]
name = "Anvil"
chain_id = 31337
rpc_url = "http://127.0.0.1:8545"
contract = "0x5FbDB2315678afecb367f032d93F642f64180aa3"

[networks.local.tokens.USDC]
address = "0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512"
name = "USD Coin"
decimals = 6
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("CHAINBET_SERVER_PORT", "9090")
	t.Setenv("CHAINBET_NETWORK_SEPOLIA_CONTRACT", "0x00000000000000000000000000000000000000aa")
	t.Setenv("CHAINBET_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "server", cfg.Mode)
	assert.Equal(t, uint64(80001), cfg.Chain.ChainID)
	assert.Equal(t, 500*time.Millisecond, cfg.Chain.PollInterval.Duration)
	assert.Equal(t, 3*time.Minute, cfg.Chain.ConfirmTimeout.Duration)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "0x00000000000000000000000000000000000000aa", cfg.Networks["sepolia"].Contract)

	require.Contains(t, cfg.Networks, "local")
	assert.Equal(t, uint64(31337), cfg.Networks["local"].ChainID)
	assert.Contains(t, cfg.Networks, "mumbai")
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "deadbeef"
	cfg.Server.APIKey = "secret"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Wallet.PrivateKey)
	assert.Equal(t, "***", out.Server.APIKey)
	assert.Equal(t, "***", out.Networks["sepolia"].RPCURL)

	assert.Equal(t, "deadbeef", cfg.Wallet.PrivateKey)
	assert.Equal(t, "https://rpc.sepolia.org", cfg.Networks["sepolia"].RPCURL)
}
