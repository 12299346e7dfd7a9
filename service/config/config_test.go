package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cleanupEnv()
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, []string{"wss://rpc.polkadot.io", "wss://westend-rpc.polkadot.io"}, cfg.NodeEndpoints)
	assert.Equal(t, uint16(0), cfg.SS58Prefix)
	assert.Equal(t, 10*time.Second, cfg.DialTimeout)
	assert.Equal(t, 15*time.Second, cfg.QueryTimeout)
	assert.Equal(t, 2*time.Minute, cfg.SubmitTimeout)
	assert.Equal(t, 10, cfg.TokenDecimals)
	assert.Equal(t, "DOT", cfg.TokenSymbol)
	assert.Equal(t, "Balances", cfg.TransferModule)
	assert.Equal(t, "transfer", cfg.TransferFunction)
	assert.True(t, cfg.WaitForInclusion)
	assert.Empty(t, cfg.Contacts)
	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, ":9091", cfg.MetricsAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Empty(t, cfg.NATSURL)
	assert.Equal(t, "voxpay-payments", cfg.TemporalTaskQueue)

	assert.Error(t, cfg.RequireSigner())
}

func TestLoad_Overrides(t *testing.T) {
	cleanupEnv()
	defer cleanupEnv()

	os.Setenv("SECRET_PHRASE", "bottom drive obey lake curtain smoke basket hold race lonely fit walk")
	os.Setenv("SS58_PREFIX", "42")
	os.Setenv("NODE_ENDPOINTS", " ws://127.0.0.1:9944 , wss://westend-rpc.polkadot.io,")
	os.Setenv("SUBMIT_TIMEOUT", "30s")
	os.Setenv("TOKEN_DECIMALS", "12")
	os.Setenv("TOKEN_SYMBOL", "WND")
	os.Setenv("TRANSFER_FUNCTION", "transfer_keep_alive")
	os.Setenv("WAIT_FOR_INCLUSION", "false")
	os.Setenv("CONTACTS", "bob=5FHneW46xGXgs5mUiveU4sbTyGBzmstUspZC92UhjJM694ty")

	cfg, err := Load()
	require.NoError(t, err)

	assert.NoError(t, cfg.RequireSigner())
	assert.Equal(t, uint16(42), cfg.SS58Prefix)
	assert.Equal(t, []string{"ws://127.0.0.1:9944", "wss://westend-rpc.polkadot.io"}, cfg.NodeEndpoints)
	assert.Equal(t, 30*time.Second, cfg.SubmitTimeout)
	assert.Equal(t, 12, cfg.TokenDecimals)
	assert.Equal(t, "WND", cfg.TokenSymbol)
	assert.Equal(t, "transfer_keep_alive", cfg.TransferFunction)
	assert.False(t, cfg.WaitForInclusion)
	assert.Equal(t, "5FHneW46xGXgs5mUiveU4sbTyGBzmstUspZC92UhjJM694ty", cfg.Contacts["bob"])
}

func TestLoad_AccumulatesErrors(t *testing.T) {
	cleanupEnv()
	defer cleanupEnv()

	os.Setenv("DIAL_TIMEOUT", "soon")
	os.Setenv("TOKEN_DECIMALS", "ten")
	os.Setenv("NODE_ENDPOINTS", "https://rpc.polkadot.io")
	os.Setenv("CONTACTS", "bob")

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "DIAL_TIMEOUT")
	assert.Contains(t, err.Error(), "invalid duration")
	assert.Contains(t, err.Error(), "TOKEN_DECIMALS")
	assert.Contains(t, err.Error(), "NODE_ENDPOINTS")
	assert.Contains(t, err.Error(), "CONTACTS")
}

func TestLoad_InvalidPrefix(t *testing.T) {
	cleanupEnv()
	defer cleanupEnv()

	os.Setenv("SS58_PREFIX", "70000")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SS58_PREFIX")
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		NodeEndpoints:     []string{"wss://rpc.polkadot.io"},
		DialTimeout:       time.Second,
		QueryTimeout:      time.Second,
		SubmitTimeout:     time.Second,
		TokenDecimals:     10,
		TransferModule:    "Balances",
		TransferFunction:  "transfer",
		TemporalHost:      "localhost:7233",
		TemporalNamespace: "default",
		TemporalTaskQueue: "voxpay-payments",
	}
	require.NoError(t, cfg.Validate())

	cfg.NodeEndpoints = nil
	cfg.TokenDecimals = -1
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NodeEndpoints")
	assert.Contains(t, err.Error(), "TokenDecimals")
}

func cleanupEnv() {
	for _, key := range []string{
		"SECRET_PHRASE", "SS58_PREFIX", "NODE_ENDPOINTS",
		"DIAL_TIMEOUT", "QUERY_TIMEOUT", "SUBMIT_TIMEOUT",
		"TOKEN_DECIMALS", "TOKEN_SYMBOL", "TRANSFER_MODULE", "TRANSFER_FUNCTION",
		"WAIT_FOR_INCLUSION", "CONTACTS",
		"SERVER_ADDR", "METRICS_ADDR", "LOG_LEVEL",
		"DATABASE_URL", "NATS_URL",
		"TEMPORAL_HOST", "TEMPORAL_NAMESPACE", "TEMPORAL_TASK_QUEUE",
	} {
		os.Unsetenv(key)
	}
}
