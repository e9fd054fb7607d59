package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
http:
  addr: ":9090"
  read_timeout: 5s
logging:
  level: debug
storage:
  driver: memory
medianizers:
  - name: btc-usd
    type: http
    url: https://prices.example/btc
    value_path: data.price
  - name: eth-usd
    type: static
    value: "3000_000000000000000000"
feeds:
  - id: btc-daily
    owner: "0x0000000000000000000000000000000000000009"
    update_interval: 86400
    max_data_points: 200
    seed: ["100", "110"]
    schedule: "@every 1h"
    source:
      type: linearized
      medianizer: btc-usd
      update_tolerance: 3600
  - id: eth-daily
    update_interval: 86400
    max_data_points: 30
    source:
      type: direct
      medianizer: eth-usd
oracles:
  - name: btc-ma20
    type: moving_average
    feed: btc-daily
    window: 20
  - name: eth-latest
    type: latest
    feed: eth-daily
managers:
  - name: btc-eth
    asset_a: {token: "0x0000000000000000000000000000000000000001", decimals: 8, multiplier: 1, oracle: btc-ma20}
    asset_b: {token: "0x0000000000000000000000000000000000000002", decimals: 18, multiplier: 1, oracle: eth-latest}
    auction_library: "0x0000000000000000000000000000000000000003"
    auction_time_to_pivot: 86400
    lower_threshold: 48
    upper_threshold: 52
    price_divisor: "1000"
`

func TestParseAndValidate(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, 5*time.Second, cfg.HTTP.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.HTTP.WriteTimeout)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	require.Len(t, cfg.Feeds, 2)
	assert.Equal(t, SourceLinearized, cfg.Feeds[0].Source.Type)
	assert.Equal(t, uint64(3600), cfg.Feeds[0].Source.UpdateTolerance)
	assert.Equal(t, []string{"100", "110"}, cfg.Feeds[0].Seed)
	require.Len(t, cfg.Managers, 1)
	assert.Equal(t, uint32(8), cfg.Managers[0].AssetA.Decimals)
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)
	cfg.Feeds[0].Source.Medianizer = "missing"
	cfg.Oracles[0].Window = 500
	cfg.Managers[0].LowerThreshold = 60
	cfg.Managers[0].PriceDivisor = "-1"
	cfg.Storage.Driver = "sqlite"

	err = cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown medianizer "missing"`,
		"window must be in [1, 200]",
		"lower < upper",
		"price_divisor",
		`unknown driver "sqlite"`,
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidateBasketsNeedSigner(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)
	cfg.Managers[0].Baskets = []BasketConfig{{Contract: "0x0000000000000000000000000000000000000004"}}
	assert.ErrorContains(t, cfg.Validate(), "neo.signer_key")

	cfg.Neo.RPCURL = "http://localhost:10332"
	cfg.Neo.SignerKey = "1dd37fba80fec4e6a6f13fd708d8dcb3b29def768017052f6c930fa1c5d90bbb"
	assert.NoError(t, cfg.Validate())
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("BASKET_HTTP_ADDR", ":7070")
	t.Setenv("BASKET_STORAGE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/basket")
	t.Setenv("NEO_NETWORK_ID", "894710606")

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv())
	assert.Equal(t, ":7070", cfg.HTTP.Addr)
	assert.Equal(t, DriverPostgres, cfg.Storage.Driver)
	assert.Equal(t, "postgres://localhost/basket", cfg.Storage.PostgresDSN)
	assert.Equal(t, uint32(894710606), cfg.Neo.NetworkID)
	assert.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "basket.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Oracles, 2)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestParseUint(t *testing.T) {
	v, err := ParseUint("1_000_000000000000000000")
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000000", v.String())

	for _, bad := range []string{"", "abc", "-5", "1.5"} {
		_, err := ParseUint(bad)
		assert.Error(t, err, bad)
	}
}
