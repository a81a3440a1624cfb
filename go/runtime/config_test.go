package runtime

import (
	"testing"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	var cfg = new(Config)
	_, err := flags.NewParser(cfg, flags.None).ParseArgs(nil)
	require.NoError(t, err)

	require.Equal(t, uint16(8080), cfg.Server.Port)
	require.Equal(t, "confirmed", cfg.Solana.Commitment)
	require.Equal(t, "devnet", cfg.Solana.Cluster)
	require.Equal(t, "redis", cfg.Queue.Driver)
	require.Equal(t, 3, cfg.Queue.Attempts)
	require.Equal(t, 2*time.Second, cfg.RetryBackoff())
	require.Equal(t, "postgres", cfg.History.Driver)
	require.Equal(t, 0.01, cfg.Pipeline.Slippage)
	require.Equal(t, 5*time.Second, cfg.RouteTimeout())
	require.Equal(t, 10, cfg.Pipeline.Concurrency)
	require.Equal(t, 10, cfg.Pipeline.RateLimit)
	require.Equal(t, 3, cfg.Pipeline.PoolFanout)
	require.Equal(t, "localhost:6379", cfg.RedisAddr())
}
