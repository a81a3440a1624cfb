// Package runtime binds configuration and assembles the running
// service: store, queue, venues, router, worker, and HTTP surface.
package runtime

import (
	"fmt"
	"time"

	mbp "go.gazette.dev/core/mainboilerplate"
)

// Config is the complete configuration of the orderflow service,
// populated from flags and the environment.
type Config struct {
	Server struct {
		Port        uint16   `long:"port" env:"PORT" default:"8080" description:"HTTP service port"`
		AuthKey     string   `long:"auth-key" env:"API_AUTH_KEY" description:"HS256 key for bearer authentication of the API; empty disables auth"`
		CORSOrigins []string `long:"cors-origin" env:"CORS_ORIGINS" env-delim:"," description:"Allowed CORS origins; none allows any origin"`
	} `group:"Server" namespace:"server"`

	Solana struct {
		RPCURL         string        `long:"rpc-url" env:"SOLANA_RPC_URL" default:"https://api.devnet.solana.com" description:"Chain RPC endpoint"`
		Commitment     string        `long:"commitment" env:"SOLANA_COMMITMENT" default:"confirmed" choice:"processed" choice:"confirmed" choice:"finalized" description:"Confirmation level awaited after submission"`
		Cluster        string        `long:"cluster" env:"SOLANA_CLUSTER" default:"devnet" description:"Cluster name used in explorer links"`
		ExplorerURL    string        `long:"explorer-url" env:"SOLANA_EXPLORER_URL" default:"https://explorer.solana.com" description:"Block explorer base URL"`
		WalletKey      string        `long:"wallet-private-key" env:"WALLET_PRIVATE_KEY" description:"Signer secret: base58, base64, or a JSON byte array"`
		ConfirmTimeout time.Duration `long:"confirm-timeout" env:"SOLANA_CONFIRM_TIMEOUT" default:"90s" description:"Total wait for the configured commitment"`
	} `group:"Solana" namespace:"solana"`

	Queue struct {
		Driver    string `long:"driver" env:"QUEUE_DRIVER" default:"redis" choice:"redis" choice:"memory" description:"Queue transport; memory is for development only"`
		Attempts  int    `long:"attempts" env:"QUEUE_ATTEMPTS" default:"3" description:"Delivery attempts per job"`
		BackoffMS int    `long:"backoff-ms" env:"QUEUE_BACKOFF_MS" default:"2000" description:"Initial retry backoff in milliseconds; doubles per attempt"`
	} `group:"Queue" namespace:"queue"`

	Redis struct {
		URL      string `long:"url" env:"REDIS_URL" description:"Redis connection URL; overrides the host/port settings"`
		Host     string `long:"host" env:"REDIS_HOST" default:"localhost" description:"Redis host"`
		Port     int    `long:"port" env:"REDIS_PORT" default:"6379" description:"Redis port"`
		Username string `long:"username" env:"REDIS_USERNAME" description:"Redis username"`
		Password string `long:"password" env:"REDIS_PASSWORD" description:"Redis password"`
		DB       int    `long:"db" env:"REDIS_DB" default:"0" description:"Redis logical database"`
	} `group:"Redis" namespace:"redis"`

	History struct {
		Driver        string `long:"driver" env:"HISTORY_DRIVER" default:"postgres" choice:"postgres" choice:"sqlite3" description:"History store driver"`
		PostgresURL   string `long:"postgres-url" env:"POSTGRES_URL" description:"Postgres connection string"`
		PoolMax       int    `long:"pool-max" env:"POSTGRES_POOL_MAX" default:"10" description:"Connection pool size"`
		IdleTimeoutMS int    `long:"idle-timeout-ms" env:"POSTGRES_IDLE_TIMEOUT_MS" default:"30000" description:"Idle connection timeout in milliseconds"`
		SQLitePath    string `long:"sqlite-path" env:"SQLITE_PATH" default:"orderflow.db" description:"SQLite database path for the sqlite3 driver"`
	} `group:"History" namespace:"history"`

	Pipeline struct {
		Slippage       float64 `long:"slippage" env:"SLIPPAGE" default:"0.01" description:"Fractional slippage tolerance (0.01 is 1%)"`
		RouteTimeoutMS int     `long:"route-timeout-ms" env:"ROUTE_TIMEOUT_MS" default:"5000" description:"Per-venue quote deadline in milliseconds"`
		Concurrency    int     `long:"concurrency" env:"WORKER_CONCURRENCY" default:"10" description:"Concurrent execution workers"`
		RateLimit      int     `long:"rate-limit" env:"RATE_LIMIT" default:"10" description:"Orders routed per minute"`
		PoolFanout     int     `long:"pool-fanout" env:"POOL_FANOUT" default:"3" description:"Pools priced per venue and pair"`
		PoolsFile      string  `long:"pools-file" env:"POOLS_FILE" description:"JSON file of venue pool registrations"`
		ReserveTTLMS   int     `long:"reserve-ttl-ms" env:"RESERVE_TTL_MS" default:"3000" description:"Pool reserve cache TTL in milliseconds"`
	} `group:"Pipeline" namespace:"pipeline"`

	NodeEnv string `long:"node-env" env:"NODE_ENV" description:"Deployment environment; production implies JSON logs"`

	Log         mbp.LogConfig         `group:"Logging" namespace:"log" env-namespace:"LOG"`
	Diagnostics mbp.DiagnosticsConfig `group:"Debug" namespace:"debug" env-namespace:"DEBUG"`
}

// RouteTimeout converts the configured milliseconds.
func (c *Config) RouteTimeout() time.Duration {
	return time.Duration(c.Pipeline.RouteTimeoutMS) * time.Millisecond
}

// RetryBackoff converts the configured milliseconds.
func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.Queue.BackoffMS) * time.Millisecond
}

// RedisAddr renders the host/port address used when no URL is given.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}
