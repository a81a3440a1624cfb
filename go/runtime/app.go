package runtime

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	mbp "go.gazette.dev/core/mainboilerplate"
	"go.gazette.dev/core/task"

	"github.com/riptidelabs/orderflow/go/api"
	"github.com/riptidelabs/orderflow/go/chain"
	"github.com/riptidelabs/orderflow/go/dex"
	"github.com/riptidelabs/orderflow/go/history"
	"github.com/riptidelabs/orderflow/go/hub"
	"github.com/riptidelabs/orderflow/go/intake"
	"github.com/riptidelabs/orderflow/go/queue"
	"github.com/riptidelabs/orderflow/go/worker"
)

// reserveCacheSize bounds the pool-reserve LRU. Generously above any
// plausible pool registry.
const reserveCacheSize = 256

// stopTimeout is the hard ceiling on draining external resources at
// shutdown.
const stopTimeout = 30 * time.Second

// InitLogging applies the logging configuration. NODE_ENV=production
// selects JSON output unless LOG_FORMAT was set explicitly, matching
// the deployment environments this service ships to.
func InitLogging(cfg *Config) {
	mbp.InitLog(cfg.Log)
	if cfg.NodeEnv == "production" && os.Getenv("LOG_FORMAT") == "" {
		log.SetFormatter(&log.JSONFormatter{})
	}
}

// App is the assembled service: every collaborator constructed,
// listener bound, nothing running yet.
type App struct {
	Config  *Config
	Store   *history.Store
	Queue   queue.Queue
	Hub     *hub.Hub
	Worker  *worker.Worker
	Intake  *intake.Service
	Handler http.Handler

	listener net.Listener
	server   *http.Server
}

// NewApp builds the service from cfg. Failures here are startup
// failures: the process should exit 1.
func NewApp(ctx context.Context, cfg *Config) (*App, error) {
	var app = &App{Config: cfg, Hub: hub.New()}

	var err error
	if app.Store, err = openStore(ctx, cfg); err != nil {
		return nil, err
	}
	if err = app.Store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensuring history schema: %w", err)
	}
	if app.Queue, err = openQueue(ctx, cfg); err != nil {
		return nil, err
	}

	wallet, err := chain.ParsePrivateKey(cfg.Solana.WalletKey)
	if err != nil {
		return nil, fmt.Errorf("loading wallet key: %w", err)
	}
	commitment, err := chain.ParseCommitment(cfg.Solana.Commitment)
	if err != nil {
		return nil, err
	}

	var rpcClient = rpc.New(cfg.Solana.RPCURL)
	var submitter = chain.NewSubmitter(rpcClient, wallet, commitment, cfg.Solana.ConfirmTimeout)
	var explorer = chain.Explorer{BaseURL: cfg.Solana.ExplorerURL, Cluster: cfg.Solana.Cluster}

	venues, err := buildVenues(cfg, rpcClient)
	if err != nil {
		return nil, err
	}
	var router = dex.NewRouter(venues, cfg.RouteTimeout(), cfg.Pipeline.Slippage)
	var limiter = worker.NewFixedWindowLimiter(cfg.Pipeline.RateLimit, time.Minute)

	app.Worker = worker.New(router, app.Store, app.Hub, submitter, limiter, explorer)
	app.Intake = intake.NewService(app.Store, app.Queue, app.Hub)

	var apiCfg = api.Config{CORSOrigins: cfg.Server.CORSOrigins}
	if cfg.Server.AuthKey != "" {
		apiCfg.AuthKey = []byte(cfg.Server.AuthKey)
	}
	app.Handler = api.NewHandler(app.Intake, app.Store, app.Hub, apiCfg)

	if app.listener, err = net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port)); err != nil {
		return nil, fmt.Errorf("binding port %d: %w", cfg.Server.Port, err)
	}
	app.server = &http.Server{Handler: app.Handler}

	log.WithFields(log.Fields{
		"port":    cfg.Server.Port,
		"wallet":  wallet.PublicKey(),
		"cluster": cfg.Solana.Cluster,
		"venues":  len(venues),
	}).Info("service assembled")
	return app, nil
}

// QueueTasks starts the long-lived loops: HTTP serving, queue
// consumers, and the server's shutdown watcher.
func (app *App) QueueTasks(tasks *task.Group) {
	app.Queue.NotifyFailed(app.Worker.JobFailed)
	app.Queue.Consume(tasks, app.Worker.Process, app.Config.Pipeline.Concurrency)

	tasks.Queue("http.Serve", func() error {
		if err := app.server.Serve(app.listener); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	tasks.Queue("http.Shutdown", func() error {
		<-tasks.Context().Done()
		var ctx, cancel = context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		return app.server.Shutdown(ctx)
	})
}

// Stop drains external resources in parallel, bounded by stopTimeout.
func (app *App) Stop() {
	var wg sync.WaitGroup
	for name, closer := range map[string]func() error{
		"queue": app.Queue.Close,
		"store": app.Store.Close,
	} {
		wg.Add(1)
		go func(name string, closer func() error) {
			defer wg.Done()
			if err := closer(); err != nil {
				log.WithFields(log.Fields{"resource": name, "error": err}).
					Warn("closing resource failed")
			}
		}(name, closer)
	}

	var done = make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(stopTimeout):
		log.Warn("resource drain exceeded the shutdown ceiling")
	}
}

func openStore(ctx context.Context, cfg *Config) (*history.Store, error) {
	var dsn string
	switch cfg.History.Driver {
	case history.DriverPostgres:
		if cfg.History.PostgresURL == "" {
			return nil, fmt.Errorf("POSTGRES_URL is required with the postgres history driver")
		}
		dsn = cfg.History.PostgresURL
	case history.DriverSQLite:
		dsn = "file:" + cfg.History.SQLitePath + "?_loc=UTC"
	default:
		return nil, fmt.Errorf("unknown history driver %q", cfg.History.Driver)
	}
	var idle = time.Duration(cfg.History.IdleTimeoutMS) * time.Millisecond
	return history.Open(ctx, cfg.History.Driver, dsn, cfg.History.PoolMax, idle)
}

func openQueue(ctx context.Context, cfg *Config) (queue.Queue, error) {
	var policy = queue.RetryPolicy{
		Attempts: cfg.Queue.Attempts,
		Initial:  cfg.RetryBackoff(),
		Factor:   2,
	}
	if cfg.Queue.Driver == "memory" {
		log.Warn("using the in-memory queue; jobs do not survive a restart")
		return queue.NewMemory(policy), nil
	}

	var opts *redis.Options
	if cfg.Redis.URL != "" {
		var err error
		if opts, err = redis.ParseURL(cfg.Redis.URL); err != nil {
			return nil, fmt.Errorf("parsing REDIS_URL: %w", err)
		}
	} else {
		opts = &redis.Options{
			Addr:     cfg.RedisAddr(),
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}
	}
	var client = redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis at %s: %w", opts.Addr, err)
	}
	return queue.NewRedis(client, policy), nil
}

func buildVenues(cfg *Config, client dex.ChainReader) ([]dex.Venue, error) {
	var pools = make(map[string][]dex.Pool)
	if cfg.Pipeline.PoolsFile != "" {
		var err error
		if pools, err = dex.LoadPools(cfg.Pipeline.PoolsFile); err != nil {
			return nil, err
		}
	} else {
		log.Warn("no pools file configured; every route will fail with no-pool")
	}

	var ttl = time.Duration(cfg.Pipeline.ReserveTTLMS) * time.Millisecond
	reserves, err := dex.NewCachedReserves(dex.NewRPCReserves(client), reserveCacheSize, ttl)
	if err != nil {
		return nil, err
	}

	return []dex.Venue{
		dex.NewRaydium(client, reserves, pools["raydium"], cfg.Pipeline.PoolFanout),
		dex.NewOrca(client, reserves, pools["orca"], cfg.Pipeline.PoolFanout),
	}, nil
}
