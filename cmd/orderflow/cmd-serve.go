package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	mbp "go.gazette.dev/core/mainboilerplate"
	"go.gazette.dev/core/task"

	"github.com/riptidelabs/orderflow/go/runtime"
)

type cmdServe struct{}

func (cmdServe) Execute(_ []string) error {
	defer mbp.InitDiagnosticsAndRecover(Config.Diagnostics)()
	runtime.InitLogging(Config)

	log.WithFields(log.Fields{
		"port":        Config.Server.Port,
		"queue":       Config.Queue.Driver,
		"history":     Config.History.Driver,
		"cluster":     Config.Solana.Cluster,
		"concurrency": Config.Pipeline.Concurrency,
	}).Info("orderflow configuration")

	app, err := runtime.NewApp(context.Background(), Config)
	mbp.Must(err, "building the service")

	var tasks = task.NewGroup(context.Background())
	app.QueueTasks(tasks)

	var signalCh = make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGTERM, syscall.SIGINT)

	tasks.Queue("watch signalCh", func() error {
		select {
		case sig := <-signalCh:
			log.WithField("signal", sig).Info("caught signal; draining")
			tasks.Cancel()
		case <-tasks.Context().Done():
		}
		return nil
	})
	tasks.GoRun()

	// Block until every loop drains. Any task error is fatal.
	mbp.Must(tasks.Wait(), "orderflow task failed")
	app.Stop()
	log.Info("goodbye")

	return nil
}
