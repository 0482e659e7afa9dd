package worker

import (
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/timefuse/timefuse-go/cli/options"
	"github.com/timefuse/timefuse-go/pkg/command"
	"github.com/timefuse/timefuse-go/pkg/database"
	"github.com/timefuse/timefuse-go/pkg/metrics"
	"github.com/timefuse/timefuse-go/pkg/worker"
	"github.com/urfave/cli"
	"go.uber.org/zap"
)

// NewCommands returns the 'worker' command.
func NewCommands() []cli.Command {
	return []cli.Command{{
		Name:   "worker",
		Usage:  "start a job-serving worker node",
		Action: startWorker,
		Flags: []cli.Flag{
			cli.StringFlag{Name: "host", Usage: "local address to dial from"},
			cli.UintFlag{Name: "port", Usage: "local port to dial from"},
			cli.StringFlag{Name: "master-host", Usage: "master address"},
			cli.UintFlag{Name: "master-port", Usage: "master port"},
			options.Config,
			options.Debug,
		},
	}}
}

func startWorker(ctx *cli.Context) error {
	cfg, err := options.GetConfigFromContext(ctx)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	if host := ctx.String("master-host"); host != "" {
		cfg.WorkerConfiguration.MasterAddress = host
	}
	if port := ctx.Uint("master-port"); port != 0 {
		cfg.WorkerConfiguration.MasterPort = uint16(port)
	}

	log, err := options.HandleLoggingParams(ctx.Bool("debug"), cfg.ApplicationConfiguration)
	if err != nil {
		return cli.NewExitError(err, 1)
	}

	dbCfg, err := database.ConfigFromEnv()
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	store, err := database.NewMySQL(dbCfg, log)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	defer store.Close()

	nodeCfg := worker.NewConfig(cfg)
	if host, port := ctx.String("host"), ctx.Uint("port"); host != "" || port != 0 {
		nodeCfg.LocalAddress = net.JoinHostPort(host, strconv.FormatUint(uint64(port), 10))
	}

	node, err := worker.NewNode(nodeCfg, command.NewDispatcher(store, log), log)
	if err != nil {
		return cli.NewExitError(err, 1)
	}

	prometheus := metrics.NewPrometheusService(cfg.ApplicationConfiguration.Prometheus, log)
	pprof := metrics.NewPprofService(cfg.ApplicationConfiguration.Pprof, log)
	go prometheus.Start()
	go pprof.Start()

	errCh := make(chan error, 1)
	go func() {
		errCh <- node.Run()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("signal received, shutting down", zap.Stringer("name", sig))
		node.Stop()
		<-errCh
	case err := <-errCh:
		if err != nil {
			log.Error("worker loop ended", zap.Error(err))
		}
	}

	prometheus.ShutDown()
	pprof.ShutDown()
	return nil
}
