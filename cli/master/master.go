package master

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/timefuse/timefuse-go/cli/options"
	"github.com/timefuse/timefuse-go/pkg/metrics"
	"github.com/timefuse/timefuse-go/pkg/network"
	"github.com/urfave/cli"
	"go.uber.org/zap"
)

// NewCommands returns the 'master' command.
func NewCommands() []cli.Command {
	return []cli.Command{{
		Name:   "master",
		Usage:  "start a pairing master node",
		Action: startMaster,
		Flags: []cli.Flag{
			cli.StringFlag{Name: "host", Usage: "bind address"},
			cli.UintFlag{Name: "port", Usage: "listen port"},
			options.Config,
			options.Debug,
		},
	}}
}

func startMaster(ctx *cli.Context) error {
	cfg, err := options.GetConfigFromContext(ctx)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	if host := ctx.String("host"); host != "" {
		cfg.MasterConfiguration.Address = host
	}
	if port := ctx.Uint("port"); port != 0 {
		cfg.MasterConfiguration.Port = uint16(port)
	}

	log, err := options.HandleLoggingParams(ctx.Bool("debug"), cfg.ApplicationConfiguration)
	if err != nil {
		return cli.NewExitError(err, 1)
	}

	serv, err := network.NewServer(network.NewServerConfig(cfg), log)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	if err := serv.Start(); err != nil {
		return cli.NewExitError(err, 1)
	}

	prometheus := metrics.NewPrometheusService(cfg.ApplicationConfiguration.Prometheus, log)
	pprof := metrics.NewPprofService(cfg.ApplicationConfiguration.Pprof, log)
	go prometheus.Start()
	go pprof.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var exitErr *cli.ExitError
	select {
	case err := <-serv.Err():
		log.Error("listener failed", zap.Error(err))
		exitErr = cli.NewExitError(err, 2)
	case sig := <-sigCh:
		log.Info("signal received, shutting down", zap.Stringer("name", sig))
	}

	serv.Shutdown()
	prometheus.ShutDown()
	pprof.ShutDown()

	if exitErr != nil {
		return exitErr
	}
	return nil
}
