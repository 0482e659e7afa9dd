/*
Package options contains a set of common CLI options and helper functions to use them.
*/
package options

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/timefuse/timefuse-go/pkg/config"
)

// DefaultConfigPath is the directory the node searches for timefuse.yml
// in when no explicit path is given.
const DefaultConfigPath = "./config"

// Config is a flag for commands that use the node configuration.
var Config = cli.StringFlag{
	Name:  "config-path",
	Usage: "path to the directory holding timefuse.yml",
}

// Debug is a flag for commands that allow node in debug mode usage.
var Debug = cli.BoolFlag{
	Name:  "debug, d",
	Usage: "enable debug logging (overrides configuration)",
}

// GetConfigFromContext looks at the path flag in the given context and
// returns an appropriate config. Without the flag a missing file is not
// an error, the embedded defaults serve.
func GetConfigFromContext(ctx *cli.Context) (config.Config, error) {
	if argCp := ctx.String("config-path"); argCp != "" {
		return config.Load(argCp)
	}
	cfg, err := config.Load(DefaultConfigPath)
	if err != nil {
		if os.IsNotExist(errors.Cause(err)) {
			return config.Default(), nil
		}
		return config.Config{}, err
	}
	return cfg, nil
}

// HandleLoggingParams reads logging parameters.
// If a user selected debug level -- function enables it.
// If logPath is configured -- function creates a dir and a file for logging.
func HandleLoggingParams(debug bool, cfg config.ApplicationConfiguration) (*zap.Logger, error) {
	var (
		level = zapcore.InfoLevel
		err   error
	)
	if len(cfg.LogLevel) > 0 {
		level, err = zapcore.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, errors.Wrap(err, "log setting")
		}
	}
	if debug {
		level = zapcore.DebugLevel
	}

	cc := zap.NewProductionConfig()
	cc.DisableCaller = true
	cc.DisableStacktrace = true
	cc.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	cc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cc.Encoding = "console"
	cc.Level = zap.NewAtomicLevelAt(level)
	cc.Sampling = nil

	if logPath := cfg.LogPath; logPath != "" {
		if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
			return nil, errors.Wrap(err, "log path")
		}
		cc.OutputPaths = []string{logPath}
	}

	return cc.Build()
}
