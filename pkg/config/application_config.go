package config

import (
	"github.com/timefuse/timefuse-go/pkg/metrics"
)

// ApplicationConfiguration config common to both node roles.
type ApplicationConfiguration struct {
	LogPath    string         `yaml:"LogPath"`
	LogLevel   string         `yaml:"LogLevel"`
	Pprof      metrics.Config `yaml:"Pprof"`
	Prometheus metrics.Config `yaml:"Prometheus"`
}
