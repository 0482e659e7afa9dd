package network

import (
	"net"
	"strconv"
	"time"

	"github.com/timefuse/timefuse-go/pkg/config"
	"github.com/timefuse/timefuse-go/pkg/wire"
)

type (
	// ServerConfig holds the server configuration.
	ServerConfig struct {
		// Address is the address the listener binds to, empty means
		// all interfaces.
		Address string

		// Port is the listen port.
		Port uint16

		// The user agent of the server.
		UserAgent string

		// PairInterval is the pause between pairing attempts while
		// either intake queue is empty.
		PairInterval time.Duration

		// DialTimeout bounds the greeting read on a fresh connection
		// and every pair-info write.
		DialTimeout time.Duration

		// MaxLineSize caps a single protocol line in bytes.
		MaxLineSize int
	}
)

// NewServerConfig creates a new ServerConfig struct
// using the main applications config.
func NewServerConfig(cfg config.Config) ServerConfig {
	masterConfig := cfg.MasterConfiguration
	pairInterval := masterConfig.PairInterval
	if pairInterval <= 0 {
		pairInterval = config.DefaultPairInterval
	}
	dialTimeout := masterConfig.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = config.DefaultDialTimeout
	}
	maxLineSize := masterConfig.MaxLineSize
	if maxLineSize <= 0 {
		maxLineSize = wire.MaxLineSize
	}
	return ServerConfig{
		Address:      masterConfig.Address,
		Port:         masterConfig.Port,
		UserAgent:    cfg.GenerateUserAgent(),
		PairInterval: time.Duration(pairInterval) * time.Millisecond,
		DialTimeout:  time.Duration(dialTimeout) * time.Millisecond,
		MaxLineSize:  maxLineSize,
	}
}

// BindAddress returns the host:port string the listener binds to.
func (c ServerConfig) BindAddress() string {
	return net.JoinHostPort(c.Address, strconv.FormatUint(uint64(c.Port), 10))
}
