package app

import (
	"fmt"
	"os"
	"runtime"

	"github.com/timefuse/timefuse-go/cli/master"
	"github.com/timefuse/timefuse-go/cli/worker"
	"github.com/timefuse/timefuse-go/pkg/config"
	"github.com/urfave/cli"
)

func versionPrinter(c *cli.Context) {
	_, _ = fmt.Fprintf(c.App.Writer, "TimeFuse\nVersion: %s\nGoVersion: %s\n",
		config.Version,
		runtime.Version(),
	)
}

// New creates a TimeFuse instance of [cli.App] with both node commands
// included.
func New() *cli.App {
	cli.VersionPrinter = versionPrinter
	ctl := cli.NewApp()
	ctl.Name = "timefuse-go"
	ctl.Version = config.Version
	ctl.Usage = "TimeFuse job brokerage node"
	ctl.ErrWriter = os.Stdout

	ctl.Commands = append(ctl.Commands, master.NewCommands()...)
	ctl.Commands = append(ctl.Commands, worker.NewCommands()...)
	return ctl
}
