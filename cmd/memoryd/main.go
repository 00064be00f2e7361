package main

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/memoryd/cmd/memoryd/commands"
	derrors "git.home.luguber.info/inful/memoryd/internal/errors"
	"git.home.luguber.info/inful/memoryd/internal/version"
)

func main() {
	var cli commands.CLI
	global := &commands.Global{Stdout: os.Stdout}

	parser := kong.Parse(&cli,
		kong.Name("memoryd"),
		kong.Description("Memory daemon: buffers chat messages and persists them on a schedule."),
		kong.UsageOnError(),
		kong.Vars{"version": version.String()},
		kong.Bind(global),
	)

	if err := parser.Run(global, &cli); err != nil {
		logger := global.Logger
		if logger == nil {
			logger = slog.Default()
		}
		derrors.NewCLIErrorAdapter(cli.Verbose, logger).HandleError(err)
	}
}
