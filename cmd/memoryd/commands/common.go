package commands

import (
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/memoryd/internal/config"
	"git.home.luguber.info/inful/memoryd/internal/logging"
	"git.home.luguber.info/inful/memoryd/internal/persist"
)

// Global carries state shared by all subcommands.
type Global struct {
	Logger *slog.Logger
	Stdout io.Writer
}

// out returns where command output is printed.
func (g *Global) out() io.Writer {
	if g == nil || g.Stdout == nil {
		return os.Stdout
	}
	return g.Stdout
}

// CLI definition & global flags - used by commands that need access to root config.
type CLI struct {
	Config    string           `short:"c" help:"Configuration file path" default:"memoryd.yaml" env:"MEMORYD_CONFIG"`
	Verbose   bool             `short:"v" help:"Enable verbose logging"`
	LogLevel  string           `name:"log-level" help:"Override logging.level (debug, info, warn, error)"`
	LogFormat string           `name:"log-format" help:"Override logging.format (text, json)"`
	Version   kong.VersionFlag `name:"version" help:"Show version and exit"`

	Start   StartCmd   `cmd:"" default:"1" help:"Start the memory daemon in the foreground (default)"`
	Stop    StopCmd    `cmd:"" help:"Signal a running daemon to shut down"`
	Status  StatusCmd  `cmd:"" help:"Report whether the daemon is running"`
	Restart RestartCmd `cmd:"" help:"Stop a running daemon, wait for it to exit, then start"`
}

// AfterApply runs after flag parsing; installs a console logger until the
// configuration is known.
// nolint:unparam // AfterApply currently never returns an error.
func (c *CLI) AfterApply(g *Global) error {
	logger, _, _ := logging.Setup(logging.Options{Level: c.level(nil)})
	slog.SetDefault(logger)
	if g != nil {
		g.Logger = logger
	}
	return nil
}

// level resolves the effective log level: --verbose, then --log-level, then
// the configuration file.
func (c *CLI) level(cfg *config.Config) slog.Level {
	if c.Verbose {
		return slog.LevelDebug
	}
	if c.LogLevel != "" {
		return config.NormalizeLogLevel(c.LogLevel).SlogLevel()
	}
	if cfg != nil {
		return config.NormalizeLogLevel(cfg.Logging.Level).SlogLevel()
	}
	return slog.LevelInfo
}

func (c *CLI) jsonLogs(cfg *config.Config) bool {
	format := cfg.Logging.Format
	if c.LogFormat != "" {
		format = c.LogFormat
	}
	return config.NormalizeLogFormat(format) == config.LogFormatJSON
}

// LoadConfig loads the configuration named by --config.
func (c *CLI) LoadConfig() (*config.Config, error) {
	return config.Load(c.Config)
}

// setupDaemonLogging replaces the console logger with one that also writes
// to the daily log file under the data root. The returned closer releases
// the file.
func (c *CLI) setupDaemonLogging(g *Global, cfg *config.Config, logDir string) io.Closer {
	logger, closer, err := logging.Setup(logging.Options{
		Level:  c.level(cfg),
		JSON:   c.jsonLogs(cfg),
		LogDir: logDir,
	})
	slog.SetDefault(logger)
	if g != nil {
		g.Logger = logger
	}
	if err != nil {
		slog.Warn("Log file unavailable, logging to console only", "dir", logDir, "error", err)
	}
	return closer
}

// storeFor returns a persistence view over cfg's data root for commands
// that inspect a daemon without running one.
func storeFor(cfg *config.Config) *persist.Store {
	return persist.NewStore(cfg.DataDir, cfg.PIDFile)
}
