package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"github.com/chaz8081/sandgarden/internal/config"
)

// CLI is the root command structure for sandgarden.
type CLI struct {
	Verbose bool   `short:"v" help:"Enable debug logging"`
	Config  string `short:"c" type:"path" help:"Path to config file (default: ~/.config/sandgarden/config.yaml)"`

	Serve    ServeCmd    `cmd:"" default:"withargs" help:"Run the BLE and HTTP configuration daemon (default)"`
	Init     InitCmd     `cmd:"" help:"Write the default config file"`
	Scripts  ScriptsCmd  `cmd:"" help:"Manage scripts received by this host"`
	State    StateCmd    `cmd:"" help:"Show a garden's settings over HTTP"`
	Set      SetCmd      `cmd:"" help:"Change one setting over HTTP"`
	Command  CommandCmd  `cmd:"" help:"Send a generic command such as HOME or STOP"`
	Upload   UploadCmd   `cmd:"" help:"Upload a SandScript over HTTP or BLE"`
	Watch    WatchCmd    `cmd:"" help:"Stream a garden's events"`
	Discover DiscoverCmd `cmd:"" help:"Find gardens on the local network"`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("sandgarden"),
		kong.Description("Sand Garden configuration daemon and client."),
		kong.UsageOnError(),
	)
	if err := ctx.Run(&cli); err != nil {
		fmt.Fprintf(os.Stderr, "sandgarden: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		slog.Debug("Config loaded", "path", defaultPath)
		return cfg, nil
	}

	slog.Debug("No config file found, using defaults")
	return config.Default(), nil
}

// InitCmd writes the default config.
type InitCmd struct{}

func (c *InitCmd) Run(globals *CLI) error {
	path, err := config.WriteDefault()
	if err != nil {
		return err
	}
	if path == "" {
		fmt.Printf("Config already exists at %s\n", config.DefaultConfigPath())
		return nil
	}
	fmt.Printf("Wrote default config to %s\n", path)
	return nil
}
