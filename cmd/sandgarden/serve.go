package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/chaz8081/sandgarden/internal/ble"
	"github.com/chaz8081/sandgarden/internal/config"
	"github.com/chaz8081/sandgarden/internal/core"
	"github.com/chaz8081/sandgarden/internal/device"
	"github.com/chaz8081/sandgarden/internal/discovery"
	"github.com/chaz8081/sandgarden/internal/httpapi"
	"github.com/chaz8081/sandgarden/internal/logging"
	"github.com/chaz8081/sandgarden/internal/scriptstore"
	"github.com/chaz8081/sandgarden/internal/syncutil"
)

// ServeCmd runs the daemon until SIGINT or SIGTERM.
type ServeCmd struct {
	Listen string `help:"Override http.listen"`
	NoBLE  bool   `name:"no-ble" help:"Disable the BLE peripheral"`
}

func (c *ServeCmd) Run(globals *CLI) error {
	cfg, err := loadConfig(globals.Config)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Listen != "" {
		cfg.HTTP.Listen = c.Listen
	}
	if c.NoBLE {
		cfg.BLE.Enabled = false
	}
	if globals.Verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	closer, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	printBanner(cfg)

	store := scriptstore.New(afero.NewOsFs(), cfg.Store.Dir, nil)
	ctrl := device.New(store, nil)
	garden := core.New(ctrl, core.Options{
		MaxScriptLength:  cfg.Script.MaxLength,
		LedEffects:       cfg.LED.Effects,
		ScriptTimeout:    cfg.Script.Timeout,
		ProgressInterval: cfg.Script.ProgressInterval,
		TickInterval:     cfg.TickInterval,
	})
	ctrl.Bind(garden)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return garden.Run(ctx) })

	if err := startTransports(ctx, g, cfg, garden); err != nil {
		return abortStart(stop, g, err)
	}

	slog.Info("Ready! Ctrl+C to quit.")
	err = g.Wait()
	slog.Info("Goodbye!")
	return err
}

// startTransports starts the enabled transports on g. On error, whatever
// already started is still running on g.
func startTransports(ctx context.Context, g *errgroup.Group, cfg *config.Config, c *core.Core) error {
	if cfg.HTTP.Enabled {
		if err := startHTTP(ctx, g, cfg, c); err != nil {
			return err
		}
	}
	if cfg.BLE.Enabled {
		if err := startBLE(ctx, g, cfg, c); err != nil {
			return err
		}
	}
	return nil
}

// abortStart cancels everything running on g, waits for it and returns err.
func abortStart(stop context.CancelFunc, g *errgroup.Group, err error) error {
	stop()
	if werr := g.Wait(); werr != nil {
		slog.Debug("shutdown after failed start", "error", werr)
	}
	return err
}

func setupLogging(cfg *config.Config) (io.Closer, error) {
	closer, err := logging.Setup(logging.Options{
		Level: config.ParseLogLevel(cfg.LogLevel),
		File:  cfg.LogFile,
	})
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	return closer, nil
}

func startHTTP(ctx context.Context, g *errgroup.Group, cfg *config.Config, c *core.Core) error {
	srv := httpapi.New(c, httpapi.Options{RateLimit: cfg.HTTP.RateLimit})
	ln, err := net.Listen("tcp", cfg.HTTP.Listen)
	if err != nil {
		return fmt.Errorf("http: listen %s: %w", cfg.HTTP.Listen, err)
	}
	g.Go(func() error { return srv.Serve(ctx, ln) })

	if cfg.HTTP.MDNS {
		port := ln.Addr().(*net.TCPAddr).Port
		adv := discovery.NewAdvertiser(discovery.Options{
			Port: port,
			Text: []string{"name=" + cfg.BLE.DeviceName},
		})
		g.Go(func() error { return adv.Run(ctx) })
	}
	return nil
}

func startBLE(ctx context.Context, g *errgroup.Group, cfg *config.Config, c *core.Core) error {
	srv := ble.NewServer(c, ble.NewPeripheral(), ble.ServerOptions{DeviceName: cfg.BLE.DeviceName})
	if err := srv.Start(); err != nil {
		if errors.Is(err, ble.ErrPeripheralUnsupported) && cfg.HTTP.Enabled {
			slog.Warn("[BLE] peripheral unavailable, serving HTTP only", "error", err)
			return nil
		}
		return fmt.Errorf("ble: %w", err)
	}
	g.Go(func() error { return srv.Run(ctx) })
	return nil
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== sandgarden ===")
	if cfg.HTTP.Enabled {
		fmt.Printf("  HTTP:    %s (mDNS: %t, rate limit: %g/s)\n", cfg.HTTP.Listen, cfg.HTTP.MDNS, cfg.HTTP.RateLimit)
	} else {
		fmt.Println("  HTTP:    disabled")
	}
	if cfg.BLE.Enabled {
		fmt.Printf("  BLE:     %q\n", cfg.BLE.DeviceName)
	} else {
		fmt.Println("  BLE:     disabled")
	}
	fmt.Printf("  Script:  max %d bytes, timeout %s\n", cfg.Script.MaxLength, cfg.Script.Timeout)
	fmt.Printf("  Store:   %s\n", cfg.Store.Dir)
	fmt.Printf("  Log:     %s\n", cfg.LogLevel)
	if syncutil.DeadlockDetection {
		fmt.Println("  Locks:   deadlock detection enabled")
	}
	fmt.Println("==================")
}
