// pxebootd — a Proxy DHCP responder and read-only TFTP server for
// network (PXE) boot, run alongside a site's regular DHCP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/netboot/pxebootd/internal/config"
	"github.com/netboot/pxebootd/internal/events"
	"github.com/netboot/pxebootd/internal/logging"
	"github.com/netboot/pxebootd/internal/metrics"
	"github.com/netboot/pxebootd/internal/metricsrv"
	"github.com/netboot/pxebootd/internal/proxydhcp"
	"github.com/netboot/pxebootd/internal/tftp"
)

func main() {
	configPath := flag.String("config", "/etc/pxebootd/config.toml", "path to configuration file")
	dir := flag.String("dir", "", "TFTP server root directory (overrides config file)")
	bootfile := flag.String("bootfile", "", "boot filename advertised in DHCP option 67 (overrides config file)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}
	if *dir != "" {
		cfg.TFTP.Root = *dir
	}
	bootFilename := "pxeboot.com"
	if *bootfile != "" {
		bootFilename = *bootfile
	}

	logger := logging.Setup(cfg.Server.LogLevel, os.Stdout)
	logger.Info("pxebootd starting",
		"config", *configPath,
		"tftp_root", cfg.TFTP.Root,
		"bootfile", bootFilename)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus(4096, logger)
	go bus.Run()
	logSub := bus.Subscribe(1024)
	go relayEventsToLogger(logSub, logger)

	rateLimiter := proxydhcp.NewRateLimiter(cfg.RateLimit.Enabled,
		cfg.RateLimit.MaxDiscoversPerSecond, cfg.RateLimit.MaxPerMACPerSecond)
	responder := proxydhcp.NewResponder(bootFilename, rateLimiter, bus)
	dhcpGroup := proxydhcp.NewServerGroup(responder, logger)
	if err := dhcpGroup.Start(ctx, cfg.Server.Interfaces); err != nil {
		logger.Error("failed to start proxy DHCP listeners", "error", err)
		os.Exit(1)
	}

	tftpListener := tftp.NewListener(cfg.TFTP.Root, logger, bus)
	if err := tftpListener.Start(ctx, cfg.TFTP.Listen); err != nil {
		logger.Error("failed to start tftp listener", "error", err)
		os.Exit(1)
	}

	var metricsSrv *metricsrv.Server
	var metricsLn net.Listener
	if cfg.Metrics.Enabled {
		metricsSrv = metricsrv.NewServer(cfg.Metrics.Listen, logger)
		ln, err := metricsSrv.Listen()
		if err != nil {
			logger.Error("failed to start metrics server", "error", err)
			os.Exit(1)
		}
		metricsLn = ln
		logger.Info("metrics server started", "listen", ln.Addr().String())
	}

	metrics.TransfersActive.Set(0)

	if cfg.Server.PIDFile != "" {
		if err := writePIDFile(cfg.Server.PIDFile); err != nil {
			logger.Warn("failed to write PID file", "path", cfg.Server.PIDFile, "error", err)
		} else {
			defer removePIDFile(cfg.Server.PIDFile)
		}
	}

	// g supervises every long-running component: the first fatal error from
	// any of them cancels gctx, which unwinds the rest cleanly
	// (SPEC_FULL.md §5).
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dhcpGroup.Wait(gctx) })
	g.Go(func() error { return tftpListener.Wait(gctx) })
	if metricsSrv != nil {
		g.Go(func() error { return metricsSrv.Serve(metricsLn) })
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return metricsSrv.Stop(shutdownCtx)
		})
	}

	logger.Info("pxebootd ready",
		"interfaces", cfg.Server.Interfaces,
		"tftp_listen", cfg.TFTP.Listen,
		"rate_limit_enabled", cfg.RateLimit.Enabled)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		for sig := range sigCh {
			switch sig {
			case syscall.SIGHUP:
				logger.Info("received SIGHUP, reloading interface list")
				newCfg, err := config.Load(*configPath)
				if err != nil {
					logger.Error("failed to reload config", "error", err)
					continue
				}
				cfg.Server.Interfaces = newCfg.Server.Interfaces
				dhcpGroup.Reload(cfg.Server.Interfaces)
				logger.Info("interface reload complete", "interfaces", cfg.Server.Interfaces)

			case syscall.SIGINT, syscall.SIGTERM:
				logger.Info("received shutdown signal", "signal", sig.String())
				cancel()
				return
			}
		}
	}()

	err = g.Wait()
	bus.Stop()
	if err != nil {
		logger.Error("pxebootd stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("pxebootd stopped")
}

// relayEventsToLogger forwards the event bus's verbose/warning/error
// stream into the structured logger (spec.md §6 "Log sink").
func relayEventsToLogger(ch chan events.Event, logger *slog.Logger) {
	for evt := range ch {
		args := make([]any, 0, len(evt.Fields)*2)
		for k, v := range evt.Fields {
			args = append(args, k, v)
		}
		switch evt.Level {
		case events.LevelError:
			logger.Error(evt.Message, args...)
		case events.LevelWarning:
			logger.Warn(evt.Message, args...)
		default:
			logger.Debug(evt.Message, args...)
		}
	}
}

func writePIDFile(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating PID directory %s: %w", dir, err)
		}
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

func removePIDFile(path string) {
	os.Remove(path)
}
