package proxydhcp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// ServerGroup manages one Server per non-loopback IPv4 interface on the
// host, all sharing one Responder. Fixes the single-interface bind bug in
// original_source/pxeresponder.cpp, which bound only the first interface it
// found and returned.
type ServerGroup struct {
	resp   *Responder
	logger *slog.Logger

	mu      sync.Mutex
	servers map[string]*Server // interface name → server
	ctx     context.Context
	cancel  context.CancelFunc

	// fatal carries a Reload-triggered bind failure out of Run, so that
	// one interface failing cancels every sibling listener cleanly
	// (SPEC_FULL.md §5) instead of only being logged.
	fatal chan error
}

// NewServerGroup creates a server group sharing one Responder.
func NewServerGroup(resp *Responder, logger *slog.Logger) *ServerGroup {
	return &ServerGroup{
		resp:    resp,
		logger:  logger,
		servers: make(map[string]*Server),
		fatal:   make(chan error, 1),
	}
}

// Wait blocks until ctx is cancelled or a fatal error is reported (e.g. a
// Reload bind failure), stopping every listener before returning.
// Intended to be handed to an errgroup.Group alongside the TFTP listener
// and metrics server, after Start has already succeeded, so one fatal
// listener error cancels every sibling cleanly (SPEC_FULL.md §5).
func (g *ServerGroup) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		g.Stop()
		return nil
	case err := <-g.fatal:
		g.Stop()
		return err
	}
}

// Run starts every listener and then waits, for standalone callers (e.g.
// tests) that don't need the Start/Wait split an errgroup-based caller
// uses.
func (g *ServerGroup) Run(ctx context.Context, names []string) error {
	if err := g.Start(ctx, names); err != nil {
		return err
	}
	return g.Wait(ctx)
}

// discoverInterfaces enumerates the host's usable interfaces. It is a
// variable so tests can substitute a fixed interface set.
var discoverInterfaces = collectUsableInterfaces

// Start binds a listener on every usable interface (or every interface in
// names, if non-empty) and begins serving.
func (g *ServerGroup) Start(ctx context.Context, names []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.ctx, g.cancel = context.WithCancel(ctx)

	targets, err := g.resolveTargets(names)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return fmt.Errorf("no usable IPv4 interfaces found to bind proxy DHCP listeners on")
	}

	for iface, ip := range targets {
		if err := g.startListener(iface, ip); err != nil {
			return err
		}
	}
	return nil
}

// Reload re-discovers usable interfaces and starts/stops listeners to
// match. Existing listeners on interfaces that are still present are left
// running untouched.
func (g *ServerGroup) Reload(names []string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	targets, err := g.resolveTargets(names)
	if err != nil {
		g.logger.Error("failed to resolve interfaces during reload", "error", err)
		return
	}

	for iface, ip := range targets {
		if _, exists := g.servers[iface]; !exists {
			if err := g.startListener(iface, ip); err != nil {
				g.logger.Error("failed to start proxy DHCP listener on new interface",
					"interface", iface, "error", err)
				select {
				case g.fatal <- fmt.Errorf("reload: %w", err):
				default:
				}
				return
			}
		}
	}

	for iface, srv := range g.servers {
		if _, stillPresent := targets[iface]; !stillPresent {
			g.logger.Info("stopping proxy DHCP listener for vanished interface", "interface", iface)
			srv.Stop()
			delete(g.servers, iface)
		}
	}
}

// Stop shuts down all listeners.
func (g *ServerGroup) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cancel != nil {
		g.cancel()
	}
	for iface, srv := range g.servers {
		srv.Stop()
		delete(g.servers, iface)
	}
}

// startListener creates and starts a single listener. Caller must hold g.mu.
func (g *ServerGroup) startListener(iface string, ip net.IP) error {
	srv := NewServer(g.resp, iface, ip, g.logger)
	if err := srv.Start(g.ctx); err != nil {
		return fmt.Errorf("starting proxy DHCP listener on %s: %w", iface, err)
	}
	g.servers[iface] = srv
	return nil
}

// resolveTargets maps interface name to bind IP, either from the explicit
// names list or by auto-discovery (spec.md §9 interface-binding fix:
// never narrows to just one interface).
func (g *ServerGroup) resolveTargets(names []string) (map[string]net.IP, error) {
	if len(names) == 0 {
		return discoverInterfaces()
	}

	all, err := discoverInterfaces()
	if err != nil {
		return nil, err
	}
	targets := make(map[string]net.IP, len(names))
	for _, name := range names {
		ip, ok := all[name]
		if !ok {
			return nil, fmt.Errorf("interface %q has no usable IPv4 address", name)
		}
		targets[name] = ip
	}
	return targets, nil
}

// collectUsableInterfaces returns every non-loopback, up interface that
// carries a usable IPv4 address, keyed by interface name.
func collectUsableInterfaces() (map[string]net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("listing network interfaces: %w", err)
	}

	result := make(map[string]net.IP)
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			var ip net.IP
			switch a := addr.(type) {
			case *net.IPNet:
				ip = a.IP
			case *net.IPAddr:
				ip = a.IP
			}
			if ip4 := ip.To4(); ip4 != nil {
				result[iface.Name] = ip4
				break
			}
		}
	}
	return result, nil
}
