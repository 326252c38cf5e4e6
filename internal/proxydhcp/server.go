package proxydhcp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"syscall"

	"github.com/netboot/pxebootd/internal/dhcpwire"
	"github.com/netboot/pxebootd/pkg/dhcpv4"
)

// soBindToDevice pins the socket to a specific interface (Linux only,
// value 25). On non-Linux platforms the setsockopt call fails harmlessly.
const soBindToDevice = 25

// Server is a single UDP/67 listener bound to one network interface.
type Server struct {
	conn     *net.UDPConn
	resp     *Responder
	logger   *slog.Logger
	iface    string
	serverIP net.IP
	wg       sync.WaitGroup
	done     chan struct{}
}

// NewServer creates a DHCP listener for one interface. serverIP is the
// interface's IPv4 address, advertised as option 54 and the PXE boot
// server entry.
func NewServer(resp *Responder, iface string, serverIP net.IP, logger *slog.Logger) *Server {
	return &Server{
		resp:     resp,
		logger:   logger,
		iface:    iface,
		serverIP: serverIP,
		done:     make(chan struct{}),
	}
}

// Start binds UDP/67 on this interface and begins serving.
func (s *Server) Start(ctx context.Context) error {
	iface := s.iface
	logger := s.logger

	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var firstErr error
			c.Control(func(fd uintptr) {
				if err := syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1); err != nil {
					logger.Warn("failed to set SO_REUSEADDR", "error", err)
				}
				if err := syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1); err != nil {
					logger.Warn("failed to set SO_BROADCAST", "error", err)
					firstErr = err
				}
				if iface != "" {
					if err := syscall.SetsockoptString(int(fd), syscall.SOL_SOCKET, soBindToDevice, iface); err != nil {
						logger.Debug("SO_BINDTODEVICE not available (non-Linux?)", "interface", iface, "error", err)
					} else {
						logger.Info("socket bound to interface", "interface", iface)
					}
				}
			})
			return firstErr
		},
	}

	addr := fmt.Sprintf(":%d", dhcpv4.ServerPort)
	pc, err := lc.ListenPacket(ctx, "udp4", addr)
	if err != nil {
		return fmt.Errorf("listening on %s (%s): %w", addr, iface, err)
	}
	s.conn = pc.(*net.UDPConn)

	s.logger.Info("proxy DHCP listener started", "interface", s.iface, "server_ip", s.serverIP)

	s.wg.Add(1)
	go s.serve(ctx)

	return nil
}

func (s *Server) serve(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		default:
		}

		buf := dhcpwire.GetBuffer()
		n, src, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.done:
				dhcpwire.PutBuffer(buf)
				return
			default:
			}
			s.logger.Error("reading UDP packet", "error", err, "interface", s.iface)
			dhcpwire.PutBuffer(buf)
			continue
		}

		s.wg.Add(1)
		go func(data []byte, length int, addr *net.UDPAddr) {
			defer s.wg.Done()
			defer dhcpwire.PutBuffer(data)
			s.processPacket(data[:length], addr)
		}(buf, n, src)
	}
}

func (s *Server) processPacket(data []byte, src *net.UDPAddr) {
	reply := s.resp.Handle(data, src, s.serverIP, s.iface)
	if reply == nil {
		return
	}

	dst := ReplyDestination(src)
	if _, err := s.conn.WriteToUDP(reply, dst); err != nil {
		s.logger.Error("sending reply", "error", err, "dst", dst.String(), "interface", s.iface)
	}
}

// Stop gracefully shuts down the listener.
func (s *Server) Stop() {
	close(s.done)
	if s.conn != nil {
		s.conn.Close()
	}
	s.wg.Wait()
	s.logger.Info("proxy DHCP listener stopped", "interface", s.iface)
}
