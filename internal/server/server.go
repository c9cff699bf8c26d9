// Package server implements the Modbus TCP listener: accepting connections,
// framing requests off the wire, dispatching them to the protocol engine,
// and tracking per-client statistics.
package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/zmodsim/zmodsim/internal/engine"
	"github.com/zmodsim/zmodsim/internal/protocol"
)

const (
	acceptDeadline = time.Second
	readDeadline   = 30 * time.Second
)

// Server is a Modbus TCP listener bound to a single protocol engine.
type Server struct {
	addr     string
	engine   *engine.Engine
	log      *zap.Logger

	mu       sync.RWMutex
	listener net.Listener
	running  bool
	clients  map[string]*clientConn

	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Server that will listen on addr (host:port) once started.
func New(addr string, eng *engine.Engine, log *zap.Logger) *Server {
	return &Server{
		addr:    addr,
		engine:  eng,
		log:     log,
		clients: make(map[string]*clientConn),
	}
}

// listenConfig enables SO_REUSEADDR so a restarted server can rebind a
// recently-closed port without waiting out TIME_WAIT. It does not set the
// accept backlog; the listener uses the backlog the Go runtime picks.
func listenConfig() net.ListenConfig {
	return net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}
}

// Start binds the listener and begins accepting connections in the
// background. It returns once the listener is bound.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server: already running")
	}

	lc := listenConfig()
	ln, err := lc.Listen(ctx, "tcp", s.addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("server: listen %s: %w", s.addr, err)
	}
	s.listener = ln
	s.running = true
	s.stopChan = make(chan struct{})
	s.mu.Unlock()

	s.log.Info("modbus tcp server started", zap.String("addr", s.addr))

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Stop closes the listener and every tracked client connection, then waits
// for their goroutines to exit.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	ln := s.listener
	s.mu.Unlock()

	s.stopOnce.Do(func() { close(s.stopChan) })
	if ln != nil {
		ln.Close()
	}

	s.mu.Lock()
	for _, c := range s.clients {
		c.conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("modbus tcp server stopped")
	return nil
}

// IsRunning reports whether the listener is currently accepting connections.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// ConnectedClients returns a snapshot of every currently connected client.
func (s *Server) ConnectedClients() []ConnectedClient {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ConnectedClient, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c.snapshot())
	}
	return out
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		if tcpLn, ok := s.listener.(interface{ SetDeadline(time.Time) error }); ok {
			tcpLn.SetDeadline(time.Now().Add(acceptDeadline))
		}

		conn, err := s.listener.Accept()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			select {
			case <-s.stopChan:
				return
			default:
				s.log.Error("accept error", zap.Error(err))
				continue
			}
		}

		if tcpConn, ok := conn.(*net.TCPConn); ok {
			tcpConn.SetNoDelay(true)
		}

		client := newClientConn(conn)
		s.mu.Lock()
		s.clients[client.remoteAddr] = client
		s.mu.Unlock()

		s.log.Info("client connected", zap.String("remote_addr", client.remoteAddr))

		s.wg.Add(1)
		go s.handleConnection(client)
	}
}

func (s *Server) handleConnection(client *clientConn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.clients, client.remoteAddr)
		s.mu.Unlock()
		client.conn.Close()
		s.log.Info("client disconnected", zap.String("remote_addr", client.remoteAddr))
	}()

	header := make([]byte, protocol.MBAPHeaderLength)

	for {
		client.conn.SetReadDeadline(time.Now().Add(readDeadline))

		if _, err := io.ReadFull(client.conn, header); err != nil {
			if isTimeout(err) {
				continue
			}
			if err != io.EOF {
				s.log.Debug("header read error", zap.String("remote_addr", client.remoteAddr), zap.Error(err))
			}
			return
		}

		hdr, _ := protocol.ParseMBAP(header)
		if hdr.ProtocolID != protocol.TCPProtocolIdentifier {
			s.log.Warn("dropping frame with non-modbus protocol id", zap.Uint16("protocol_id", uint16(hdr.ProtocolID)))
			if hdr.Length > 1 {
				drain := make([]byte, int(hdr.Length)-1)
				if _, err := io.ReadFull(client.conn, drain); err != nil {
					return
				}
			}
			client.recordDrop()
			continue
		}
		if hdr.Length == 0 {
			s.log.Warn("rejecting zero-length frame", zap.String("remote_addr", client.remoteAddr))
			return
		}

		body := make([]byte, int(hdr.Length)-1) // length includes unit id, already read
		if len(body) > 0 {
			if _, err := io.ReadFull(client.conn, body); err != nil {
				s.log.Debug("body read error", zap.String("remote_addr", client.remoteAddr), zap.Error(err))
				return
			}
		}
		if len(body) < 1 {
			s.log.Warn("rejecting frame with no function code", zap.String("remote_addr", client.remoteAddr))
			return
		}

		fc := protocol.FunctionCode(body[0])
		pduData := body[1:]

		if !s.engine.Accepts(hdr.UnitID) {
			// Request addressed to a different unit id: a real serial-line
			// slave would stay silent rather than answer for another device.
			client.recordDrop()
			continue
		}
		client.recordRequest(fc)

		respPDU := s.engine.Handle(fc, pduData)
		frame := protocol.EncodeFrame(hdr.TransactionID, hdr.UnitID, respPDU)

		if _, err := client.conn.Write(frame); err != nil {
			s.log.Debug("write error", zap.String("remote_addr", client.remoteAddr), zap.Error(err))
			return
		}
		client.recordResponse(respPDU)
	}
}

func isTimeout(err error) bool {
	netErr, ok := err.(net.Error)
	return ok && netErr.Timeout()
}
