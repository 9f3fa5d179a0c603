// Package proxy is the TCP edge: it accepts raw client connections, decodes
// the handshake window, and drives the admission filter.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/udisondev/mcguard/internal/config"
	"github.com/udisondev/mcguard/internal/filter"
	"github.com/udisondev/mcguard/internal/protocol"
	"github.com/udisondev/mcguard/internal/verify"
)

const (
	defaultReadTimeout  = 15 * time.Second
	defaultWriteTimeout = 5 * time.Second
	readBufSize         = 4096
)

// Server accepts client connections and runs each through the filter.
type Server struct {
	cfg  config.Proxy
	ctrl *filter.Controller

	readPool *BytePool

	listener net.Listener
	mu       sync.Mutex
}

// NewServer creates the edge server around an enabled controller.
func NewServer(cfg config.Proxy, ctrl *filter.Controller) *Server {
	return &Server{
		cfg:      cfg,
		ctrl:     ctrl,
		readPool: NewBytePool(readBufSize),
	}
}

// Addr returns the address the server is listening on.
// Returns nil if the server hasn't started yet.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Close closes the listener.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// Run begins listening on cfg.BindAddress:cfg.Port and accepts connections.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.BindAddress, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	return s.Serve(ctx, ln)
}

// Serve accepts connections from the given listener.
// Used for testing with custom listeners.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	slog.Info("edge proxy started", "address", ln.Addr())

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			slog.Error("failed to accept new connection", "error", err)
			continue
		}

		// Enable TCP keepalive (detect dead connections)
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			if err := tcpConn.SetKeepAlive(true); err != nil {
				slog.Warn("set keepalive failed", "error", err)
			}
			if err := tcpConn.SetKeepAlivePeriod(30 * time.Second); err != nil {
				slog.Warn("set keepalive period failed", "error", err)
			}
		}

		wg.Go(func() {
			s.handleConnection(ctx, conn)
		})
	}

	wg.Wait()
	return nil
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-connCtx.Done()
		conn.Close()
	}()

	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		slog.Error("failed to split host port", "connection", conn.RemoteAddr(), "error", err)
		return
	}

	readBuf := s.readPool.Get(readBufSize)
	defer s.readPool.Put(readBuf)

	s.setReadDeadline(conn)
	intent, err := protocol.ReadHandshake(conn, readBuf)
	if err != nil {
		slog.Debug("handshake read failed", "source", host, "error", err)
		return
	}

	switch intent.NextState {
	case protocol.NextStateStatus:
		s.handleStatus(conn, intent, readBuf)
		return
	case protocol.NextStateLogin:
		// fall through
	default:
		slog.Debug("unknown next state", "state", intent.NextState, "source", host)
		return
	}

	s.setReadDeadline(conn)
	username, err := protocol.ReadLoginStart(conn, readBuf)
	if err != nil {
		slog.Debug("login start read failed", "source", host, "error", err)
		return
	}

	hs := protocol.Handshake{
		Username:        username,
		Source:          host,
		ProtocolVersion: intent.ProtocolVersion,
		Arrival:         time.Now(),
	}

	sender := &packetConn{conn: conn, writeTimeout: s.writeTimeout()}
	s.resolve(connCtx, conn, hs, sender, readBuf)
}

// resolve walks the decision chain for one connection until a terminal
// verdict. Queue and Verify decisions suspend here.
func (s *Server) resolve(ctx context.Context, conn net.Conn, hs protocol.Handshake, sender *packetConn, readBuf []byte) {
	inPlay := false
	released := false
	defer func() {
		if released {
			s.ctrl.Release(hs.Source)
		}
	}()

	d := s.ctrl.Decide(ctx, hs, sender)
	for {
		switch d.Kind {
		case filter.KindHardDeny, filter.KindSoftDeny:
			s.disconnect(conn, d.Reason, inPlay)
			slog.Info("connection denied",
				"user", hs.Username,
				"source", hs.Source,
				"reason", d.Reason,
				"rejoin", d.AllowRejoin)
			return

		case filter.KindQueue:
			// Hold the connection open; the client sees a waiting message
			// and resumes when the drain tick reaches its turn.
			if !inPlay {
				inPlay = s.enterPlay(conn, hs)
				if !inPlay {
					return
				}
			}
			sender.SendPacket(protocol.ActionBar{Message: "queued, please wait"})
			select {
			case <-d.Resumed:
				d = s.ctrl.Resume(hs, sender)
			case <-ctx.Done():
				return
			}

		case filter.KindVerify:
			released = true
			if !inPlay {
				inPlay = s.enterPlay(conn, hs)
				if !inPlay {
					return
				}
			}
			s.pumpEvents(conn, d.Session, readBuf)
			d = s.ctrl.Complete(d.Session)

		case filter.KindAdmit:
			// Backend selection and transfer are the router's concern; the
			// filter's verdict ends here.
			slog.Info("connection admitted", "user", hs.Username, "source", hs.Source)
			s.disconnect(conn, "verified", inPlay)
			return

		default:
			slog.Error("unhandled decision kind", "kind", d.Kind)
			return
		}
	}
}

// enterPlay completes the minimal login exchange so play-state packets can
// follow. The UUID is offline-mode; Mojang auth is out of the filter's scope.
func (s *Server) enterPlay(conn net.Conn, hs protocol.Handshake) bool {
	conn.SetWriteDeadline(time.Now().Add(s.writeTimeout()))
	if err := protocol.WriteLoginSuccess(conn, uuid.NewString(), hs.Username); err != nil {
		slog.Debug("login success write failed", "source", hs.Source, "error", err)
		return false
	}
	return true
}

// pumpEvents forwards inbound frames into the session until it terminates.
// A read error means the peer went away: the session fails as client_closed
// and carries no reputation penalty.
func (s *Server) pumpEvents(conn net.Conn, sess *verify.Session, readBuf []byte) {
	for {
		select {
		case <-sess.Done():
			return
		default:
		}

		s.setReadDeadline(conn)
		body, err := protocol.ReadFrame(conn, readBuf)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				slog.Debug("verification read failed", "session", sess.ID(), "error", err)
			}
			s.ctrl.CloseSession(sess)
			return
		}

		ev, err := protocol.DecodeEvent(body)
		if err != nil {
			slog.Debug("malformed packet during verification", "session", sess.ID(), "error", err)
			s.ctrl.CloseSession(sess)
			return
		}
		if ev != nil {
			sess.OnEvent(ev)
		}
	}
}

func (s *Server) handleStatus(conn net.Conn, intent protocol.HandshakeIntent, readBuf []byte) {
	statusJSON := fmt.Sprintf(
		`{"version":{"name":"mcguard","protocol":%d},"players":{"max":%d,"online":0},"description":{"text":%q}}`,
		intent.ProtocolVersion, s.cfg.StatusMaxPlayers, s.cfg.StatusMOTD)

	// Request, response, optional ping, pong.
	s.setReadDeadline(conn)
	if _, _, err := protocol.ReadStatusPing(conn, readBuf); err != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(s.writeTimeout()))
	if err := protocol.WriteStatusResponse(conn, statusJSON); err != nil {
		return
	}

	s.setReadDeadline(conn)
	payload, isPing, err := protocol.ReadStatusPing(conn, readBuf)
	if err != nil || !isPing {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(s.writeTimeout()))
	_ = protocol.WriteStatusPong(conn, payload)
}

func (s *Server) disconnect(conn net.Conn, reason string, inPlay bool) {
	conn.SetWriteDeadline(time.Now().Add(s.writeTimeout()))
	if err := protocol.WritePacket(conn, protocol.Disconnect{Reason: reason}, !inPlay); err != nil {
		slog.Debug("disconnect write failed", "error", err)
	}
}

func (s *Server) setReadDeadline(conn net.Conn) {
	timeout := time.Duration(s.cfg.ReadTimeout) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultReadTimeout
	}
	conn.SetReadDeadline(time.Now().Add(timeout))
}

func (s *Server) writeTimeout() time.Duration {
	timeout := time.Duration(s.cfg.WriteTimeout) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	return timeout
}

// packetConn adapts a net.Conn to the session's packet sink.
type packetConn struct {
	conn         net.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
}

// SendPacket serialises and writes one play-state packet. Write errors are
// not fatal here; the read side notices the dead connection first.
func (p *packetConn) SendPacket(pkt protocol.Packet) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(p.writeTimeout))
	if err := protocol.WritePacket(p.conn, pkt, false); err != nil {
		slog.Debug("outbound packet write failed", "error", err)
	}
}
