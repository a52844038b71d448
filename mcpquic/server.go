package mcpquic

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/quic-go/quic-go"

	"github.com/hazyhaar/domguard/idgen"
	"github.com/hazyhaar/domguard/kit"
)

// Transport is the kit transport name of QUIC control calls.
const Transport = "mcp_quic"

// Listener serves the guard's MCP tools to remote controllers, one MCP
// session per QUIC connection.
type Listener struct {
	ql       *quic.Listener
	srv      *mcp.Server
	logger   *slog.Logger
	sessions atomic.Int64
}

// Listen binds addr (UDP). tlsCfg must advertise ALPNProtocolMCP.
func Listen(addr string, tlsCfg *tls.Config, srv *mcp.Server, logger *slog.Logger) (*Listener, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ql, err := quic.ListenAddr(addr, tlsCfg, ProductionQUICConfig())
	if err != nil {
		return nil, fmt.Errorf("mcpquic: listen %s: %w", addr, err)
	}
	logger.Info("mcpquic: listening", "addr", ql.Addr().String())
	return &Listener{ql: ql, srv: srv, logger: logger}, nil
}

// Addr is the bound UDP address.
func (l *Listener) Addr() net.Addr { return l.ql.Addr() }

// Sessions is the number of connected controllers.
func (l *Listener) Sessions() int { return int(l.sessions.Load()) }

func (l *Listener) Close() error { return l.ql.Close() }

// Serve accepts controllers until ctx is done or the listener closes.
func (l *Listener) Serve(ctx context.Context) error {
	for {
		conn, err := l.ql.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("mcpquic: accept: %w", err)
		}
		if alpn := conn.ConnectionState().TLS.NegotiatedProtocol; alpn != ALPNProtocolMCP {
			conn.CloseWithError(ConnErrorUnsupportedALPN, "unsupported ALPN: "+alpn)
			continue
		}
		go l.serveConn(ctx, conn)
	}
}

func (l *Listener) serveConn(ctx context.Context, conn *quic.Conn) {
	remote := conn.RemoteAddr().String()
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		l.logger.Warn("mcpquic: accept stream", "remote", remote, "error", err)
		conn.CloseWithError(ConnErrorProtocolViolation, "no stream")
		return
	}
	if err := ValidateMagicBytes(stream); err != nil {
		l.logger.Warn("mcpquic: rejected controller", "remote", remote, "error", err)
		stream.CancelRead(StreamErrorProtocolConfusion)
		stream.CancelWrite(StreamErrorProtocolConfusion)
		conn.CloseWithError(ConnErrorProtocolViolation, "invalid magic bytes")
		return
	}

	id := "quic_" + idgen.Short(8)()
	l.sessions.Add(1)
	defer l.sessions.Add(-1)
	l.logger.Info("mcpquic: controller connected", "session", id, "remote", remote)

	ss, err := l.srv.Connect(kit.WithTransport(ctx, Transport), &streamTransport{stream: stream, id: id}, nil)
	if err != nil {
		l.logger.Warn("mcpquic: session", "session", id, "error", err)
		stream.Close()
		return
	}
	if err := ss.Wait(); err != nil {
		l.logger.Debug("mcpquic: session closed", "session", id, "error", err)
	}
	conn.CloseWithError(ConnErrorNoError, "")
	l.logger.Info("mcpquic: controller disconnected", "session", id)
}

// streamTransport runs the SDK's newline-delimited JSON-RPC over one
// QUIC stream. An empty id leaves the session ID to the SDK.
type streamTransport struct {
	stream *quic.Stream
	id     string
}

func (t *streamTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	iot := &mcp.IOTransport{Reader: io.NopCloser(t.stream), Writer: t.stream}
	conn, err := iot.Connect(ctx)
	if err != nil || t.id == "" {
		return conn, err
	}
	return &sessionConn{Connection: conn, id: t.id}, nil
}

type sessionConn struct {
	mcp.Connection
	id string
}

func (c *sessionConn) SessionID() string { return c.id }
