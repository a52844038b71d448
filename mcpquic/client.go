package mcpquic

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/quic-go/quic-go"
)

// HandshakeTimeout bounds the MCP initialize exchange after dialing.
const HandshakeTimeout = 10 * time.Second

// Client drives a remote guard's MCP tools.
type Client struct {
	conn    *quic.Conn
	session *mcp.ClientSession
	closed  atomic.Bool
}

// Dial connects to a listener and completes the MCP handshake. A nil
// tlsCfg verifies the server certificate.
func Dial(ctx context.Context, addr string, tlsCfg *tls.Config) (*Client, error) {
	if tlsCfg == nil {
		tlsCfg = ClientTLSConfig(false)
	}
	conn, err := quic.DialAddr(ctx, addr, tlsCfg, ProductionQUICConfig())
	if err != nil {
		return nil, fmt.Errorf("mcpquic: dial %s: %w", addr, err)
	}
	if alpn := conn.ConnectionState().TLS.NegotiatedProtocol; alpn != ALPNProtocolMCP {
		conn.CloseWithError(ConnErrorUnsupportedALPN, "bad ALPN")
		return nil, &ConnectionError{RemoteAddr: addr, Code: ConnErrorUnsupportedALPN, Err: fmt.Errorf("%w: %q", ErrUnsupportedALPN, alpn)}
	}
	fail := func(err error) (*Client, error) {
		conn.CloseWithError(ConnErrorProtocolViolation, "handshake failed")
		return nil, &ConnectionError{RemoteAddr: addr, Code: ConnErrorProtocolViolation, Err: err}
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		return fail(err)
	}
	if err := SendMagicBytes(stream); err != nil {
		return fail(err)
	}

	hctx, cancel := context.WithTimeout(ctx, HandshakeTimeout)
	defer cancel()
	client := mcp.NewClient(&mcp.Implementation{Name: "domguard-remote", Version: "1.0.0"}, nil)
	session, err := client.Connect(hctx, &streamTransport{stream: stream}, nil)
	if err != nil {
		return fail(err)
	}
	return &Client{conn: conn, session: session}, nil
}

// Tools lists the tool names the guard exposes.
func (c *Client) Tools(ctx context.Context) ([]string, error) {
	if c.closed.Load() {
		return nil, ErrConnectionClosed
	}
	res, err := c.session.ListTools(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("mcpquic: list tools: %w", err)
	}
	names := make([]string, len(res.Tools))
	for i, t := range res.Tools {
		names[i] = t.Name
	}
	return names, nil
}

// Call invokes a tool and returns its text output. A tool-level failure
// comes back as an error carrying the tool's message.
func (c *Client) Call(ctx context.Context, tool string, args json.RawMessage) (string, error) {
	if c.closed.Load() {
		return "", ErrConnectionClosed
	}
	var a any
	if len(args) > 0 {
		a = args
	}
	res, err := c.session.CallTool(ctx, &mcp.CallToolParams{Name: tool, Arguments: a})
	if err != nil {
		return "", fmt.Errorf("mcpquic: call %s: %w", tool, err)
	}
	var b strings.Builder
	for _, content := range res.Content {
		if tc, ok := content.(*mcp.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	if res.IsError {
		return "", errors.New(b.String())
	}
	return b.String(), nil
}

func (c *Client) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	err := c.session.Close()
	c.conn.CloseWithError(ConnErrorNoError, "client closing")
	return err
}
