package chatmesh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/jabolina/chatmesh/pkg/chatmesh/definition"
	"github.com/jabolina/chatmesh/pkg/chatmesh/types"
)

// ErrTransportUnreachable is returned for connection-refused and
// dial/recv-timeout failures alike (§7: both are TransportUnreachable and
// are treated identically — divert the peer to inactive).
var ErrTransportUnreachable = errors.New("chatmesh: peer unreachable")

// ErrMalformedPayload is returned when a frame cannot be decoded as JSON
// or exceeds the maximum message size (§7: TransportMalformed).
var ErrMalformedPayload = errors.New("chatmesh: malformed payload")

// readBounded caps how many bytes ReadAll will ever return, matching
// the 1024-byte upper bound on every wire frame (§6).
func readBounded(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: frame exceeds %d bytes", ErrMalformedPayload, limit)
	}
	return data, nil
}

// closeWriter is implemented by *net.TCPConn; sendRequest half-closes the
// write side after sending so the peer's bounded read observes EOF
// without needing a length prefix, exactly the "one write then
// half-close" framing the design notes call for.
type closeWriter interface {
	CloseWrite() error
}

// sendRequest opens a new connection to addr, sends one JSON-encoded
// Request, reads one JSON-encoded Response, and closes. Every outbound
// RPC in the Client component goes through this single chokepoint.
func sendRequest(ctx context.Context, addr string, req *types.Request, timeout time.Duration) (*types.Response, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %v", ErrTransportUnreachable, addr, err)
	}
	defer conn.Close()

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding request: %v", ErrMalformedPayload, err)
	}

	_ = conn.SetDeadline(time.Now().Add(timeout))
	if _, err := conn.Write(payload); err != nil {
		return nil, fmt.Errorf("%w: writing to %s: %v", ErrTransportUnreachable, addr, err)
	}
	if cw, ok := conn.(closeWriter); ok {
		_ = cw.CloseWrite()
	}

	data, err := readBounded(conn, definition.MaxMessageBytes)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, fmt.Errorf("%w: reading from %s: %v", ErrTransportUnreachable, addr, err)
		}
		return nil, fmt.Errorf("%w: reading from %s: %v", ErrMalformedPayload, addr, err)
	}

	var resp types.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: decoding response from %s: %v", ErrMalformedPayload, addr, err)
	}
	return &resp, nil
}

// HandlerFunc processes one decoded Request from the caller at addr and
// produces the Response to write back. It must never panic; the
// Listener recovers defensively around each connection regardless.
type HandlerFunc func(addr string, req *types.Request) *types.Response

// Listener accepts inbound connections, decodes one request per
// connection, dispatches to a HandlerFunc, writes the response, and
// closes. One request, one response, one connection (§4.A).
type Listener struct {
	ln      net.Listener
	handle  HandlerFunc
	log     definition.Logger
	onError func(error)
}

// NewListener binds addr. Address reuse relies on Go's default TCP
// listener behavior (SO_REUSEADDR on Unix platforms); the ListenConfig
// here sets no socket options of its own.
func NewListener(addr string, handle HandlerFunc, log definition.Logger, onError func(error)) (*Listener, error) {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("binding %s: %w", addr, err)
	}
	return &Listener{ln: ln, handle: handle, log: log, onError: onError}, nil
}

// Addr is the bound local address (useful when addr:0 was requested).
func (l *Listener) Addr() string {
	return l.ln.Addr().String()
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Serve runs the accept loop until Close is called or ctx is cancelled.
// A single connection failure is logged and surfaced as an error event
// via onError; it never crashes the loop. A listener-level failure
// (Accept itself erroring persistently) does terminate the loop, and is
// also surfaced via onError so the owning Node can shut down cleanly.
func (l *Listener) Serve(ctx context.Context) {
	go func() {
		<-ctx.Done()
		_ = l.ln.Close()
	}()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			l.log.Errorf("listener accept failed: %v", err)
			if l.onError != nil {
				l.onError(fmt.Errorf("server thread error: %w", err))
			}
			return
		}
		go l.handleConn(conn)
	}
}

func (l *Listener) handleConn(conn net.Conn) {
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			l.log.Errorf("recovered from panic handling connection: %v", r)
			if l.onError != nil {
				l.onError(fmt.Errorf("connection handler panic: %v", r))
			}
		}
	}()

	remote := conn.RemoteAddr().String()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	data, err := readBounded(conn, definition.MaxMessageBytes)
	if err != nil {
		l.log.Warnf("failed reading request from %s: %v", remote, err)
		if l.onError != nil {
			l.onError(fmt.Errorf("%w from %s", err, remote))
		}
		return
	}

	var req types.Request
	if err := json.Unmarshal(data, &req); err != nil {
		l.log.Warnf("failed decoding request from %s: %v", remote, err)
		if l.onError != nil {
			l.onError(fmt.Errorf("%w from %s", ErrMalformedPayload, remote))
		}
		return
	}

	resp := l.handle(remote, &req)
	if resp == nil {
		return
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		l.log.Errorf("failed encoding response to %s: %v", remote, err)
		return
	}
	if _, err := conn.Write(payload); err != nil {
		l.log.Warnf("failed writing response to %s: %v", remote, err)
	}
}
