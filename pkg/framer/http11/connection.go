package http11

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourusername/framer/pkg/framer"
)

// ConnectionState represents the state of an HTTP connection
type ConnectionState int

const (
	// StateNew is the initial state when a connection is created
	StateNew ConnectionState = iota

	// StateActive indicates the connection is actively processing a request
	StateActive

	// StateIdle indicates the connection is idle and waiting for the next request
	StateIdle

	// StateClosed indicates the connection has been closed
	StateClosed
)

// String returns the string representation of the connection state
func (s ConnectionState) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateActive:
		return "active"
	case StateIdle:
		return "idle"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handler processes one request. The Request and ResponseWriter are only
// valid until it returns. Returning an error closes the connection; a
// *RejectionError returned before the response started is answered with its
// status code.
type Handler func(*Request, *ResponseWriter) error

// ConnectionConfig holds configuration for an HTTP connection
type ConnectionConfig struct {
	Limits Limits

	// ReadTimeout bounds reading one request head once its first byte
	// arrived. Expiry is answered with 408. Zero disables it.
	ReadTimeout time.Duration

	// KeepAliveTimeout bounds the wait for the next request on an idle
	// connection. Expiry closes the connection silently. Zero disables it.
	KeepAliveTimeout time.Duration

	// MaxRequests is the maximum number of requests per connection
	// 0 means unlimited
	MaxRequests int

	// ReadBufferSize is the size of the rented scanner buffer
	ReadBufferSize int

	// DrainLimit is how many unread body bytes are discarded after the
	// handler returns before the connection is closed instead.
	DrainLimit int64

	// Logger receives one entry per rejected request. Nil discards.
	Logger logrus.FieldLogger

	// Pool supplies scanner buffers. Nil means the global pool.
	Pool *framer.BufferPool
}

// DefaultConnectionConfig returns the default connection configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		Limits:           DefaultLimits(),
		ReadTimeout:      30 * time.Second,
		KeepAliveTimeout: 60 * time.Second,
		MaxRequests:      0,
		ReadBufferSize:   DefaultScannerBufferSize,
		DrainLimit:       256 * 1024,
	}
}

// Connection serves HTTP/1.x requests on one net.Conn.
//
// Requests are read strictly one after another; pipelined bytes stay in the
// scanner buffer until the previous response is complete. Framing violations
// are answered with a minimal error response and the connection is closed.
// Every pooled resource is returned on every exit path.
type Connection struct {
	state    atomic.Int32 // ConnectionState
	lastUse  atomic.Int64 // Unix nanoseconds
	requests atomic.Int32

	conn    net.Conn
	cfg     ConnectionConfig
	handler Handler
	log     logrus.FieldLogger

	closed atomic.Bool
}

// NewConnection creates a Connection. Zero config fields take their defaults.
func NewConnection(conn net.Conn, config ConnectionConfig, handler Handler) *Connection {
	d := DefaultConnectionConfig()
	if config.ReadBufferSize <= 0 {
		config.ReadBufferSize = d.ReadBufferSize
	}
	if config.DrainLimit <= 0 {
		config.DrainLimit = d.DrainLimit
	}
	config.Limits = config.Limits.withDefaults()

	log := config.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}

	c := &Connection{
		conn:    conn,
		cfg:     config,
		handler: handler,
		log:     log.WithField("remote", conn.RemoteAddr().String()),
	}
	c.state.Store(int32(StateNew))
	c.lastUse.Store(time.Now().UnixNano())
	return c
}

// State returns the current connection state
func (c *Connection) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

func (c *Connection) setState(state ConnectionState) {
	c.state.Store(int32(state))
	c.lastUse.Store(time.Now().UnixNano())
}

// Serve runs the request loop until the peer closes, a request asks for
// close, a framing error occurs or ctx is cancelled. The connection is closed
// when Serve returns.
//
// A clean close returns nil; a rejected request returns its *RejectionError.
func (c *Connection) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	scanner := NewScannerSize(c.conn, c.cfg.ReadBufferSize, c.cfg.Pool)
	writer := GetBufioWriter(c.conn)
	parser := NewParser(c.cfg.Limits)
	defer func() {
		scanner.Release()
		PutBufioWriter(writer)
		_ = c.Close()
	}()

	for {
		if ctx.Err() != nil || c.closed.Load() {
			return nil
		}

		c.setState(StateIdle)
		if err := c.awaitRequest(ctx, scanner); err != nil {
			return nil
		}

		c.setState(StateActive)
		c.setReadDeadline(c.cfg.ReadTimeout)
		req, err := parser.ReadRequest(ctx, scanner)
		if err != nil {
			return c.fail(ctx, writer, err)
		}
		req.RemoteAddr = c.conn.RemoteAddr().String()

		keep, err := c.serveRequest(ctx, req, writer)
		PutRequest(req)
		if err != nil || !keep {
			return err
		}
	}
}

// awaitRequest waits for the first byte of the next request under the
// keep-alive timeout. Any error means the connection should close quietly.
func (c *Connection) awaitRequest(ctx context.Context, s *Scanner) error {
	if c.requests.Load() > 0 {
		c.setReadDeadline(c.cfg.KeepAliveTimeout)
	} else {
		c.setReadDeadline(c.cfg.ReadTimeout)
	}
	_, err := s.Peek(ctx, 1)
	return err
}

func (c *Connection) setReadDeadline(d time.Duration) {
	if d > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(d))
	} else {
		_ = c.conn.SetReadDeadline(time.Time{})
	}
}

// serveRequest runs the handler and completes the response. keep reports
// whether the connection may carry another request.
func (c *Connection) serveRequest(ctx context.Context, req *Request, w *bufio.Writer) (keep bool, err error) {
	n := c.requests.Add(1)

	rw := GetResponseWriter(w)
	defer PutResponseWriter(rw)
	rw.bind(req)

	last := c.cfg.MaxRequests > 0 && int(n) >= c.cfg.MaxRequests
	if last {
		rw.SetClose()
	}

	handlerErr := c.handler(req, rw)
	if handlerErr != nil {
		var rej *RejectionError
		if errors.As(handlerErr, &rej) && !rw.HeaderWritten() {
			return false, c.fail(ctx, w, rej)
		}
		c.log.WithError(handlerErr).WithField("path", req.Path()).Warn("handler failed")
		if !rw.HeaderWritten() {
			rw.Header().Reset()
			rw.SetClose()
			_ = rw.WriteError(500, StatusText(500))
		}
	}

	if err := rw.Finish(); err != nil {
		c.log.WithError(err).WithField("path", req.Path()).Warn("response incomplete")
		_ = w.Flush()
		return false, nil
	}
	if err := w.Flush(); err != nil {
		return false, err
	}

	if handlerErr != nil || rw.ShouldClose() || req.Close || last {
		return false, nil
	}

	// The next request starts after this body; discard what the handler left.
	c.setReadDeadline(c.cfg.ReadTimeout)
	drained, err := io.CopyN(io.Discard, req.Body, c.cfg.DrainLimit+1)
	if err != io.EOF {
		if err == nil && drained > c.cfg.DrainLimit {
			err = ErrBodyNotConsumed
		}
		c.log.WithError(err).WithField("path", req.Path()).Debug("closing after unread body")
		return false, nil
	}
	return true, nil
}

// fail answers a framing error. Non-rejection errors (I/O, cancellation)
// close without a response.
func (c *Connection) fail(ctx context.Context, w *bufio.Writer, err error) error {
	var rej *RejectionError
	if !errors.As(err, &rej) {
		if err == io.EOF || ctx.Err() != nil || c.closed.Load() {
			return nil
		}
		return err
	}

	status := rej.StatusCode()
	c.log.WithFields(logrus.Fields{
		"reason": rej.Reason.String(),
		"status": status,
	}).Info(rej.Error())

	_, _ = w.WriteString("HTTP/1.1 " + strconv.Itoa(status) + " " + StatusText(status) + "\r\n" +
		"Content-Length: 0\r\nConnection: close\r\n\r\n")
	_ = w.Flush()
	return rej
}

// Close closes the connection. It is safe to call more than once.
func (c *Connection) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.setState(StateClosed)
	return c.conn.Close()
}

// RemoteAddr returns the remote network address
func (c *Connection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// LocalAddr returns the local network address
func (c *Connection) LocalAddr() net.Addr {
	return c.conn.LocalAddr()
}

// RequestCount returns the number of requests handled on this connection
func (c *Connection) RequestCount() int {
	return int(c.requests.Load())
}

// IdleTime returns how long the connection has been idle
func (c *Connection) IdleTime() time.Duration {
	if c.State() == StateActive {
		return 0
	}
	return time.Since(time.Unix(0, c.lastUse.Load()))
}
