// Package ws wraps gorilla/websocket with context-aware reads and writes.
package ws

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is a websocket connection whose blocking calls honor a context.
type Conn struct {
	c *websocket.Conn // Underlying gorilla/websocket connection.
}

// UpgraderOptions exposes a small set of websocket upgrader controls.
type UpgraderOptions struct {
	ReadBufferSize    int                        // Read buffer size for upgrader.
	WriteBufferSize   int                        // Write buffer size for upgrader.
	EnableCompression bool                       // Negotiate permessage-deflate.
	CheckOrigin       func(r *http.Request) bool // Optional origin check.
}

// Upgrade upgrades an HTTP request to a websocket connection.
func Upgrade(w http.ResponseWriter, r *http.Request, opts UpgraderOptions) (*Conn, error) {
	up := websocket.Upgrader{
		ReadBufferSize:    opts.ReadBufferSize,
		WriteBufferSize:   opts.WriteBufferSize,
		EnableCompression: opts.EnableCompression,
		CheckOrigin:       opts.CheckOrigin,
	}
	c, err := up.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &Conn{c: c}, nil
}

// DialOptions provides optional handshake controls.
type DialOptions struct {
	Header            http.Header // Optional headers for the handshake request.
	Dialer            *websocket.Dialer
	EnableCompression bool
}

// Dial opens a websocket connection. The handshake is bounded by ctx's deadline.
func Dial(ctx context.Context, urlStr string, opts DialOptions) (*Conn, *http.Response, error) {
	d := websocket.Dialer{}
	if opts.Dialer != nil {
		d = *opts.Dialer
	}
	if opts.EnableCompression {
		d.EnableCompression = true
	}
	if deadline, ok := ctx.Deadline(); ok {
		if dl := time.Until(deadline); d.HandshakeTimeout == 0 || d.HandshakeTimeout > dl {
			d.HandshakeTimeout = dl
		}
	}
	c, resp, err := d.DialContext(ctx, urlStr, opts.Header)
	if err != nil {
		return nil, resp, err
	}
	return &Conn{c: c}, resp, nil
}

// SetReadLimit forwards the read limit to the underlying websocket.
func (c *Conn) SetReadLimit(n int64) {
	c.c.SetReadLimit(n)
}

// ReadMessage reads one message. Cancelling ctx unblocks a pending read.
func (c *Conn) ReadMessage(ctx context.Context) (int, []byte, error) {
	var (
		mt int
		b  []byte
	)
	err := withDeadline(ctx, c.c.SetReadDeadline, func() error {
		var err error
		mt, b, err = c.c.ReadMessage()
		return err
	})
	if err != nil {
		return 0, nil, err
	}
	return mt, b, nil
}

// WriteMessage writes one message. Cancelling ctx unblocks a pending write.
func (c *Conn) WriteMessage(ctx context.Context, messageType int, data []byte) error {
	return withDeadline(ctx, c.c.SetWriteDeadline, func() error {
		return c.c.WriteMessage(messageType, data)
	})
}

// withDeadline runs op with the socket deadline taken from ctx. gorilla only
// wakes blocked I/O through deadlines, so cancellation moves the deadline to
// now and the resulting timeout is reported as ctx.Err().
func withDeadline(ctx context.Context, setDeadline func(time.Time) error, op func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline, hasDeadline := ctx.Deadline()
	_ = setDeadline(deadline)
	if ctx.Done() != nil {
		var active atomic.Bool
		active.Store(true)
		stop := context.AfterFunc(ctx, func() {
			if active.Load() {
				_ = setDeadline(time.Now())
			}
		})
		defer func() {
			active.Store(false)
			stop()
		}()
	}
	err := op()
	if err == nil {
		return nil
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if hasDeadline && !time.Now().Before(deadline) {
			return context.DeadlineExceeded
		}
	}
	return err
}

// Close closes the websocket connection without a close frame.
func (c *Conn) Close() error {
	return c.c.Close()
}

// CloseWithStatus sends a close control frame before closing.
func (c *Conn) CloseWithStatus(code int, text string) error {
	return CloseWithStatus(c.c, code, text)
}

// CloseWithStatus sends a close frame carrying code and text on c, then closes it.
func CloseWithStatus(c *websocket.Conn, code int, text string) error {
	_ = c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(2*time.Second))
	return c.Close()
}

// CloseCode extracts the close code from an error returned by a read, or -1.
func CloseCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return -1
}

// CloseText extracts the close reason text from an error returned by a read.
func CloseText(err error) string {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Text
	}
	return ""
}

// Underlying exposes the raw gorilla/websocket connection.
func (c *Conn) Underlying() *websocket.Conn {
	return c.c
}
