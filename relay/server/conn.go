package server

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/floegence/snaprelay/observability"
	"github.com/floegence/snaprelay/realtime/ws"
	"github.com/floegence/snaprelay/relay/protocol"
	"github.com/gorilla/websocket"
)

var (
	errWriteQueueFull   = errors.New("write queue full")
	errWriteQueueClosed = errors.New("write queue closed")
)

// wsConn adapts one websocket to hub.Conn. Outbound frames go through a
// bounded queue drained by a dedicated write pump, so Send never blocks.
type wsConn struct {
	s      *Server
	id     string          // Connection ID (base64url).
	remote string          // Rate-limit key.
	ws     *websocket.Conn // Underlying websocket connection.

	outMu     sync.Mutex // Guards write queue state.
	outCond   *sync.Cond // Signals enqueue and close events.
	outQueue  [][]byte   // Pending frames to write.
	outHead   int        // Read cursor into outQueue.
	outBytes  int        // Buffered bytes in outQueue.
	outClosed bool       // True once no more frames are accepted.
	reason    observability.KickReason

	kicked     atomic.Bool
	done       chan struct{} // Closed when the write pump exits.
	stop       chan struct{} // Closed when the connection is finished.
	finishOnce sync.Once
}

func newWSConn(s *Server, id string, remote string, uc *websocket.Conn) *wsConn {
	c := &wsConn{
		s:      s,
		id:     id,
		remote: remote,
		ws:     uc,
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
	}
	c.outCond = sync.NewCond(&c.outMu)
	return c
}

func (c *wsConn) ID() string        { return c.id }
func (c *wsConn) RemoteKey() string { return c.remote }

func (c *wsConn) isKicked() bool { return c.kicked.Load() }

// Send enqueues ev. A recipient whose queue would overflow is kicked instead
// of slowing down the sender.
func (c *wsConn) Send(ev protocol.Event) error {
	frame, err := protocol.Encode(ev)
	if err != nil {
		return err
	}
	c.outMu.Lock()
	if c.outClosed {
		c.outMu.Unlock()
		return errWriteQueueClosed
	}
	if c.outBytes+len(frame) > c.s.cfg.MaxWriteQueueBytes {
		c.outMu.Unlock()
		c.s.obs.Disconnect(observability.KickReasonWriteQueueFull)
		c.Kick(observability.KickReasonWriteQueueFull)
		return errWriteQueueFull
	}
	c.outQueue = append(c.outQueue, frame)
	c.outBytes += len(frame)
	c.outCond.Signal()
	c.outMu.Unlock()
	return nil
}

// Kick stops accepting frames and has the write pump close the socket with
// the status mapped from reason once already queued frames are flushed.
func (c *wsConn) Kick(reason observability.KickReason) {
	if !c.kicked.CompareAndSwap(false, true) {
		return
	}
	c.outMu.Lock()
	c.reason = reason
	if reason == observability.KickReasonWriteQueueFull {
		c.outQueue = nil
		c.outHead = 0
		c.outBytes = 0
	}
	c.outClosed = true
	c.outCond.Broadcast()
	c.outMu.Unlock()
}

func (c *wsConn) closeQueue() {
	c.outMu.Lock()
	c.outClosed = true
	c.outCond.Broadcast()
	c.outMu.Unlock()
}

func (c *wsConn) nextWrite() ([]byte, bool) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	for !c.outClosed && c.outHead >= len(c.outQueue) {
		c.outCond.Wait()
	}
	if c.outHead >= len(c.outQueue) {
		return nil, false
	}
	frame := c.outQueue[c.outHead]
	c.outQueue[c.outHead] = nil
	c.outHead++
	if c.outHead > 1024 && c.outHead*2 > len(c.outQueue) {
		c.outQueue = append([][]byte(nil), c.outQueue[c.outHead:]...)
		c.outHead = 0
	}
	return frame, true
}

func (c *wsConn) finishWrite(n int) {
	c.outMu.Lock()
	c.outBytes -= n
	if c.outBytes < 0 {
		c.outBytes = 0
	}
	c.outMu.Unlock()
}

func (c *wsConn) writeFrame(frame []byte) error {
	if c.s.cfg.WriteTimeout > 0 {
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.s.cfg.WriteTimeout))
	} else {
		_ = c.ws.SetWriteDeadline(time.Time{})
	}
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

func (c *wsConn) writePump() {
	defer close(c.done)
	for {
		frame, ok := c.nextWrite()
		if !ok {
			break
		}
		err := c.writeFrame(frame)
		c.finishWrite(len(frame))
		if err != nil {
			if !c.isKicked() {
				c.s.obs.Disconnect(observability.KickReasonWriteError)
			}
			c.closeQueue()
			_ = c.ws.Close()
			return
		}
	}
	c.outMu.Lock()
	reason := c.reason
	c.outMu.Unlock()
	if reason != "" {
		_ = ws.CloseWithStatus(c.ws, closeStatus(reason), string(reason))
		return
	}
	_ = c.ws.Close()
}

func (c *wsConn) pingLoop(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-c.done:
			return
		case <-t.C:
			deadline := time.Now().Add(interval)
			if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

// finish flushes what it can within the write timeout and releases the socket.
func (c *wsConn) finish() {
	c.finishOnce.Do(func() {
		c.closeQueue()
		timeout := c.s.cfg.WriteTimeout
		if timeout <= 0 {
			timeout = 100 * time.Millisecond
		}
		select {
		case <-c.done:
		case <-time.After(timeout):
		}
		close(c.stop)
		_ = c.ws.Close()
	})
}
