package client

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/floegence/snaprelay/internal/logging"
	"github.com/floegence/snaprelay/realtime/ws"
	"github.com/floegence/snaprelay/srerrors"
)

// Dial connects to a relay websocket endpoint and starts the read loop.
//
// origin is sent as the Origin header; the relay checks it against its allow-list.
func Dial(ctx context.Context, url string, origin string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(url) == "" {
		return nil, srerrors.Wrap(StageValidate, CodeMissingURL, ErrMissingURL)
	}
	if strings.TrimSpace(origin) == "" {
		return nil, srerrors.Wrap(StageValidate, CodeMissingOrigin, ErrMissingOrigin)
	}
	cfg, err := applyOptions(opts)
	if err != nil {
		return nil, srerrors.Wrap(StageValidate, CodeInvalidOption, err)
	}
	if cfg.logger == nil {
		cfg.logger = logging.Discard().GetLogger("client")
	}

	connectCtx, connectCancel := withTimeout(ctx, cfg.connectTimeout)
	defer connectCancel()

	h := cloneHeader(cfg.header)
	h.Set("Origin", origin)
	c, _, err := ws.Dial(connectCtx, url, ws.DialOptions{
		Header:            h,
		Dialer:            cfg.dialer,
		EnableCompression: cfg.enableCompression,
	})
	if err != nil {
		return nil, srerrors.Wrap(StageConnect, srerrors.ClassifyConnectCode(err), err)
	}
	c.SetReadLimit(int64(cfg.maxMessageBytes))
	return newClient(c, cfg), nil
}

// withTimeout returns parent if d<=0; otherwise wraps it with a timeout.
// A nil parent is treated as context.Background().
func withTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	if d <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, d)
}

func cloneHeader(h http.Header) http.Header {
	if h == nil {
		return http.Header{}
	}
	return h.Clone()
}
