package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"time"

	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"

	"github.com/vk/querygrid/internal/ctxlog"
)

// progressEventName is the socket.io event the dashboard subscribes to.
const progressEventName = "composition:progress"

// SocketIOConfig configures the live progress connection.
type SocketIOConfig struct {
	URL                string
	Namespace          string
	InsecureSkipVerify bool
}

// SocketIOSink pushes progress events over a persistent socket.io
// connection to the dashboard.
type SocketIOSink struct {
	io *socket.Socket
}

// DialSocketIO connects to the configured endpoint and returns a ready sink.
func DialSocketIO(ctx context.Context, cfg SocketIOConfig) (*SocketIOSink, error) {
	logger := ctxlog.FromContext(ctx).With("sink", "socketio", "url", cfg.URL)
	logger.Info("Connecting progress sink...")

	parsedURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	opts := socket.DefaultOptions()
	opts.SetPath(parsedURL.Path)
	if cfg.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	connectChan := make(chan error, 1)

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(cfg.Namespace, opts)

	io.Once(types.EventName("connect"), func(...any) {
		logger.Info("Progress sink connected", "sid", io.Id())
		connectChan <- nil
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		err := errs[0].(error)
		connectChan <- err
	})

	io.Connect()

	select {
	case err := <-connectChan:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
		return &SocketIOSink{io: io}, nil
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("context cancelled while waiting for socket.io connection")
	case <-time.After(15 * time.Second):
		io.Disconnect()
		return nil, fmt.Errorf("timed out after 15s waiting for socket.io connection")
	}
}

// Publish implements Sink.
func (s *SocketIOSink) Publish(ctx context.Context, ev Event) error {
	if err := s.io.Emit(progressEventName, ev); err != nil {
		return fmt.Errorf("emit progress event: %w", err)
	}
	return nil
}

// Close disconnects the underlying socket.
func (s *SocketIOSink) Close() error {
	s.io.Disconnect()
	return nil
}
