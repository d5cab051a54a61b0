package dispatch

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/signalgrid/tscore/internal/frame"
	"github.com/signalgrid/tscore/internal/pluginwire"
)

// PluginTransport is how a PluginSink gets an ND-JSON-encoded frame to a
// subscriber. Three implementations: a Noise-secured Unix socket
// broadcaster (the default), a NATS subject publish, and an Azure Queue
// enqueue adapted from the teacher's azqueue.go message-passing shape.
type PluginTransport interface {
	Broadcast(payload []byte) error
	Close() error
}

// PluginSink serializes every frame to ND-JSON and hands it to a
// PluginTransport. Like CSVSink, it runs its own drain goroutine so a slow
// or disconnected subscriber never blocks Hub.Dispatch.
type PluginSink struct {
	transport PluginTransport
	log       *zap.Logger

	ch   chan *frame.TelemetryFrame
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func NewPluginSink(transport PluginTransport, log *zap.Logger, backlog int) *PluginSink {
	if log == nil {
		log = zap.NewNop()
	}
	if backlog <= 0 {
		backlog = 256
	}
	s := &PluginSink{
		transport: transport,
		log:       log,
		ch:        make(chan *frame.TelemetryFrame, backlog),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *PluginSink) Name() string { return "plugin" }

func (s *PluginSink) Submit(f *frame.TelemetryFrame) bool {
	select {
	case s.ch <- f:
		return true
	default:
		return false
	}
}

func (s *PluginSink) run() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case f := <-s.ch:
			payload, err := json.Marshal(pluginFrame{
				Title:    f.Title,
				Received: f.Received.UnixNano(),
				Groups:   f.Groups,
			})
			if err != nil {
				continue
			}
			payload = append(payload, '\n')
			if err := s.transport.Broadcast(payload); err != nil {
				s.log.Warn("plugin broadcast failed", zap.Error(err))
			}
		}
	}
}

type pluginFrame struct {
	Title    string        `json:"title"`
	Received int64         `json:"received_unix_nano"`
	Groups   []frame.Group `json:"groups"`
}

func (s *PluginSink) Close() {
	s.once.Do(func() { close(s.stop) })
	<-s.done
	_ = s.transport.Close()
}

// unixSocketTransport is a Noise-NN-secured ND-JSON broadcaster: each
// accepted connection performs a handshake (this side is always the
// responder) and then receives every subsequent Broadcast payload framed
// with pluginwire.BuildFrame/MsgTypeData, sealed with the session's Noise
// cipher state.
type unixSocketTransport struct {
	listener net.Listener
	log      *zap.Logger

	mu      sync.Mutex
	clients map[*pluginClient]struct{}
}

type pluginClient struct {
	id    string
	conn  net.Conn
	noise *pluginwire.Noise
}

// NewUnixSocketTransport listens on path (which must not already exist) and
// accepts subscriber connections in the background.
func NewUnixSocketTransport(path string, log *zap.Logger) (PluginTransport, error) {
	if log == nil {
		log = zap.NewNop()
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("dispatch: listen unix socket: %w", err)
	}
	t := &unixSocketTransport{listener: ln, log: log, clients: make(map[*pluginClient]struct{})}
	go t.acceptLoop()
	return t, nil
}

func (t *unixSocketTransport) acceptLoop() {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			return
		}
		go t.handshake(conn)
	}
}

func (t *unixSocketTransport) handshake(conn net.Conn) {
	noise, err := pluginwire.NewServer()
	if err != nil {
		t.log.Warn("plugin handshake init failed", zap.Error(err))
		conn.Close()
		return
	}
	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		conn.Close()
		return
	}
	if _, err := noise.ReadMessage(buf[:n]); err != nil {
		t.log.Warn("plugin handshake read failed", zap.Error(err))
		conn.Close()
		return
	}
	resp, err := noise.WriteMessage(nil)
	if err != nil || !noise.IsComplete() {
		t.log.Warn("plugin handshake response failed", zap.Error(err))
		conn.Close()
		return
	}
	if _, err := conn.Write(resp); err != nil {
		conn.Close()
		return
	}

	client := &pluginClient{id: uuid.NewString(), conn: conn, noise: noise}
	t.mu.Lock()
	t.clients[client] = struct{}{}
	t.mu.Unlock()
	t.log.Info("plugin client connected", zap.String("client", client.id))

	go t.watchDisconnect(client)
}

func (t *unixSocketTransport) watchDisconnect(c *pluginClient) {
	buf := make([]byte, 1)
	for {
		if _, err := c.conn.Read(buf); err != nil {
			t.mu.Lock()
			delete(t.clients, c)
			t.mu.Unlock()
			t.log.Info("plugin client disconnected", zap.String("client", c.id))
			return
		}
	}
}

func (t *unixSocketTransport) Broadcast(payload []byte) error {
	t.mu.Lock()
	clients := make([]*pluginClient, 0, len(t.clients))
	for c := range t.clients {
		clients = append(clients, c)
	}
	t.mu.Unlock()

	var firstErr error
	for _, c := range clients {
		sealed, err := c.noise.Seal(nil, payload)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		var buf bytes.Buffer
		pluginwire.BuildFrame(&buf, pluginwire.Frame{Type: pluginwire.MsgTypeData, Payload: sealed})
		if _, err := c.conn.Write(buf.Bytes()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *unixSocketTransport) Close() error {
	t.mu.Lock()
	for c := range t.clients {
		c.conn.Close()
	}
	t.mu.Unlock()
	return t.listener.Close()
}

// natsTransport publishes every frame to a fixed NATS subject, an
// alternative to the Unix-socket broadcaster for subscribers running
// outside the local host.
type natsTransport struct {
	nc      *nats.Conn
	subject string
}

func NewNATSTransport(nc *nats.Conn, subject string) PluginTransport {
	return &natsTransport{nc: nc, subject: subject}
}

func (t *natsTransport) Broadcast(payload []byte) error {
	return t.nc.Publish(t.subject, payload)
}

func (t *natsTransport) Close() error {
	t.nc.Flush()
	return nil
}

// queueTransport enqueues every frame as a base64-encoded Azure Queue
// message, adapted from the teacher's azqueue.go EnqueueMessage calls
// (Azure Queue Storage only accepts text/base64 payloads, never raw
// bytes).
type queueTransport struct {
	ctx   context.Context
	queue *azqueue.QueueClient
}

func NewAzureQueueTransport(ctx context.Context, queue *azqueue.QueueClient) PluginTransport {
	return &queueTransport{ctx: ctx, queue: queue}
}

func (t *queueTransport) Broadcast(payload []byte) error {
	encoded := base64.StdEncoding.EncodeToString(payload)
	_, err := t.queue.EnqueueMessage(t.ctx, encoded, nil)
	return err
}

func (t *queueTransport) Close() error { return nil }
