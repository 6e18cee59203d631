// Package gatewayclient is a thin shard-level transport over the
// vendor gateway: dial, Hello, Identify/Resume, and a background
// heartbeat, wrapped around nhooyr.io/websocket. The wire protocol
// itself is out of scope: after the handshake Next reads only each
// frame's op code, consuming heartbeat acks and turning reconnect and
// invalid-session ops into reconnect-class errors; every other frame
// is handed back to the caller verbatim, decompressed but otherwise
// uninterpreted.
package gatewayclient

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	jsoniterator "github.com/json-iterator/go"
	"nhooyr.io/websocket"

	"github.com/TheRockettek/czlib"
	"github.com/TheRockettek/stratum/internal/stratumerrors"
)

// ErrStreamClosed is returned by Next when the gateway closed the
// connection normally; the shard runner treats this as a clean end of
// stream rather than a reconnect-class failure.
var ErrStreamClosed = errors.New("gatewayclient: stream closed normally")

var json = jsoniterator.ConfigCompatibleWithStandardLibrary

const DefaultGatewayURL = "wss://gateway.discord.gg/?v=10&encoding=json"

// Config is the configuration shared by every shard client spawned for
// one worker; it is immutable and safe to share across goroutines.
type Config struct {
	Token      string
	Intents    int
	GatewayURL string
}

// FrameType distinguishes the two frame shapes the shard runner cares
// about; everything else about the payload is opaque.
type FrameType int

const (
	FrameText FrameType = iota
	FrameClose
)

// Frame is one decoded gateway message handed to the shard runner.
type Frame struct {
	Type FrameType
	Data []byte
}

type helloPayload struct {
	Op int `json:"op"`
	D  struct {
		HeartbeatInterval int64 `json:"heartbeat_interval"`
	} `json:"d"`
}

type envelope struct {
	Op int             `json:"op"`
	D  jsoniterator.RawMessage `json:"d"`
	S  int64           `json:"s"`
	T  string          `json:"t"`
}

const (
	opDispatch            = 0
	opHeartbeat           = 1
	opIdentify            = 2
	opResume              = 6
	opReconnect           = 7
	opInvalidSession      = 9
	opHello               = 10
	opHeartbeatAck        = 11
)

// Client is one shard's gateway connection.
type Client struct {
	cfg         Config
	shardID     int
	totalShards int

	conn *websocket.Conn

	writeMu sync.Mutex

	seq       int64
	sessionID string

	heartbeatCancel context.CancelFunc
	heartbeatDone   chan struct{}
}

// New constructs a shard client for (shardID, totalShards) against the
// shared gateway configuration.
func New(cfg Config, shardID, totalShards int) *Client {
	if cfg.GatewayURL == "" {
		cfg.GatewayURL = DefaultGatewayURL
	}
	return &Client{cfg: cfg, shardID: shardID, totalShards: totalShards}
}

// Connect dials the gateway, completes the Hello/Identify handshake
// (or Resume, if a prior session is known), and starts the background
// heartbeat. It blocks until the handshake completes or fails.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, c.cfg.GatewayURL, nil)
	if err != nil {
		return fmt.Errorf("%w: gatewayclient: dial: %w", stratumerrors.ErrGatewayReconnect, err)
	}
	conn.SetReadLimit(512 << 20)
	c.conn = conn

	env, raw, err := c.readEnvelope(ctx)
	if err != nil {
		return err
	}
	if env.Op != opHello {
		return fmt.Errorf("%w: gatewayclient: expected hello, got op %d", stratumerrors.ErrGatewayReconnect, env.Op)
	}

	var hello helloPayload
	if err := json.Unmarshal(raw, &hello); err != nil {
		return fmt.Errorf("%w: gatewayclient: decode hello: %w", stratumerrors.ErrGatewayReconnect, err)
	}

	if c.sessionID == "" {
		if err := c.identify(ctx); err != nil {
			return err
		}
	} else if err := c.resume(ctx); err != nil {
		return err
	}

	interval := time.Duration(hello.D.HeartbeatInterval) * time.Millisecond
	c.startHeartbeat(interval)

	return nil
}

func (c *Client) identify(ctx context.Context) error {
	return c.writeJSON(ctx, map[string]interface{}{
		"op": opIdentify,
		"d": map[string]interface{}{
			"token": c.cfg.Token,
			"properties": map[string]string{
				"os":      runtime.GOOS,
				"browser": "stratum",
				"device":  "stratum",
			},
			"compress": true,
			"shard":    [2]int{c.shardID, c.totalShards},
			"intents":  c.cfg.Intents,
		},
	})
}

func (c *Client) resume(ctx context.Context) error {
	return c.writeJSON(ctx, map[string]interface{}{
		"op": opResume,
		"d": map[string]interface{}{
			"token":      c.cfg.Token,
			"session_id": c.sessionID,
			"seq":        atomic.LoadInt64(&c.seq),
		},
	})
}

func (c *Client) startHeartbeat(interval time.Duration) {
	hbCtx, cancel := context.WithCancel(context.Background())
	c.heartbeatCancel = cancel
	c.heartbeatDone = make(chan struct{})

	go func() {
		defer close(c.heartbeatDone)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				seq := atomic.LoadInt64(&c.seq)
				if err := c.writeJSON(hbCtx, map[string]interface{}{
					"op": opHeartbeat,
					"d":  seq,
				}); err != nil {
					return
				}
			}
		}
	}()
}

// Next blocks for the next gateway frame. It returns
// stratumerrors.ErrGatewayReconnect-wrapped errors for anything the
// supervisor should treat as "restart me"; a nil error with the zero
// Frame never happens — Next always returns a frame or an error.
func (c *Client) Next(ctx context.Context) (Frame, error) {
	env, raw, err := c.readEnvelope(ctx)
	if err != nil {
		return Frame{}, err
	}

	switch env.Op {
	case opDispatch:
		if env.S != 0 {
			atomic.StoreInt64(&c.seq, env.S)
		}
		return Frame{Type: FrameText, Data: raw}, nil
	case opHeartbeatAck:
		return c.Next(ctx)
	case opReconnect, opInvalidSession:
		return Frame{}, fmt.Errorf("%w: gatewayclient: op %d requests reconnect", stratumerrors.ErrGatewayReconnect, env.Op)
	default:
		return Frame{Type: FrameText, Data: raw}, nil
	}
}

func (c *Client) readEnvelope(ctx context.Context) (envelope, []byte, error) {
	mt, data, err := c.conn.Read(ctx)
	if err != nil {
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			return envelope{}, nil, ErrStreamClosed
		}
		return envelope{}, nil, fmt.Errorf("%w: gatewayclient: read: %w", stratumerrors.ErrGatewayReconnect, err)
	}

	if mt == websocket.MessageBinary {
		data, err = czlib.Decompress(data)
		if err != nil {
			return envelope{}, nil, fmt.Errorf("%w: gatewayclient: decompress: %w", stratumerrors.ErrGatewayReconnect, err)
		}
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, nil, fmt.Errorf("%w: gatewayclient: decode envelope: %w", stratumerrors.ErrGatewayReconnect, err)
	}

	// data is the full decompressed message, not just the envelope's "d"
	// field: Next hands it to the shard runner verbatim, so the bus
	// consumer can still see op/t/s alongside the dispatch payload.
	return env, data, nil
}

func (c *Client) writeJSON(ctx context.Context, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gatewayclient: marshal: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("%w: gatewayclient: write: %w", stratumerrors.ErrGatewayReconnect, err)
	}
	return nil
}

// Close closes the underlying connection with statusCode and stops the
// heartbeat goroutine.
func (c *Client) Close(statusCode websocket.StatusCode) error {
	if c.heartbeatCancel != nil {
		c.heartbeatCancel()
		<-c.heartbeatDone
	}

	if c.conn == nil {
		return nil
	}
	return c.conn.Close(statusCode, "")
}
