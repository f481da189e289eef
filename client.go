package neohub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	logp "github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/j-keck/arping"
)

var log = logp.NewWithOptions(os.Stderr, logp.Options{
	ReportTimestamp: true,
	TimeFormat:      time.Kitchen,
	Prefix:          "neohub",
})

const (
	dialTimeout = 15 * time.Second
	writeWait   = 10 * time.Second
	pongWait    = 60 * time.Second
	pingPeriod  = (pongWait * 9) / 10

	reconnectBase = 10 * time.Second
	reconnectMax  = 5 * time.Minute

	// a connection that lived at least this long resets the backoff.
	stableConnAfter = time.Minute

	maxAuthRetries = 3
)

// ConnState is the connection state of a Client.
type ConnState int

const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Client maintains a durable session against a NeoHub websocket bridge:
// it keeps the last known state of every panel, reconnects with
// exponential backoff when the connection drops, and re-requests the
// full state after every (re)connect.
type Client struct {
	host  string
	port  int
	ssl   bool
	token string

	store     *store
	callbacks callbacks

	mu          sync.Mutex
	conn        *websocket.Conn
	state       ConnState
	cancel      context.CancelFunc
	connectedAt time.Time

	writeMu sync.Mutex

	bo          *backoff.ExponentialBackOff
	dialer      websocket.Dialer
	stableAfter time.Duration
	after       func(time.Duration) <-chan time.Time
	now         func() time.Time
}

// New creates a client for the hub at host:port. The token, if any, is
// sent as a bearer token on the websocket upgrade.
func New(host string, port int, ssl bool, token string) *Client {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = reconnectBase
	bo.MaxInterval = reconnectMax
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	return &Client{
		host:  host,
		port:  port,
		ssl:   ssl,
		token: token,
		store: newStore(),
		bo:    bo,
		dialer: websocket.Dialer{
			HandshakeTimeout: dialTimeout,
		},
		stableAfter: stableConnAfter,
		after:       time.After,
		now:         time.Now,
	}
}

// URL returns the websocket endpoint the client connects to.
func (c *Client) URL() string {
	scheme := "ws"
	if c.ssl {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s/api/ws", scheme, net.JoinHostPort(c.host, strconv.Itoa(c.port)))
}

// Connect dials the hub and starts the read loop. It returns once the
// connection is established, or with the dial error. After a
// successful Connect the client keeps itself connected until
// Disconnect is called.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateConnecting, StateConnected, StateReconnecting:
		c.mu.Unlock()
		return nil
	}
	dialCtx, dialCancel := context.WithCancel(ctx)
	c.state = StateConnecting
	// stored so Disconnect can abort an in-flight dial.
	c.cancel = dialCancel
	c.mu.Unlock()
	defer dialCancel()

	conn, err := c.dial(dialCtx)
	if err != nil {
		c.mu.Lock()
		if c.state != StateClosed {
			c.state = StateDisconnected
			c.cancel = nil
		}
		c.mu.Unlock()
		return err
	}

	// the connection must outlive ctx, which only bounds the dial.
	runCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if c.state != StateConnecting {
		c.mu.Unlock()
		cancel()
		_ = conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.state = StateConnected
	c.connectedAt = c.now()
	c.cancel = cancel
	c.mu.Unlock()

	c.bo.Reset()
	log.Info("connected", "url", c.URL())
	c.afterConnect()
	go c.run(runCtx, conn)
	return nil
}

// Disconnect closes the connection and stops any pending reconnect.
// It is idempotent and safe to call from within a callback.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	wasConnected := c.state == StateConnected
	c.state = StateClosed
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.conn != nil {
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			c.now().Add(time.Second),
		)
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	if wasConnected {
		for _, fn := range c.callbacks.disconnect.all() {
			fn()
		}
	}
	log.Info("disconnected")
	return nil
}

// Connected reports whether the client currently has a live connection.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected
}

// ConnState returns the current connection state.
func (c *Client) ConnState() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// State returns a snapshot of the last known state of every session.
func (c *Client) State() State {
	return c.store.snapshot()
}

// ArmAway arms the given partition in away mode.
func (c *Client) ArmAway(sessionID string, partition int, code string) error {
	return c.command(msgArmAway, sessionID, partition, code)
}

// ArmHome arms the given partition in home (stay) mode.
func (c *Client) ArmHome(sessionID string, partition int, code string) error {
	return c.command(msgArmHome, sessionID, partition, code)
}

// ArmNight arms the given partition in night mode.
func (c *Client) ArmNight(sessionID string, partition int, code string) error {
	return c.command(msgArmNight, sessionID, partition, code)
}

// Disarm disarms the given partition.
func (c *Client) Disarm(sessionID string, partition int, code string) error {
	return c.command(msgDisarm, sessionID, partition, code)
}

// Commands are fire-and-forget: the hub reports failures through error
// frames, which surface via OnError, not through the command's return.
// A command issued while arming is already in the requested state is
// still sent, the hub decides whether that is an error.
func (c *Client) command(typ, sessionID string, partition int, code string) error {
	if sessionID == "" || partition <= 0 {
		return fmt.Errorf("could not send %s: missing session or partition", typ)
	}
	if !c.Connected() {
		return fmt.Errorf("could not send %s: %w", typ, ErrNotConnected)
	}
	if !c.store.hasPartition(sessionID, partition) {
		return fmt.Errorf(
			"could not send %s to partition %d of %q: %w",
			typ, partition, sessionID, ErrNotFound,
		)
	}
	log.Debug("sending command", "type", typ, "session", sessionID, "partition", partition)
	if err := c.send(makeCommand(typ, sessionID, partition, code)); err != nil {
		return fmt.Errorf("could not send %s: %w", typ, err)
	}
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, resp, err := c.dialer.DialContext(ctx, c.URL(), header)
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil &&
			(resp.StatusCode == http.StatusUnauthorized ||
				resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("could not connect: %w", ErrInvalidToken)
		}
		return nil, fmt.Errorf("could not connect: %w", err)
	}
	return conn, nil
}

// giveUp parks the client in StateDisconnected and releases its run
// context, so a later Connect starts from a clean slate.
func (c *Client) giveUp() {
	c.mu.Lock()
	if c.state != StateClosed {
		c.state = StateDisconnected
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()
}

func (c *Client) afterConnect() {
	for _, fn := range c.callbacks.connect.all() {
		fn()
	}
	if err := c.send(getFullStateMessage{Type: msgGetFullState}); err != nil {
		log.Error("could not request full state", "err", err)
	}
}

// run owns the connection for the lifetime of the client: it reads
// frames until the connection dies, then keeps reconnecting until
// Disconnect cancels ctx.
func (c *Client) run(ctx context.Context, conn *websocket.Conn) {
	for {
		err := c.readLoop(conn)
		if ctx.Err() != nil {
			return
		}
		log.Warn("connection lost", "err", err)
		if stable := c.dropConn(); stable {
			c.bo.Reset()
		}
		for _, fn := range c.callbacks.disconnect.all() {
			fn()
		}
		conn = c.reconnect(ctx)
		if conn == nil {
			return
		}
	}
}

func (c *Client) dropConn() (stable bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	if c.state != StateClosed {
		c.state = StateReconnecting
	}
	return c.now().Sub(c.connectedAt) >= c.stableAfter
}

func (c *Client) reconnect(ctx context.Context) *websocket.Conn {
	var authFails int
	for {
		wait := c.bo.NextBackOff()
		log.Info("reconnecting", "in", wait)
		select {
		case <-ctx.Done():
			return nil
		case <-c.after(wait):
		}

		conn, err := c.dial(ctx)
		if err != nil {
			if errors.Is(err, ErrInvalidToken) {
				authFails++
				if authFails >= maxAuthRetries {
					log.Error("hub keeps rejecting the token, giving up", "attempts", authFails)
					c.giveUp()
					return nil
				}
			}
			log.Error("could not reconnect", "err", err)
			continue
		}

		c.mu.Lock()
		if c.state == StateClosed {
			c.mu.Unlock()
			_ = conn.Close()
			return nil
		}
		c.conn = conn
		c.state = StateConnected
		c.connectedAt = c.now()
		c.mu.Unlock()

		log.Info("reconnected", "url", c.URL())
		c.afterConnect()
		return conn
	}
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	stop := make(chan struct{})
	defer close(stop)
	go c.pingLoop(conn, stop)

	_ = conn.SetReadDeadline(c.now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(c.now().Add(pongWait))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(c.now().Add(pongWait))
		c.handle(data)
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	tick := time.NewTicker(pingPeriod)
	defer tick.Stop()
	for {
		select {
		case <-stop:
			return
		case <-tick.C:
			c.writeMu.Lock()
			_ = conn.SetWriteDeadline(c.now().Add(writeWait))
			err := conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// handle dispatches one inbound frame. Malformed frames and unknown
// types are logged and dropped, the connection stays up.
func (c *Client) handle(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error("could not parse frame", "err", err)
		return
	}
	switch env.Type {
	case msgFullState:
		var msg fullStateMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Error("could not parse full_state", "err", err)
			return
		}
		c.store.replaceFullState(msg.Sessions)
		snap := c.store.snapshot()
		log.Info("received full state", "sessions", len(snap))
		for _, fn := range c.callbacks.fullState.all() {
			fn(snap)
		}
	case msgPartitionUpdate:
		var msg partitionUpdateMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Error("could not parse partition_update", "err", err)
			return
		}
		if !c.store.applyPartitionUpdate(msg.PartitionUpdate) {
			log.Warn(
				"update for unknown partition",
				"session", msg.SessionID,
				"partition", msg.PartitionNumber,
			)
		}
		for _, fn := range c.callbacks.partitionUpdate.all() {
			fn(msg.PartitionUpdate)
		}
	case msgZoneUpdate:
		var msg zoneUpdateMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Error("could not parse zone_update", "err", err)
			return
		}
		if !c.store.applyZoneUpdate(msg.ZoneUpdate) {
			log.Warn(
				"update for unknown zone",
				"session", msg.SessionID,
				"zone", msg.ZoneNumber,
			)
		}
		for _, fn := range c.callbacks.zoneUpdate.all() {
			fn(msg.ZoneUpdate)
		}
	case msgError:
		var msg errorMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Error("could not parse error frame", "err", err)
			return
		}
		log.Error("hub error", "message", msg.Message)
		for _, fn := range c.callbacks.err.all() {
			fn(msg.Message)
		}
	default:
		log.Warn("unknown message type", "type", env.Type)
	}
}

func (c *Client) send(v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(c.now().Add(writeWait))
	if err := conn.WriteJSON(v); err != nil {
		return fmt.Errorf("could not write frame: %w", err)
	}
	return nil
}

// MacAddress returns the mac address of the hub, useful as a stable
// serial number for bridged accessories.
func MacAddress(ip string) (string, error) {
	hw, _, err := arping.Ping(net.ParseIP(ip))
	if err != nil {
		return "", fmt.Errorf("could not get the mac address: %w", err)
	}
	return hw.String(), nil
}
