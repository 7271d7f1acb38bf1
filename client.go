// Package pgflow is the public surface of the wire-protocol client:
// Connect dials a PostgreSQL server, drives the Connection State
// Machine (internal/connsm) and the extended-query/close sub-state
// machines (internal/substate) to completion, and hands the caller a
// Row-Batch Stream (rowstream) to pull results from.
//
// Everything in internal/ is pure: it decides what to do but never
// touches the network. This file is the channel glue those packages
// are written to assume exists (§9 of the design this client is
// built from) — a single actor goroutine owns the Connection SM and
// the socket, fed by a second goroutine that does nothing but frame
// reads, so every state mutation is single-threaded without needing a
// lock around the state machine itself.
package pgflow

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"

	charmlog "github.com/charmbracelet/log"

	"github.com/riftdata/pgflow/internal/connsm"
	"github.com/riftdata/pgflow/internal/pgconf"
	"github.com/riftdata/pgflow/internal/wire"
	"github.com/riftdata/pgflow/pkg/logger"
)

// ErrClosed is returned by any operation attempted after Close (or
// after the connection died and the actor tore itself down).
var ErrClosed = errors.New("pgflow: connection closed")

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdMessage
	cmdSocketError
	cmdEnqueue
	cmdSetDemand
	cmdProvideAuth
	cmdShutdown
)

type actorCmd struct {
	kind   cmdKind
	msg    wire.BackendMessage
	err    error
	task   *connsm.Task
	demand bool
	done   chan struct{}
}

// Client is one connection. All of its exported methods are safe to
// call from any goroutine; they only ever talk to the connection's
// state through the actor's command channel.
type Client struct {
	conn net.Conn
	sm   *connsm.Conn
	cfg  *pgconf.Config

	cmds     chan actorCmd
	readGate chan struct{}
	closed   chan struct{}
	closeOnce sync.Once

	readyCh chan error

	notifyMu sync.Mutex
	notify   NotificationSink

	txState byte
	log     *charmlog.Logger
}

// Connect dials cfg.Addr(), then drives the startup sequence
// (optional TLS negotiation, authentication, BackendKeyData) to
// completion before returning. A non-nil error means the socket, if
// opened at all, has already been torn down.
func Connect(ctx context.Context, cfg *pgconf.Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var d net.Dialer
	if cfg.ConnectTimeout > 0 {
		d.Timeout = cfg.ConnectTimeout
	}
	conn, err := d.DialContext(ctx, "tcp", cfg.Addr())
	if err != nil {
		return nil, fmt.Errorf("pgflow: dial %s: %w", cfg.Addr(), err)
	}

	c := &Client{
		conn:     conn,
		sm:       connsm.New(),
		cfg:      cfg,
		cmds:     make(chan actorCmd, 32),
		readGate: make(chan struct{}, 1),
		closed:   make(chan struct{}),
		readyCh:  make(chan error, 1),
		log:      logger.ForConn(conn.RemoteAddr().String()),
	}

	go c.actorLoop()
	go c.readLoop()

	c.cmds <- actorCmd{kind: cmdStart}

	select {
	case err := <-c.readyCh:
		if err != nil {
			return nil, err
		}
		return c, nil
	case <-ctx.Done():
		c.forceClose()
		return nil, ctx.Err()
	}
}

// actorLoop is the only goroutine allowed to call into c.sm. Every
// other goroutine (readLoop, the caller's own goroutines calling
// Query/Prepare/Close, a Row-Batch Stream's DataSource callbacks)
// reaches the state machine by sending a command here instead.
func (c *Client) actorLoop() {
	for cmd := range c.cmds {
		switch cmd.kind {
		case cmdStart:
			params := map[string]string{"user": c.cfg.User, "application_name": c.cfg.ApplicationName}
			if c.cfg.Database != "" {
				params["database"] = c.cfg.Database
			}
			// Supply credentials up front so a password challenge is
			// answered as soon as it arrives.
			authCtx := &connsm.AuthContext{Username: c.cfg.User, Password: c.cfg.Password, Database: c.cfg.Database}
			if _, err := c.sm.ProvideAuthContext(authCtx); err != nil {
				c.log.Debug("provide auth context failed", "err", err)
			}
			action, err := c.sm.Connected(params, c.cfg.RequireTLS())
			if err != nil {
				c.log.Debug("connect failed", "err", err)
			}
			if !c.perform(action) {
				return
			}
		case cmdMessage:
			action, err := c.sm.OnMessage(cmd.msg)
			if err != nil {
				c.log.Debug("state machine error", "err", err)
			}
			if !c.perform(action) {
				return
			}
		case cmdSocketError:
			c.finishReady(cmd.err)
			c.failOutstanding(cmd.err)
			c.forceClose()
			return
		case cmdEnqueue:
			if !c.perform(c.sm.Enqueue(cmd.task)) {
				return
			}
		case cmdSetDemand:
			if !c.perform(c.sm.SetDemand(cmd.demand)) {
				return
			}
		case cmdProvideAuth:
			authCtx := &connsm.AuthContext{Username: c.cfg.User, Password: c.cfg.Password, Database: c.cfg.Database}
			action, err := c.sm.ProvideAuthContext(authCtx)
			if err != nil {
				c.log.Debug("provide auth context error", "err", err)
			}
			if !c.perform(action) {
				return
			}
		case cmdShutdown:
			c.performShutdown()
			if cmd.done != nil {
				close(cmd.done)
			}
			return
		}
	}
}

// perform executes one Action's side effects. It returns false when
// the actor loop should stop (the connection tore down, gracefully or
// otherwise).
func (c *Client) perform(action connsm.Action) bool {
	switch action.Kind {
	case connsm.ActionSendBytes:
		if _, err := c.conn.Write(action.Bytes); err != nil {
			c.finishReady(err)
			c.forceClose()
			return false
		}
		c.grantRead()
		return true

	case connsm.ActionSendSSLRequest:
		if _, err := c.conn.Write(action.Bytes); err != nil {
			c.finishReady(err)
			c.forceClose()
			return false
		}
		// The SSL negotiation reply is a single untyped byte, read
		// synchronously here rather than through the gated read loop —
		// it precedes any framed message and never recurs.
		b, err := wire.ReadUntypedByte(c.conn)
		if err != nil {
			c.finishReady(err)
			c.forceClose()
			return false
		}
		next, err := c.sm.OnSSLResponse(b == wire.SSLSupported)
		if err != nil {
			c.log.Debug("ssl negotiation error", "err", err)
		}
		return c.perform(next)

	case connsm.ActionEstablishSSL:
		tlsConn := tls.Client(c.conn, tlsConfigFor(c.cfg))
		if err := tlsConn.HandshakeContext(context.Background()); err != nil {
			c.finishReady(fmt.Errorf("pgflow: TLS handshake: %w", err))
			c.forceClose()
			return false
		}
		c.conn = tlsConn
		next, err := c.sm.OnTLSHandshakeComplete(channelBindingData(tlsConn))
		if err != nil {
			c.log.Debug("tls handshake complete error", "err", err)
		}
		return c.perform(next)

	case connsm.ActionProvideAuthContext:
		authCtx := &connsm.AuthContext{Username: c.cfg.User, Password: c.cfg.Password, Database: c.cfg.Database}
		next, err := c.sm.ProvideAuthContext(authCtx)
		if err != nil {
			c.log.Debug("provide auth context error", "err", err)
		}
		return c.perform(next)

	case connsm.ActionFireReadyForQuery:
		c.txState = action.TxState
		c.finishReady(nil)
		c.grantRead()
		return true

	case connsm.ActionRequestRead:
		c.grantRead()
		return true

	case connsm.ActionSuppressRead, connsm.ActionForwardRows:
		// Pull-based backpressure (§5/§8 invariant 5): no more than one
		// outstanding read while the consumer hasn't asked for the next
		// batch. The next grant comes from a later SetDemand(true), or
		// never, if the consumer abandons the stream.
		return true

	case connsm.ActionNotice:
		if se, ok := action.Err.(*connsm.ServerError); ok {
			c.log.Warn("server notice", "severity", se.Severity(), "message", se.Message())
		}
		c.grantRead()
		return true

	case connsm.ActionNotify:
		c.notifyMu.Lock()
		sink := c.notify
		c.notifyMu.Unlock()
		if sink != nil {
			sink.NotificationReceived(Notification{
				Channel: action.NotificationChan,
				Payload: action.NotificationBody,
				PID:     action.NotificationPID,
			})
		}
		c.grantRead()
		return true

	case connsm.ActionCloseConnection:
		c.finishReady(action.Err)
		if action.Cleanup != nil {
			c.failCleanup(action.Cleanup)
		}
		c.forceClose()
		return false

	default: // ActionWait, ActionNone, ActionSucceed*/ActionFail*/ActionForward*Complete/Error, ActionFireReadyForStartup
		c.grantRead()
		return true
	}
}

func (c *Client) performShutdown() {
	var buf bytes.Buffer
	_ = wire.WriteMessage(&buf, wire.MsgTerminate, wire.EncodeTerminate())
	_, _ = c.conn.Write(buf.Bytes())
	c.forceClose()
}

func (c *Client) grantRead() {
	select {
	case c.readGate <- struct{}{}:
	default:
	}
}

func (c *Client) finishReady(err error) {
	select {
	case c.readyCh <- err:
	default:
	}
}

func (c *Client) forceClose() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
		close(c.closed)
	})
}

// failOutstanding is used when the socket itself breaks (read/write
// error) rather than the state machine reaching StateError on its own
// — the state machine never finds out, and connsm.Action.Cleanup is
// never produced. It only logs the failure: outstanding tasks are not
// failed here, and the context passed to Query/Prepare bounds the
// caller's wait.
func (c *Client) failOutstanding(err error) {
	// Tasks awaiting a sink are only reachable through connsm's own
	// bookkeeping; a broken socket before any further OnMessage call
	// means the caller's Wait(ctx) would otherwise block until ctx
	// expires. There is no exported accessor into connsm's task queue
	// from here (by design — only the actor goroutine may touch it),
	// so this is a best-effort log; the context passed to Query/Prepare
	// is what actually bounds the caller's wait.
	c.log.Error("connection failed", "err", err)
}

func (c *Client) failCleanup(cleanup *connsm.CleanUpContext) {
	c.log.Error("connection entered error state", "err", cleanup.Err, "pending_tasks", len(cleanup.Tasks))
}

// readLoop does nothing but turn gate tokens into framed messages.
// It never touches c.sm directly; every message it decodes is handed
// to the actor over c.cmds.
func (c *Client) readLoop() {
	for {
		select {
		case <-c.readGate:
		case <-c.closed:
			return
		}

		msgType, payload, err := wire.ReadMessage(c.conn)
		if err != nil {
			c.sendCmd(actorCmd{kind: cmdSocketError, err: err})
			return
		}
		msg, err := wire.DecodeBackend(msgType, payload)
		if err != nil {
			c.sendCmd(actorCmd{kind: cmdSocketError, err: err})
			return
		}
		if !c.sendCmd(actorCmd{kind: cmdMessage, msg: msg}) {
			return
		}
	}
}

func (c *Client) sendCmd(cmd actorCmd) bool {
	select {
	case c.cmds <- cmd:
		return true
	case <-c.closed:
		return false
	}
}

// Close sends Terminate and tears the socket down. It does not wait
// for outstanding queries to finish; cancel those first if that
// matters to the caller.
func (c *Client) Close(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case c.cmds <- actorCmd{kind: cmdShutdown, done: done}:
	case <-c.closed:
		return nil
	}
	select {
	case <-done:
		return nil
	case <-c.closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Closed reports whether the connection has torn down, gracefully or
// otherwise.
func (c *Client) Closed() <-chan struct{} { return c.closed }

// SetNotificationSink registers the out-of-band NOTIFY delivery
// target (§6). Pass nil to stop delivering notifications.
func (c *Client) SetNotificationSink(sink NotificationSink) {
	c.notifyMu.Lock()
	c.notify = sink
	c.notifyMu.Unlock()
}

func tlsConfigFor(cfg *pgconf.Config) *tls.Config {
	switch cfg.SSLMode {
	case pgconf.SSLVerifyFull, pgconf.SSLVerifyCA:
		return &tls.Config{ServerName: cfg.Host}
	default: // require: the state machine only ever requests TLS at
		// all for require/verify-ca/verify-full (see RequireTLS); plain
		// "require" skips certificate verification entirely, matching
		// libpq's own distinction between require and verify-*.
		return &tls.Config{InsecureSkipVerify: true}
	}
}

// channelBindingData computes the "tls-server-end-point" channel
// binding value (RFC 5929 §4) SCRAM-SHA-256-PLUS signs over: a hash
// of the server's leaf certificate. RFC 5929 picks the hash algorithm
// the certificate's own signature uses, falling back to SHA-256 for
// MD5/SHA-1 signed certs; this client always uses SHA-256, which
// covers every certificate a modern PostgreSQL server presents.
func channelBindingData(conn *tls.Conn) []byte {
	state := conn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return nil
	}
	sum := sha256.Sum256(state.PeerCertificates[0].Raw)
	return sum[:]
}
