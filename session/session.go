// Package session implements the per-connection relay protocol state
// machine: reading EVENT/REQ/CLOSE/AUTH/COUNT messages off a websocket,
// applying the write policy, and pushing real-time matches to open
// subscriptions as new events are stored.
package session

import (
	"crypto/sha256"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"go.uber.org/atomic"
	"golang.org/x/crypto/hkdf"
	"lukechampine.com/frand"

	"nexrelay.dev/bus"
	"nexrelay.dev/chk"
	"nexrelay.dev/config"
	"nexrelay.dev/errs"
	"nexrelay.dev/ippolicy"
	"nexrelay.dev/log"
	"nexrelay.dev/nostr/envelope"
	"nexrelay.dev/nostr/event"
	"nexrelay.dev/nostr/filter"
	"nexrelay.dev/nostr/hex"
	"nexrelay.dev/nostr/kind"
	"nexrelay.dev/store"
	"nexrelay.dev/store/indexkey"
)

const (
	writeWait       = 10 * time.Second
	defaultIdle     = 60 * time.Second
	maxMessageSize  = 1 << 20
	authEventKind   = kind.T(22242)
	authTolerance   = 10 * time.Minute
	eventRateWindow = time.Minute
)

// Session is a single client connection's state.
type Session struct {
	conn    *websocket.Conn
	req     *http.Request
	cfg     *config.C
	st      *store.T
	policy  *ippolicy.T
	writeMu sync.Mutex

	peer          ippolicy.Peer
	challenge     string
	idle          time.Duration
	authedPubkey  atomic.String
	authRequested atomic.Bool

	subsMu sync.Mutex
	subs   map[string][]*filter.T

	// lastOffset is the most recent store offset delivered in real time,
	// used as the resume point for the catch-up query after a bus lag.
	lastOffset atomic.Uint64

	violations    atomic.Int64
	evWindowStart atomic.Int64
	evWindowCount atomic.Int64

	subscriber *bus.Subscriber
	closeOnce  sync.Once
	done       chan struct{}
}

// New wraps conn as a new Session. peer carries the resolved client
// address (X-Forwarded-For aware, falls back to the socket's address) in
// both its raw and logging-safe hashed forms.
func New(conn *websocket.Conn, req *http.Request, peer ippolicy.Peer, cfg *config.C, st *store.T, policy *ippolicy.T) *Session {
	s := &Session{
		conn:   conn,
		req:    req,
		cfg:    cfg,
		st:     st,
		policy: policy,
		peer:   peer,
		subs:   map[string][]*filter.T{},
		done:   make(chan struct{}),
		idle:   defaultIdle,
	}
	if cfg.IdleTimeoutSeconds > 0 {
		s.idle = time.Duration(cfg.IdleTimeoutSeconds) * time.Second
	}
	if !cfg.OpenRelay {
		s.challenge = generateChallenge()
	}
	return s
}

// generateChallenge derives the per-connection AUTH challenge string from a
// frand-sourced secret, run through HKDF-SHA256 so the value handed to the
// client is never the raw output of the random source.
func generateChallenge() string {
	secret := frand.Bytes(32)
	kdf := hkdf.New(sha256.New, secret, nil, []byte("nexrelay-auth-challenge"))
	out := make([]byte, 16)
	if _, err := io.ReadFull(kdf, out); chk.E(err) {
		return hex.Enc(secret[:16])
	}
	return hex.Enc(out)
}

// Peer returns the client's address pair: raw IP for policy, hashed form
// for logging.
func (s *Session) Peer() ippolicy.Peer { return s.peer }

func (s *Session) writeRaw(p []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	chk.E(s.conn.SetWriteDeadline(time.Now().Add(writeWait)))
	return s.conn.WriteMessage(websocket.TextMessage, p)
}

func (s *Session) writeEnvelope(e envelope.I) error {
	b, err := e.Marshal()
	if chk.E(err) {
		return err
	}
	return s.writeRaw(b)
}

// Run upgrades the connection's lifecycle: it sends the AUTH challenge
// when required, starts the ping, shutdown-watch and real-time delivery
// loops, and reads messages until the connection closes, the idle timeout
// elapses or shutdown is requested.
func (s *Session) Run(shutdown <-chan struct{}) {
	defer s.teardown()

	limit := int64(maxMessageSize)
	if s.cfg.MaxMessageSize > 0 {
		limit = s.cfg.MaxMessageSize
	}
	s.conn.SetReadLimit(limit)
	chk.E(s.conn.SetReadDeadline(time.Now().Add(s.idle)))
	s.conn.SetPongHandler(
		func(string) error {
			chk.E(s.conn.SetReadDeadline(time.Now().Add(s.idle)))
			return nil
		},
	)

	if s.challenge != "" {
		s.authRequested.Store(true)
		if err := s.writeEnvelope(&envelope.AuthChallenge{Challenge: s.challenge}); chk.E(err) {
			return
		}
	}

	s.subscriber = s.st.Bus().Subscribe()
	defer s.st.Bus().Unsubscribe(s.subscriber)

	go s.pinger()
	go s.deliverLoop()
	go s.watchShutdown(shutdown)

	for {
		typ, msg, err := s.conn.ReadMessage()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				chk.E(s.writeEnvelope(&envelope.Notice{Message: "idle timeout"}))
				return
			}
			if errors.Is(err, websocket.ErrReadLimit) {
				chk.E(s.writeEnvelope(&envelope.Notice{Message: "message exceeds size limit"}))
				s.ban(ippolicy.BadProtocol)
				return
			}
			if !strings.Contains(err.Error(), "use of closed network connection") {
				if websocket.IsUnexpectedCloseError(
					err, websocket.CloseNormalClosure, websocket.CloseGoingAway,
					websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure,
				) {
					log.W.F("unexpected close from %s: %v", s.peer, err)
				}
			}
			return
		}
		chk.E(s.conn.SetReadDeadline(time.Now().Add(s.idle)))
		if typ == websocket.PingMessage {
			chk.E(s.conn.WriteMessage(websocket.PongMessage, nil))
			continue
		}
		s.handleMessage(msg)
	}
}

// watchShutdown notifies the client, closes every open subscription and
// flushes a websocket close frame when the process-wide shutdown watch
// fires, so the blocked read in Run unblocks and the session exits within
// the grace period.
func (s *Session) watchShutdown(shutdown <-chan struct{}) {
	select {
	case <-s.done:
		return
	case <-shutdown:
	}
	chk.E(s.writeEnvelope(&envelope.Notice{Message: "relay shutting down"}))
	s.subsMu.Lock()
	ids := make([]string, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	s.subs = map[string][]*filter.T{}
	s.subsMu.Unlock()
	for _, id := range ids {
		chk.E(s.writeEnvelope(&envelope.Closed{SubID: id, Message: "error: relay shutting down"}))
	}
	s.writeMu.Lock()
	_ = s.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
		time.Now().Add(writeWait),
	)
	s.writeMu.Unlock()
	s.teardown()
}

func (s *Session) pinger() {
	ticker := time.NewTicker(s.idle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				s.teardown()
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *Session) teardown() {
	s.closeOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// deliverLoop pushes newly stored events matching live subscriptions to
// the client, consuming bus notifications. A Lagged notification triggers
// a catch-up query against the store for each open subscription.
func (s *Session) deliverLoop() {
	for {
		select {
		case <-s.done:
			return
		case m, ok := <-s.subscriber.Recv():
			if !ok {
				return
			}
			if m.Ephemeral != nil {
				s.deliverToMatching(m.Ephemeral)
				continue
			}
			if m.Lagged > 0 {
				log.W.F("%s lagged by %d, catching up", s.peer, m.Lagged)
				s.catchUp()
				continue
			}
			ev, err := s.st.GetEventByOffset(indexkey.Offset(m.Offset))
			if err != nil {
				continue
			}
			s.lastOffset.Store(uint64(m.Offset))
			s.deliverToMatching(ev)
		}
	}
}

// catchUp closes a bus lag gap: every live subscription re-queries the
// store from the offset after the last one delivered in real time, bounded
// by the broadcast buffer size so a deeply lagged session can't trigger an
// unbounded replay.
func (s *Session) catchUp() {
	s.subsMu.Lock()
	subs := make(map[string][]*filter.T, len(s.subs))
	for id, f := range s.subs {
		subs[id] = f
	}
	s.subsMu.Unlock()
	since := indexkey.Offset(s.lastOffset.Load() + 1)
	bound := s.cfg.BroadcastBuffer
	if bound <= 0 {
		bound = 512
	}
	for id, filters := range subs {
		for _, f := range filters {
			evs, err := s.st.FindEvents(f, true, since, bound, nil)
			if chk.E(err) {
				continue
			}
			for _, ev := range evs {
				chk.E(s.writeEnvelope(&envelope.Event{SubID: id, Event: ev}))
			}
		}
	}
}

func (s *Session) deliverToMatching(ev *event.T) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for id, filters := range s.subs {
		for _, f := range filters {
			if f.Matches(ev) {
				if approved, has := s.st.EventApproved(ev.ID); has && !approved {
					continue
				}
				if approved, has := s.st.PubkeyApproved(ev.Pubkey); has && !approved {
					continue
				}
				chk.E(s.writeEnvelope(&envelope.Event{SubID: id, Event: ev}))
				break
			}
		}
	}
}

func (s *Session) handleMessage(raw []byte) {
	label, rest, err := envelope.Sniff(raw)
	if chk.E(err) {
		chk.E(s.writeEnvelope(&envelope.Notice{Message: errs.New(errs.InvalidJson, "%v", err).Error()}))
		s.ban(ippolicy.BadProtocol)
		return
	}
	switch label {
	case envelope.EventLabel:
		s.handleEvent(rest)
	case envelope.ReqLabel:
		s.handleReq(rest)
	case envelope.CloseLabel:
		s.handleClose(rest)
	case envelope.AuthLabel:
		s.handleAuth(rest)
	case envelope.CountLabel:
		s.handleCount(rest)
	default:
		chk.E(s.writeEnvelope(&envelope.Notice{Message: "unknown envelope type " + label}))
		s.ban(ippolicy.BadProtocol)
	}
}

// ban records one protocol violation against this connection. The IP-level
// ban only lands once the connection's violation count crosses the
// configured threshold (scrape attempts and subscription flooding are
// already gated by their own limits and ban immediately); a banned
// connection is then torn down.
func (s *Session) ban(k ippolicy.BanKind) {
	if !s.cfg.EnableIPBlocking {
		return
	}
	n := s.violations.Inc()
	immediate := k == ippolicy.ScrapeAttempt || k == ippolicy.TooManySubscriptions
	threshold := int64(s.cfg.ViolationThreshold)
	if threshold <= 0 {
		threshold = 10
	}
	if !immediate && n < threshold {
		return
	}
	if _, err := s.policy.Ban(s.peer.IP, k); chk.E(err) {
		return
	}
	log.I.F("banned %s after %d violations (%s)", s.peer, n, k)
	s.teardown()
}

func (s *Session) isBanned() bool {
	return s.cfg.EnableIPBlocking && s.policy.IsBanned(s.peer.IP)
}

// overEventRate counts EVENT submissions in a fixed one-minute window,
// restarted once a minute has passed since it opened, and reports whether
// this connection has exceeded the configured rate within it.
func (s *Session) overEventRate() bool {
	max := int64(s.cfg.MaxEventsPerMinute)
	if max <= 0 {
		return false
	}
	now := time.Now().Unix()
	start := s.evWindowStart.Load()
	if now-start >= int64(eventRateWindow/time.Second) {
		s.evWindowStart.Store(now)
		s.evWindowCount.Store(0)
	}
	return s.evWindowCount.Inc() > max
}
