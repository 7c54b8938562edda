// Package ippolicy tracks per-IP protocol violations and translates
// cumulative offences into escalating bans, generalizing this codebase's
// single-counter IP tracker into the kind-differentiated accounting the
// write path and session layer need.
package ippolicy

import (
	"encoding/hex"
	"time"

	sha256 "github.com/minio/sha256-simd"
	"github.com/puzpuzpuz/xsync/v3"
)

// Peer pairs the raw client IP used for policy decisions with a
// logging-safe hashed form, so log lines never carry addresses verbatim.
type Peer struct {
	IP     string
	Hashed string
}

// NewPeer derives the hashed form of ip.
func NewPeer(ip string) Peer {
	h := sha256.Sum256([]byte(ip))
	return Peer{IP: ip, Hashed: hex.EncodeToString(h[:8])}
}

func (p Peer) String() string { return p.Hashed }

// BanKind enumerates the abuse categories that can trigger a ban.
type BanKind int

const (
	BadProtocol BanKind = iota
	TooManySubscriptions
	TooFastEvents
	ScrapeAttempt
	AuthFail
)

func (k BanKind) String() string {
	switch k {
	case BadProtocol:
		return "BadProtocol"
	case TooManySubscriptions:
		return "TooManySubscriptions"
	case TooFastEvents:
		return "TooFastEvents"
	case ScrapeAttempt:
		return "ScrapeAttempt"
	case AuthFail:
		return "AuthFail"
	default:
		return "Unknown"
	}
}

const numKinds = int(AuthFail) + 1

// Data is the persisted state for a single IP, serialized with msgpack
// into the store's ip_data table.
type Data struct {
	Counts   [numKinds]uint32 `msgpack:"counts"`
	BanUntil int64            `msgpack:"ban_until"` // unix seconds
}

// BaseDuration is the length of the first ban for any offence kind; each
// subsequent offence of the same kind doubles it.
var BaseDuration = 10 * time.Minute

// Store is the minimal persistence interface ippolicy needs, satisfied by
// the event store's IP-data table.
type Store interface {
	GetIPData(ip string) (*Data, error)
	SetIPData(ip string, d *Data) error
}

// T is the in-memory IP policy cache backed by a Store for durability
// across restarts.
type T struct {
	store Store
	cache *xsync.MapOf[string, *Data]
}

// New creates a policy cache backed by store.
func New(store Store) *T {
	return &T{store: store, cache: xsync.NewMapOf[string, *Data]()}
}

func (t *T) load(ip string) *Data {
	if d, ok := t.cache.Load(ip); ok {
		return d
	}
	d, err := t.store.GetIPData(ip)
	if err != nil || d == nil {
		d = &Data{}
	}
	t.cache.Store(ip, d)
	return d
}

// Ban increments the counter for kind on ip, computes an escalation
// duration from the cumulative offences of that kind, raises ban_until if
// the new deadline is later, persists the row and returns the number of
// seconds the IP is now banned for.
func (t *T) Ban(ip string, kind BanKind) (seconds int64, err error) {
	d := t.load(ip)
	d.Counts[kind]++
	duration := BaseDuration
	for i := uint32(1); i < d.Counts[kind]; i++ {
		duration *= 2
	}
	until := time.Now().Add(duration).Unix()
	if until > d.BanUntil {
		d.BanUntil = until
	}
	t.cache.Store(ip, d)
	if err = t.store.SetIPData(ip, d); err != nil {
		return
	}
	seconds = d.BanUntil - time.Now().Unix()
	return
}

// IsBanned reports whether ip is currently under an active ban.
func (t *T) IsBanned(ip string) bool {
	d := t.load(ip)
	return d.BanUntil > time.Now().Unix()
}

// Forget drops ip from the in-memory cache, forcing the next lookup to
// reload from the store. Used after an external moderation action.
func (t *T) Forget(ip string) { t.cache.Delete(ip) }

// Sweep evicts cache entries whose ban has expired, bounding the map's
// size under high client churn. Persisted rows are untouched so the
// escalation history survives for repeat offenders.
func (t *T) Sweep() {
	now := time.Now().Unix()
	t.cache.Range(func(ip string, d *Data) bool {
		if d.BanUntil <= now {
			t.cache.Delete(ip)
		}
		return true
	})
}
