// Package store implements the durable event log and its secondary
// indices on top of badger, an embedded ordered key/value engine offering
// memory-mapped, copy-on-write, MVCC reads exactly as this codebase's own
// database package uses it. It also holds the moderation overlays,
// authorized-user list and per-IP abuse-tracking rows the rest of the
// relay consults on every request.
package store

import (
	"bytes"
	"encoding/json"
	"os"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"nexrelay.dev/bus"
	"nexrelay.dev/chk"
	"nexrelay.dev/errs"
	"nexrelay.dev/ippolicy"
	"nexrelay.dev/nostr/event"
	"nexrelay.dev/nostr/filter"
	"nexrelay.dev/nostr/hex"
	"nexrelay.dev/store/indexkey"
)

// T is the event store. One instance per process; safe for concurrent use
// (badger allows many readers and one writer at a time).
type T struct {
	db      *badger.DB
	seq     *badger.Sequence
	dataDir string
	bus     *bus.T
}

// Open opens (creating if necessary) the badger database at dataDir and
// wires up a broadcast bus with the given channel capacity.
func Open(dataDir string, broadcastBuffer int) (t *T, err error) {
	if err = os.MkdirAll(dataDir, 0755); chk.E(err) {
		return
	}
	opts := badger.DefaultOptions(dataDir)
	opts.Logger = nil
	var db *badger.DB
	if db, err = badger.Open(opts); chk.E(err) {
		return
	}
	var seq *badger.Sequence
	if seq, err = db.GetSequence([]byte("EVENTS"), 1000); chk.E(err) {
		_ = db.Close()
		return
	}
	t = &T{db: db, seq: seq, dataDir: dataDir, bus: bus.New(broadcastBuffer)}
	return
}

// Path returns the directory the database files live in.
func (t *T) Path() string { return t.dataDir }

// Bus returns the broadcast bus sessions subscribe to for real-time
// delivery notifications.
func (t *T) Bus() *bus.T { return t.bus }

// Close releases the sequence lease and closes the database.
func (t *T) Close() (err error) {
	if t.seq != nil {
		if err = t.seq.Release(); chk.E(err) {
			return
		}
	}
	return t.db.Close()
}

// Sync flushes mapped pages to stable storage.
func (t *T) Sync() error { return t.db.Sync() }

// indicesFor returns the secondary index keys for ev (not including by_id,
// which carries a value — the offset — rather than a bare marker, and so
// is set separately).
func (t *T) indicesFor(ev *event.T, off indexkey.Offset) [][]byte {
	k := uint16(ev.Kind)
	idxs := [][]byte{
		indexkey.PubkeyCreatedKindKey(ev.Pubkey, int64(ev.CreatedAt), k, off),
		indexkey.KindCreatedKey(k, int64(ev.CreatedAt), off),
	}
	for _, tg := range ev.Tags {
		if len(tg) >= 2 && len(tg[0]) == 1 {
			idxs = append(idxs, indexkey.TagKey(tg[0][0], tg[1], int64(ev.CreatedAt), off))
		}
	}
	return idxs
}

func offsetBytes(off indexkey.Offset) []byte { return indexkey.PutUint64(nil, uint64(off)) }

// StoreEvent appends ev to the log and updates every secondary index.
// Returns errs.Duplicate if the id is already known, or errs.Superseded if
// ev is replaceable/parameterized-replaceable and a current entry with an
// equal-or-greater created_at already exists (ties broken toward the
// smaller id). On success it publishes the new offset to the bus.
func (t *T) StoreEvent(ev *event.T) (off indexkey.Offset, err error) {
	err = t.db.Update(
		func(txn *badger.Txn) (err error) {
			if _, err = txn.Get(indexkey.ByIDKey(ev.ID)); err == nil {
				return errs.New(errs.Duplicate, "event %s already stored", hex.Enc(ev.ID))
			} else if err != badger.ErrKeyNotFound {
				return
			}
			err = nil

			var replaceKey []byte
			pubkey, kind, d, replaceable := ev.ReplaceableKey()
			if replaceable {
				if kind.IsParameterizedReplaceable() {
					replaceKey = indexkey.ParamReplaceableKey(ev.Pubkey, uint16(kind), d)
				} else {
					replaceKey = indexkey.ReplaceableKey(ev.Pubkey, uint16(kind))
				}
				_ = pubkey
				if prevOff, superseded, serr := t.currentSupersedes(txn, replaceKey, ev); serr != nil {
					return serr
				} else if superseded {
					return errs.New(errs.Superseded, "event %s is not newer than current", hex.Enc(ev.ID))
				} else if prevOff != nil {
					if err = t.removeEventLocked(txn, prevOff); chk.E(err) {
						return
					}
				}
			}

			var serial uint64
			if serial, err = t.seq.Next(); chk.E(err) {
				return
			}
			off = indexkey.Offset(serial)

			b, merr := ev.Marshal()
			if merr != nil {
				return merr
			}
			if err = txn.Set(indexkey.EventKey(off), b); chk.E(err) {
				return
			}
			if err = txn.Set(indexkey.ByIDKey(ev.ID), offsetBytes(off)); chk.E(err) {
				return
			}
			for _, k := range t.indicesFor(ev, off) {
				if err = txn.Set(k, nil); chk.E(err) {
					return
				}
			}
			if replaceKey != nil {
				if err = txn.Set(replaceKey, offsetBytes(off)); chk.E(err) {
					return
				}
			}
			return
		},
	)
	if err == nil {
		t.bus.Publish(bus.Offset(off))
	}
	return
}

// currentSupersedes looks up the offset currently pointed to by
// replaceKey, if any, and reports whether ev is superseded by it (equal-or
// -greater created_at, ties broken by smaller id winning). If ev wins, the
// previous offset is returned so the caller can remove it.
func (t *T) currentSupersedes(txn *badger.Txn, replaceKey []byte, ev *event.T) (prevOff []byte, superseded bool, err error) {
	item, gerr := txn.Get(replaceKey)
	if gerr == badger.ErrKeyNotFound {
		return nil, false, nil
	}
	if gerr != nil {
		return nil, false, gerr
	}
	var offBytes []byte
	if offBytes, err = item.ValueCopy(nil); chk.E(err) {
		return
	}
	prevEv, ferr := t.fetchAt(txn, offBytes)
	if ferr != nil {
		// stale pointer; treat as no current entry
		return nil, false, nil
	}
	if prevEv.CreatedAt > ev.CreatedAt {
		return nil, true, nil
	}
	// equal created_at: the smaller id stays current
	if prevEv.CreatedAt == ev.CreatedAt && bytes.Compare(prevEv.ID, ev.ID) < 0 {
		return nil, true, nil
	}
	return offBytes, false, nil
}

func (t *T) fetchAt(txn *badger.Txn, offBytes []byte) (*event.T, error) {
	item, err := txn.Get(append(append([]byte{}, indexkey.PrefixEvent...), offBytes...))
	if err != nil {
		return nil, err
	}
	var b []byte
	if b, err = item.ValueCopy(nil); err != nil {
		return nil, err
	}
	return event.Unmarshal(b)
}

func (t *T) removeEventLocked(txn *badger.Txn, offBytes []byte) (err error) {
	var ev *event.T
	if ev, err = t.fetchAt(txn, offBytes); err != nil {
		return nil // already gone
	}
	off := indexkey.Offset(bytesToUint64(offBytes))
	if err = txn.Delete(indexkey.EventKey(off)); chk.E(err) {
		return
	}
	if err = txn.Delete(indexkey.ByIDKey(ev.ID)); chk.E(err) {
		return
	}
	for _, k := range t.indicesFor(ev, off) {
		if err = txn.Delete(k); chk.E(err) {
			return
		}
	}
	return
}

func bytesToUint64(b []byte) (v uint64) {
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return
}

// RemoveEvent deletes id from every index. Irreversible.
func (t *T) RemoveEvent(id []byte) (err error) {
	return t.db.Update(
		func(txn *badger.Txn) (err error) {
			item, gerr := txn.Get(indexkey.ByIDKey(id))
			if gerr == badger.ErrKeyNotFound {
				return errs.New(errs.NotFound, "event %s not found", hex.Enc(id))
			}
			if gerr != nil {
				return gerr
			}
			var offBytes []byte
			if offBytes, err = item.ValueCopy(nil); chk.E(err) {
				return
			}
			if err = txn.Delete(indexkey.ByIDKey(id)); chk.E(err) {
				return
			}
			return t.removeEventLocked(txn, offBytes)
		},
	)
}

// FindEvents scans the index the filter's Plan selects, applies the full
// filter match, the approval overlays when respectApproval is true, and
// the caller's accept predicate, yielding at most limit results ordered
// newest-first (offsets scanned ascending are re-sorted by created_at).
func (t *T) FindEvents(
	f *filter.T, respectApproval bool, sinceOffset indexkey.Offset, limit int,
	accept func(*event.T) bool,
) (evs event.S, err error) {
	plan := f.Plan()
	err = t.db.View(
		func(txn *badger.Txn) (err error) {
			var offsets []indexkey.Offset
			switch plan.Kind {
			case filter.ScanIDs:
				for _, idHex := range f.IDs {
					id, derr := hex.Dec(idHex)
					if derr != nil || len(id) != 32 {
						continue
					}
					item, gerr := txn.Get(indexkey.ByIDKey(id))
					if gerr != nil {
						continue
					}
					b, verr := item.ValueCopy(nil)
					if verr != nil {
						continue
					}
					offsets = append(offsets, indexkey.Offset(bytesToUint64(b)))
				}
			case filter.ScanAuthorsKinds:
				for _, author := range f.Authors {
					if len(author) != 64 {
						continue
					}
					pk, derr := hex.Dec(author)
					if derr != nil {
						continue
					}
					offsets = append(offsets, scanPrefix(txn, indexkey.PubkeyCreatedKindPrefix(pk))...)
				}
			case filter.ScanTag:
				for _, v := range f.Tags[plan.TagName] {
					offsets = append(offsets, scanPrefix(txn, indexkey.TagPrefix(plan.TagName[0], v))...)
				}
			default:
				for _, k := range f.Kinds {
					offsets = append(offsets, scanPrefix(txn, indexkey.KindCreatedPrefix(uint16(k)))...)
				}
				if len(f.Kinds) == 0 {
					offsets = append(offsets, scanAll(txn)...)
				}
			}

			seen := map[indexkey.Offset]bool{}
			for _, off := range offsets {
				if seen[off] || off < sinceOffset {
					continue
				}
				seen[off] = true
				ev, ferr := t.fetchAt(txn, offsetBytes(off))
				if ferr != nil {
					continue
				}
				if !f.Matches(ev) {
					continue
				}
				if respectApproval {
					if approved, has := t.eventApprovedTxn(txn, ev.ID); has && !approved {
						continue
					}
					if approved, has := t.pubkeyApprovedTxn(txn, ev.Pubkey); has && !approved {
						continue
					}
				}
				if accept != nil && !accept(ev) {
					continue
				}
				evs = append(evs, ev)
			}
			return nil
		},
	)
	sort.Sort(evs)
	if limit > 0 && len(evs) > limit {
		evs = evs[:limit]
	}
	return
}

func scanPrefix(txn *badger.Txn, prefix []byte) (offsets []indexkey.Offset) {
	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := it.Item().KeyCopy(nil)
		off := bytesToUint64(key[len(key)-8:])
		offsets = append(offsets, indexkey.Offset(off))
	}
	return
}

func scanAll(txn *badger.Txn) (offsets []indexkey.Offset) {
	prefix := indexkey.PrefixEvent
	it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := it.Item().KeyCopy(nil)
		off := bytesToUint64(key[len(prefix):])
		offsets = append(offsets, indexkey.Offset(off))
	}
	return
}

// MarkEventApproval upserts the event_approval overlay row.
func (t *T) MarkEventApproval(id []byte, approved bool) error {
	return t.db.Update(func(txn *badger.Txn) error {
		return txn.Set(indexkey.EventApprovalKey(id), boolBytes(approved))
	})
}

// MarkPubkeyApproval upserts the pubkey_approval overlay row.
func (t *T) MarkPubkeyApproval(pubkey []byte, approved bool) error {
	return t.db.Update(func(txn *badger.Txn) error {
		return txn.Set(indexkey.PubkeyApprovalKey(pubkey), boolBytes(approved))
	})
}

func (t *T) eventApprovedTxn(txn *badger.Txn, id []byte) (approved, has bool) {
	item, err := txn.Get(indexkey.EventApprovalKey(id))
	if err != nil {
		return false, false
	}
	b, err := item.ValueCopy(nil)
	if err != nil {
		return false, false
	}
	return len(b) > 0 && b[0] == 1, true
}

func (t *T) pubkeyApprovedTxn(txn *badger.Txn, pubkey []byte) (approved, has bool) {
	item, err := txn.Get(indexkey.PubkeyApprovalKey(pubkey))
	if err != nil {
		return false, false
	}
	b, err := item.ValueCopy(nil)
	if err != nil {
		return false, false
	}
	return len(b) > 0 && b[0] == 1, true
}

// EventApproved reports the event_approval overlay for id, and whether a
// row exists at all.
func (t *T) EventApproved(id []byte) (approved, has bool) {
	_ = t.db.View(func(txn *badger.Txn) error {
		approved, has = t.eventApprovedTxn(txn, id)
		return nil
	})
	return
}

// PubkeyApproved reports the pubkey_approval overlay for pubkey.
func (t *T) PubkeyApproved(pubkey []byte) (approved, has bool) {
	_ = t.db.View(func(txn *badger.Txn) error {
		approved, has = t.pubkeyApprovedTxn(txn, pubkey)
		return nil
	})
	return
}

// SetAuthorizedUser upserts the authorized_user row for ordinary
// authorized users. Moderators have their own rows (see SetModerator).
func (t *T) SetAuthorizedUser(pubkey []byte, authorized bool) error {
	return t.db.Update(func(txn *badger.Txn) error {
		return txn.Set(indexkey.AuthorizedUserKey(pubkey), boolBytes(authorized))
	})
}

// IsAuthorizedUser reports whether pubkey is marked as an authorized_user.
func (t *T) IsAuthorizedUser(pubkey []byte) (authorized bool) {
	_ = t.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(indexkey.AuthorizedUserKey(pubkey))
		if err != nil {
			return nil
		}
		b, err := item.ValueCopy(nil)
		if err != nil {
			return nil
		}
		authorized = len(b) > 0 && b[0] == 1
		return nil
	})
	return
}

func (t *T) scanApprovals(prefix []byte, approved bool) (ids [][]byte) {
	_ = t.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			b, err := item.ValueCopy(nil)
			if err != nil || len(b) == 0 {
				continue
			}
			if (b[0] == 1) != approved {
				continue
			}
			key := item.KeyCopy(nil)
			ids = append(ids, append([]byte{}, key[len(prefix):]...))
		}
		return nil
	})
	return
}

// ListBannedEvents returns the ids with a false event_approval row.
func (t *T) ListBannedEvents() [][]byte { return t.scanApprovals(indexkey.PrefixEventApproval, false) }

// ListAllowedEvents returns the ids with a true event_approval row.
func (t *T) ListAllowedEvents() [][]byte { return t.scanApprovals(indexkey.PrefixEventApproval, true) }

// ListBannedPubkeys returns the pubkeys with a false pubkey_approval row.
func (t *T) ListBannedPubkeys() [][]byte {
	return t.scanApprovals(indexkey.PrefixPubkeyApproval, false)
}

// ListAllowedPubkeys returns the pubkeys with a true pubkey_approval row.
func (t *T) ListAllowedPubkeys() [][]byte {
	return t.scanApprovals(indexkey.PrefixPubkeyApproval, true)
}

// SetModerator upserts the moderator row, used by the management API's
// grantmoderator/revokemoderator calls.
func (t *T) SetModerator(pubkey []byte, isModerator bool) error {
	return t.db.Update(func(txn *badger.Txn) error {
		return txn.Set(indexkey.ModeratorKey(pubkey), boolBytes(isModerator))
	})
}

// IsModerator reports whether pubkey is marked as a moderator.
func (t *T) IsModerator(pubkey []byte) (is bool) {
	_ = t.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(indexkey.ModeratorKey(pubkey))
		if err != nil {
			return nil
		}
		b, err := item.ValueCopy(nil)
		if err != nil {
			return nil
		}
		is = len(b) > 0 && b[0] == 1
		return nil
	})
	return
}

// ListModerators returns every pubkey currently marked as a moderator.
func (t *T) ListModerators() (pubkeys [][]byte) {
	_ = t.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: indexkey.PrefixModerator})
		defer it.Close()
		for it.Seek(indexkey.PrefixModerator); it.ValidForPrefix(indexkey.PrefixModerator); it.Next() {
			item := it.Item()
			b, err := item.ValueCopy(nil)
			if err != nil || len(b) == 0 || b[0] != 1 {
				continue
			}
			key := item.KeyCopy(nil)
			pk := append([]byte{}, key[len(indexkey.PrefixModerator):]...)
			pubkeys = append(pubkeys, pk)
		}
		return nil
	})
	return
}

// ListAuthorizedUsers returns every pubkey currently marked as an
// authorized_user.
func (t *T) ListAuthorizedUsers() (pubkeys [][]byte) {
	_ = t.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: indexkey.PrefixAuthorizedUser})
		defer it.Close()
		for it.Seek(indexkey.PrefixAuthorizedUser); it.ValidForPrefix(indexkey.PrefixAuthorizedUser); it.Next() {
			item := it.Item()
			b, err := item.ValueCopy(nil)
			if err != nil || len(b) == 0 || b[0] != 1 {
				continue
			}
			key := item.KeyCopy(nil)
			pk := append([]byte{}, key[len(indexkey.PrefixAuthorizedUser):]...)
			pubkeys = append(pubkeys, pk)
		}
		return nil
	})
	return
}

// GetEventByOffset fetches a single event by its log offset, used by
// sessions to resolve a bus notification into the event to deliver.
func (t *T) GetEventByOffset(off indexkey.Offset) (ev *event.T, err error) {
	err = t.db.View(func(txn *badger.Txn) error {
		ev, err = t.fetchAt(txn, offsetBytes(off))
		return err
	})
	return
}

// GetIPData implements ippolicy.Store.
func (t *T) GetIPData(ip string) (d *ippolicy.Data, err error) {
	err = t.db.View(func(txn *badger.Txn) error {
		item, gerr := txn.Get(indexkey.IPDataKey(ip))
		if gerr == badger.ErrKeyNotFound {
			d = &ippolicy.Data{}
			return nil
		}
		if gerr != nil {
			return gerr
		}
		b, verr := item.ValueCopy(nil)
		if verr != nil {
			return verr
		}
		d = &ippolicy.Data{}
		return msgpack.Unmarshal(b, d)
	})
	return
}

// SetIPData implements ippolicy.Store.
func (t *T) SetIPData(ip string, d *ippolicy.Data) (err error) {
	b, err := msgpack.Marshal(d)
	if chk.E(err) {
		return
	}
	return t.db.Update(func(txn *badger.Txn) error {
		return txn.Set(indexkey.IPDataKey(ip), b)
	})
}

func boolBytes(b bool) []byte {
	if b {
		return []byte{1}
	}
	return []byte{0}
}

// AsJSON is a small diagnostic helper rendering arbitrary values as JSON
// for logging; it returns nil when v cannot be marshaled.
func AsJSON(v interface{}) []byte {
	b, err := json.Marshal(v)
	if chk.D(err) {
		return nil
	}
	return b
}
