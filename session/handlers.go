package session

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"nexrelay.dev/chk"
	"nexrelay.dev/errs"
	"nexrelay.dev/ippolicy"
	"nexrelay.dev/nostr/envelope"
	"nexrelay.dev/nostr/event"
	"nexrelay.dev/nostr/filter"
	"nexrelay.dev/nostr/hex"
	"nexrelay.dev/nostr/kind"
	"nexrelay.dev/nostr/timestamp"
)

func (s *Session) reject(idHex string, rej *errs.E) {
	chk.E(s.writeEnvelope(&envelope.OK{EventID: idHex, Accepted: false, Message: rej.Reason()}))
}

func limitOf(f *filter.T) int {
	if f.Limit != nil {
		return *f.Limit
	}
	return 0
}

func (s *Session) handleEvent(rest []json.RawMessage) {
	en, err := envelope.ParseEvent(rest)
	if err != nil {
		chk.E(s.writeEnvelope(&envelope.Notice{Message: errs.New(errs.InvalidJson, "%v", err).Error()}))
		return
	}
	ev := en.Event
	idHex := hex.Enc(ev.ID)
	if s.isBanned() {
		s.reject(idHex, errs.New(errs.RateLimited, "this ip is temporarily blocked"))
		return
	}
	if s.overEventRate() {
		s.reject(idHex, errs.New(errs.RateLimited, "slow down"))
		s.ban(ippolicy.TooFastEvents)
		return
	}
	computed, cerr := ev.ComputeID()
	if cerr != nil || !bytes.Equal(computed, ev.ID) {
		s.reject(idHex, errs.New(errs.InvalidField, "event id is computed incorrectly"))
		s.ban(ippolicy.BadProtocol)
		return
	}
	valid, verr := ev.Verify()
	if verr != nil || !valid {
		s.reject(idHex, errs.New(errs.BadSignature, "signature verification failed"))
		s.ban(ippolicy.BadProtocol)
		return
	}

	if ev.Kind.IsDeletion() {
		s.handleDeletion(ev)
		return
	}

	if ok, rej := s.decideWrite(ev); !ok {
		s.reject(idHex, rej)
		return
	}

	if ev.Kind.IsEphemeral() {
		// delivered to live subscriptions, never persisted, never
		// retrievable by a historical REQ
		s.st.Bus().PublishEphemeral(ev)
		chk.E(s.writeEnvelope(&envelope.OK{EventID: idHex, Accepted: true}))
		return
	}

	if _, err = s.st.StoreEvent(ev); err != nil {
		if e, ok2 := err.(*errs.E); ok2 {
			s.reject(idHex, e)
			return
		}
		// a raw storage failure is fatal to this connection, not the process
		s.reject(idHex, errs.New(errs.StorageError, "%v", err))
		chk.E(s.writeEnvelope(&envelope.Notice{Message: "storage failure, closing"}))
		s.teardown()
		return
	}
	chk.E(s.writeEnvelope(&envelope.OK{EventID: idHex, Accepted: true}))
}

// handleDeletion stores a kind-5 event, then processes its e/a tags,
// removing each referenced event when its author matches the deletion
// event's author and (for parameterized-replaceable targets found via an a
// tag) it is not newer than the deletion itself.
func (s *Session) handleDeletion(ev *event.T) {
	idHex := hex.Enc(ev.ID)
	if _, serr := s.st.StoreEvent(ev); serr != nil {
		if e, ok := serr.(*errs.E); ok && e.Code == errs.Duplicate {
			s.reject(idHex, e)
			return
		}
		// the removals below still apply even if the tombstone itself
		// failed to persist
		chk.E(serr)
	}
	for _, t := range ev.Tags {
		if len(t) < 2 {
			continue
		}
		switch t.Name() {
		case "e":
			target, derr := hex.Dec(t.Value())
			if derr != nil || len(target) != 32 {
				continue
			}
			f := filter.New()
			f.IDs = []string{t.Value()}
			evs, ferr := s.st.FindEvents(f, false, 0, 1, nil)
			if ferr != nil || len(evs) == 0 {
				continue
			}
			if !bytes.Equal(evs[0].Pubkey, ev.Pubkey) {
				continue
			}
			chk.E(s.st.RemoveEvent(target))
		case "a":
			parts := strings.Split(t.Value(), ":")
			if len(parts) != 3 {
				continue
			}
			kindNum, nerr := strconv.Atoi(parts[0])
			if nerr != nil {
				continue
			}
			pk, perr := hex.Dec(parts[1])
			if perr != nil || !bytes.Equal(pk, ev.Pubkey) {
				continue
			}
			f := filter.New()
			f.Kinds = []kind.T{kind.T(kindNum)}
			f.Authors = []string{parts[1]}
			f.Tags = map[string][]string{"d": {parts[2]}}
			evs, ferr := s.st.FindEvents(f, false, 0, 0, nil)
			if chk.E(ferr) {
				continue
			}
			for _, target := range evs {
				if target.CreatedAt <= ev.CreatedAt {
					chk.E(s.st.RemoveEvent(target.ID))
				}
			}
		}
	}
	chk.E(s.writeEnvelope(&envelope.OK{EventID: idHex, Accepted: true}))
}

// decideWrite applies the write policy: admins and moderators may always
// publish; kind-5 deletions are authorized per-target in handleDeletion;
// an open relay accepts anything; otherwise the publishing pubkey (the
// event's own, if it matches the authenticated session) must be an
// authorized user, or the event may be a direct message addressed to one
// via a p tag.
func (s *Session) decideWrite(ev *event.T) (ok bool, rej *errs.E) {
	authedHex := s.authedPubkey.Load()
	authorHex := hex.Enc(ev.Pubkey)

	if s.cfg.IsAdmin(authorHex) || s.st.IsModerator(ev.Pubkey) {
		return true, nil
	}
	if authedHex != "" {
		if authedPK, derr := hex.Dec(authedHex); derr == nil {
			if s.cfg.IsAdmin(authedHex) || s.st.IsModerator(authedPK) {
				return true, nil
			}
		}
	}
	if s.cfg.OpenRelay {
		return true, nil
	}
	if authedHex != "" && authedHex == authorHex && s.st.IsAuthorizedUser(ev.Pubkey) {
		return true, nil
	}
	if s.cfg.AllowDMsToUsers {
		if pv, has := ev.Tags.GetFirst("p"); has {
			if pk, derr := hex.Dec(pv.Value()); derr == nil && s.st.IsAuthorizedUser(pk) {
				return true, nil
			}
		}
	}
	if authedHex == "" {
		return false, errs.New(errs.AuthRequired, "this relay requires authentication to publish")
	}
	return false, errs.New(errs.Restricted, "not authorized to publish to this relay")
}

func (s *Session) handleReq(rest []json.RawMessage) {
	en, err := envelope.ParseReq(rest)
	if err != nil {
		chk.E(s.writeEnvelope(&envelope.Notice{Message: errs.New(errs.InvalidJson, "%v", err).Error()}))
		return
	}
	if s.isBanned() {
		chk.E(s.writeEnvelope(&envelope.Closed{SubID: en.SubID, Message: errs.New(errs.RateLimited, "this ip is temporarily blocked").Reason()}))
		return
	}
	if len(en.Filters) > s.cfg.MaxFilterCountPerSub {
		chk.E(s.writeEnvelope(&envelope.Closed{SubID: en.SubID, Message: errs.New(errs.BadRequest, "too many filters in one subscription").Reason()}))
		return
	}
	s.subsMu.Lock()
	_, exists := s.subs[en.SubID]
	subCount := len(s.subs)
	s.subsMu.Unlock()
	if !exists && subCount >= s.cfg.MaxSubscriptions {
		chk.E(s.writeEnvelope(&envelope.Closed{SubID: en.SubID, Message: errs.New(errs.RateLimited, "too many open subscriptions").Reason()}))
		s.ban(ippolicy.TooManySubscriptions)
		return
	}
	for _, f := range en.Filters {
		if !s.cfg.AllowScraping && f.IsScrapeCandidate() {
			chk.E(s.writeEnvelope(&envelope.Closed{SubID: en.SubID, Message: errs.New(errs.Restricted, "broad scans are not permitted").Reason()}))
			s.ban(ippolicy.ScrapeAttempt)
			return
		}
	}
	for _, f := range en.Filters {
		evs, ferr := s.st.FindEvents(f, true, 0, limitOf(f), nil)
		if chk.E(ferr) {
			continue
		}
		for _, ev := range evs {
			chk.E(s.writeEnvelope(&envelope.Event{SubID: en.SubID, Event: ev}))
		}
	}
	chk.E(s.writeEnvelope(&envelope.EOSE{SubID: en.SubID}))
	s.subsMu.Lock()
	s.subs[en.SubID] = en.Filters
	s.subsMu.Unlock()
}

func (s *Session) handleClose(rest []json.RawMessage) {
	en, err := envelope.ParseClose(rest)
	if chk.E(err) {
		return
	}
	s.subsMu.Lock()
	delete(s.subs, en.SubID)
	s.subsMu.Unlock()
}

func (s *Session) handleAuth(rest []json.RawMessage) {
	en, err := envelope.ParseAuthResponse(rest)
	if chk.E(err) {
		return
	}
	ev := en.Event
	idHex := hex.Enc(ev.ID)
	if ev.Kind != authEventKind {
		s.reject(idHex, errs.New(errs.InvalidField, "auth event must be kind 22242"))
		return
	}
	computed, cerr := ev.ComputeID()
	if cerr != nil || !bytes.Equal(computed, ev.ID) {
		s.reject(idHex, errs.New(errs.InvalidField, "event id is computed incorrectly"))
		return
	}
	valid, verr := ev.Verify()
	if verr != nil || !valid {
		s.reject(idHex, errs.New(errs.BadSignature, "signature verification failed"))
		s.ban(ippolicy.AuthFail)
		return
	}
	challengeTag, hasChallenge := ev.Tags.GetFirst("challenge")
	if !hasChallenge || challengeTag.Value() != s.challenge {
		s.reject(idHex, errs.New(errs.Unauthorized, "challenge does not match"))
		s.ban(ippolicy.AuthFail)
		return
	}
	if relayTag, hasRelay := ev.Tags.GetFirst("relay"); hasRelay {
		if !matchesServiceURL(relayTag.Value(), s.req) {
			s.reject(idHex, errs.New(errs.Unauthorized, "relay url does not match"))
			return
		}
	}
	age := timestamp.Now().Time().Sub(ev.CreatedAt.Time())
	if age > authTolerance || -age > authTolerance {
		s.reject(idHex, errs.New(errs.Unauthorized, "auth event is not recent"))
		return
	}
	s.authedPubkey.Store(hex.Enc(ev.Pubkey))
	chk.E(s.writeEnvelope(&envelope.OK{EventID: idHex, Accepted: true}))
}

func matchesServiceURL(relayURL string, req *http.Request) bool {
	u := strings.TrimSuffix(relayURL, "/")
	u = strings.TrimPrefix(u, "wss://")
	u = strings.TrimPrefix(u, "ws://")
	host := strings.TrimSuffix(req.Host, "/")
	return strings.EqualFold(u, host)
}

func (s *Session) handleCount(rest []json.RawMessage) {
	en, err := envelope.ParseCount(rest)
	if chk.E(err) {
		return
	}
	var total int64
	for _, f := range en.Filters {
		evs, ferr := s.st.FindEvents(f, true, 0, 0, nil)
		if chk.E(ferr) {
			continue
		}
		total += int64(len(evs))
	}
	chk.E(s.writeEnvelope(&envelope.CountResponse{SubID: en.SubID, Count: total}))
}
