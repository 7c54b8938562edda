package blossom

import (
	"bytes"
	"encoding/base64"
	"net/http"
	"strconv"
	"strings"

	"nexrelay.dev/errs"
	"nexrelay.dev/nostr/event"
	"nexrelay.dev/nostr/timestamp"
)

// authEventKind is the Blossom authorization event kind (BUD-01), the same
// family as NIP-98 HTTP auth: a short-lived signed event carrying the
// action and target hash in its tags instead of a bearer token.
const authEventKind = 24242

// Auth is a parsed and verified Blossom authorization event.
type Auth struct {
	Pubkey []byte
	Action string
	Hashes []string
}

// ParseAuth extracts and verifies the signed event carried in an
// `Authorization: Nostr <base64>` header, checking its kind, expiration and
// signature. It does not check that Action/Hashes match the request; the
// caller does that (different endpoints require different actions).
func ParseAuth(r *http.Request) (auth *Auth, err error) {
	hdr := r.Header.Get("Authorization")
	const prefix = "Nostr "
	if !strings.HasPrefix(hdr, prefix) {
		err = errs.New(errs.AuthRequired, "missing Blossom authorization header")
		return
	}
	raw, derr := base64.URLEncoding.DecodeString(strings.TrimPrefix(hdr, prefix))
	if derr != nil {
		raw, derr = base64.StdEncoding.DecodeString(strings.TrimPrefix(hdr, prefix))
	}
	if derr != nil {
		err = errs.New(errs.BadRequest, "authorization header is not valid base64")
		return
	}
	ev, uerr := event.Unmarshal(raw)
	if uerr != nil {
		err = errs.New(errs.BadRequest, "authorization event is not valid json: %v", uerr)
		return
	}
	if int(ev.Kind) != authEventKind {
		err = errs.New(errs.Unauthorized, "authorization event must be kind %d", authEventKind)
		return
	}
	computed, cerr := ev.ComputeID()
	if cerr != nil || !bytes.Equal(computed, ev.ID) {
		err = errs.New(errs.InvalidField, "authorization event id is computed incorrectly")
		return
	}
	valid, verr := ev.Verify()
	if verr != nil || !valid {
		err = errs.New(errs.BadSignature, "authorization event signature is invalid")
		return
	}
	if expTag, has := ev.Tags.GetFirst("expiration"); has {
		if secs, perr := strconv.ParseInt(expTag.Value(), 10, 64); perr == nil {
			if timestamp.Now() > timestamp.T(secs) {
				err = errs.New(errs.Unauthorized, "authorization event has expired")
				return
			}
		}
	}
	auth = &Auth{Pubkey: ev.Pubkey}
	if actions := ev.Tags.Values("t"); len(actions) > 0 {
		auth.Action = actions[0]
	}
	auth.Hashes = ev.Tags.Values("x")
	return
}

// Allows reports whether auth authorizes action against hashHex (or
// carries no hash constraint at all, as list/upload pre-auth may not know
// the hash yet for multi-file actions).
func (a *Auth) Allows(action, hashHex string) bool {
	if a.Action != action {
		return false
	}
	if len(a.Hashes) == 0 {
		return true
	}
	for _, h := range a.Hashes {
		if strings.EqualFold(h, hashHex) {
			return true
		}
	}
	return false
}
