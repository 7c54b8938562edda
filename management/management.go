// Package management implements the JSON-RPC-over-HTTP moderation and
// operational introspection endpoint: a single POST route, content type
// application/nostr+json+rpc, body `{method, params}`, authorized by a
// signed Nostr event carried in the Authorization header the same way the
// Blossom and NIP-98 surfaces are.
package management

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"

	"nexrelay.dev/chk"
	"nexrelay.dev/errs"
	"nexrelay.dev/nostr/event"
	"nexrelay.dev/nostr/hex"
	"nexrelay.dev/nostr/timestamp"
	"nexrelay.dev/registry"
)

const contentType = "application/nostr+json+rpc"
const authEventKind = 27235

// T is the management endpoint, closed over the registry it introspects
// and moderates.
type T struct {
	reg *registry.T
}

// New wires the management endpoint around reg.
func New(reg *registry.T) *T { return &T{reg: reg} }

// request is the JSON-RPC envelope this endpoint accepts.
type request struct {
	Method string            `json:"method"`
	Params map[string]string `json:"params"`
}

// response is the JSON-RPC envelope this endpoint returns: result on
// success, or result plus a non-empty error string on failure.
type response struct {
	Result interface{} `json:"result"`
	Error  string      `json:"error,omitempty"`
}

// caller is an authenticated management-call principal.
type caller struct {
	pubkeyHex string
	isAdmin   bool
	isMod     bool
}

// ServeHTTP is the sole route this package registers: callers reach it by
// content type, not by a fixed path, exactly as the websocket upgrade and
// NIP-11 info document are distinguished at "/" by header rather than path.
func (t *T) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	t.reg.ConnOpened()
	defer t.reg.ConnClosed()

	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); chk.E(err) {
		writeResult(w, nil, errs.New(errs.InvalidJson, "%v", err))
		return
	}

	call, err := t.authenticate(r)
	if err != nil && req.Method != "supportedmethods" {
		writeResult(w, nil, err)
		return
	}

	result, rerr := t.dispatch(req.Method, req.Params, call)
	writeResult(w, result, rerr)
}

func writeResult(w http.ResponseWriter, result interface{}, err error) {
	resp := response{Result: result}
	status := http.StatusOK
	if err != nil {
		resp.Error = err.Error()
		status = http.StatusInternalServerError
		if e, ok := err.(*errs.E); ok {
			switch e.Code {
			case errs.AuthRequired, errs.Unauthorized:
				status = http.StatusUnauthorized
			case errs.NotImplemented:
				status = http.StatusNotImplemented
			case errs.BadRequest, errs.InvalidJson, errs.InvalidField:
				status = http.StatusBadRequest
			}
		}
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

// authenticate verifies the Authorization header's signed event the same
// way Blossom does, then resolves the signer's pubkey against the
// configured admins and the store's moderator set.
func (t *T) authenticate(r *http.Request) (call *caller, err error) {
	hdr := r.Header.Get("Authorization")
	const prefix = "Nostr "
	if !strings.HasPrefix(hdr, prefix) {
		err = errs.New(errs.AuthRequired, "missing management authorization header")
		return
	}
	raw, derr := base64.StdEncoding.DecodeString(strings.TrimPrefix(hdr, prefix))
	if derr != nil {
		err = errs.New(errs.BadRequest, "authorization header is not valid base64")
		return
	}
	ev, everr := event.Unmarshal(raw)
	if everr != nil {
		err = errs.New(errs.BadRequest, "authorization event is not valid json: %v", everr)
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
	if timestamp.Now()-ev.CreatedAt > timestamp.T(60) {
		err = errs.New(errs.Unauthorized, "authorization event is stale")
		return
	}
	pubkeyHex := hex.Enc(ev.Pubkey)
	cfg := t.reg.Config()
	call = &caller{
		pubkeyHex: pubkeyHex,
		isAdmin:   cfg.IsAdmin(pubkeyHex),
		isMod:     t.reg.Store.IsModerator(ev.Pubkey),
	}
	return
}

func (c *caller) privileged() bool { return c != nil && (c.isAdmin || c.isMod) }

func (c *caller) admin() bool { return c != nil && c.isAdmin }

// supportedMethods lists every method this endpoint recognizes, mutating
// or not. It is also the answer to the "supportedmethods" call itself.
var supportedMethods = []string{
	"supportedmethods",
	"banpubkey", "allowpubkey", "listbannedpubkeys", "listallowedpubkeys",
	"banevent", "allowevent", "listbannedevents", "listallowedevents",
	"numconnections", "uptime",
	"listadmins", "listmoderators", "grantmoderator", "revokemoderator",
	"listusers", "grantuser", "revokeuser",
}

// dispatch routes a decoded JSON-RPC call to its handler. Every mutating
// moderation call requires an authenticated admin-or-moderator caller;
// grant/revoke of moderator and user roles is admin-only, per the decision
// recorded for the source's inconsistent enforcement of this split.
func (t *T) dispatch(method string, params map[string]string, call *caller) (result interface{}, err error) {
	st := t.reg.Store
	switch method {
	case "supportedmethods":
		return supportedMethods, nil

	case "banpubkey":
		return t.requirePrivileged(call, func() (interface{}, error) { return nil, t.setPubkeyApproval(params, false) })
	case "allowpubkey":
		return t.requirePrivileged(call, func() (interface{}, error) { return nil, t.setPubkeyApproval(params, true) })
	case "listbannedpubkeys":
		return t.requirePrivileged(call, func() (interface{}, error) { return hexList(st.ListBannedPubkeys()), nil })
	case "listallowedpubkeys":
		return t.requirePrivileged(call, func() (interface{}, error) { return hexList(st.ListAllowedPubkeys()), nil })

	case "banevent":
		return t.requirePrivileged(call, func() (interface{}, error) { return nil, t.setEventApproval(params, false) })
	case "allowevent":
		return t.requirePrivileged(call, func() (interface{}, error) { return nil, t.setEventApproval(params, true) })
	case "listbannedevents":
		return t.requirePrivileged(call, func() (interface{}, error) { return hexList(st.ListBannedEvents()), nil })
	case "listallowedevents":
		return t.requirePrivileged(call, func() (interface{}, error) { return hexList(st.ListAllowedEvents()), nil })

	case "numconnections":
		return t.requirePrivileged(call, func() (interface{}, error) { return t.reg.LiveConns(), nil })
	case "uptime":
		return t.requirePrivileged(call, func() (interface{}, error) { return t.reg.Uptime().String(), nil })

	case "listadmins":
		return t.requirePrivileged(call, func() (interface{}, error) { return t.reg.Config().AdminHexKeys, nil })
	case "listmoderators":
		return t.requirePrivileged(call, func() (interface{}, error) { return hexList(st.ListModerators()), nil })
	case "grantmoderator":
		return t.requireAdmin(call, func() (interface{}, error) { return nil, t.setModerator(params, true) })
	case "revokemoderator":
		return t.requireAdmin(call, func() (interface{}, error) { return nil, t.setModerator(params, false) })

	case "listusers":
		return t.requirePrivileged(call, func() (interface{}, error) { return hexList(st.ListAuthorizedUsers()), nil })
	case "grantuser":
		return t.requireAdmin(call, func() (interface{}, error) { return nil, t.setUser(params, true) })
	case "revokeuser":
		return t.requireAdmin(call, func() (interface{}, error) { return nil, t.setUser(params, false) })

	default:
		return nil, errs.New(errs.NotImplemented, "unknown method %q", method)
	}
}

func (t *T) requirePrivileged(call *caller, fn func() (interface{}, error)) (interface{}, error) {
	if !call.privileged() {
		return nil, errs.New(errs.Unauthorized, "caller is not an admin or moderator")
	}
	return fn()
}

func (t *T) requireAdmin(call *caller, fn func() (interface{}, error)) (interface{}, error) {
	if !call.admin() {
		return nil, errs.New(errs.Unauthorized, "caller is not an admin")
	}
	return fn()
}

func hexList(rows [][]byte) []string {
	out := make([]string, len(rows))
	for i, b := range rows {
		out[i] = hex.Enc(b)
	}
	return out
}

func paramBytes(params map[string]string, key string) (b []byte, err error) {
	v, ok := params[key]
	if !ok || v == "" {
		err = errs.New(errs.InvalidField, "missing required param %q", key)
		return
	}
	if b, err = hex.Dec(v); chk.E(err) {
		err = errs.New(errs.InvalidField, "param %q is not valid hex", key)
	}
	return
}

func (t *T) setPubkeyApproval(params map[string]string, approved bool) error {
	pk, err := paramBytes(params, "pubkey")
	if err != nil {
		return err
	}
	return t.reg.Store.MarkPubkeyApproval(pk, approved)
}

func (t *T) setEventApproval(params map[string]string, approved bool) error {
	id, err := paramBytes(params, "id")
	if err != nil {
		return err
	}
	return t.reg.Store.MarkEventApproval(id, approved)
}

func (t *T) setModerator(params map[string]string, isModerator bool) error {
	pk, err := paramBytes(params, "pubkey")
	if err != nil {
		return err
	}
	return t.reg.Store.SetModerator(pk, isModerator)
}

func (t *T) setUser(params map[string]string, authorized bool) error {
	pk, err := paramBytes(params, "pubkey")
	if err != nil {
		return err
	}
	return t.reg.Store.SetAuthorizedUser(pk, authorized)
}
