package transport

import (
	"encoding/json"
	"net/http"
)

// relayInfo is the NIP-11 relay information document.
type relayInfo struct {
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	Pubkey        string   `json:"pubkey,omitempty"`
	Contact       string   `json:"contact,omitempty"`
	SupportedNIPs []int    `json:"supported_nips"`
	Software      string   `json:"software"`
	Version       string   `json:"version"`
	Limitation    limits   `json:"limitation"`
}

type limits struct {
	MaxMessageLength int64 `json:"max_message_length,omitempty"`
	MaxSubscriptions int   `json:"max_subscriptions,omitempty"`
	AuthRequired     bool  `json:"auth_required"`
	RestrictedWrites bool  `json:"restricted_writes"`
}

// supportedNIPs lists the NIPs this server implements: basic protocol flow
// (01), relay information document (11), event deletion (09), replaceable
// and parameterized-replaceable events (16, 33), relay-generated events for
// tag queries (12), counting (45) and HTTP auth (42, 98).
var supportedNIPs = []int{1, 9, 11, 12, 16, 33, 42, 45, 98}

func (t *T) handleRelayInfo(w http.ResponseWriter, r *http.Request) {
	cfg := t.reg.Config()
	admin := ""
	if len(cfg.AdminHexKeys) > 0 {
		admin = cfg.AdminHexKeys[0]
	}
	info := relayInfo{
		Name:          cfg.AppName,
		Description:   cfg.RelayDescription,
		Pubkey:        admin,
		Contact:       cfg.RelayContact,
		SupportedNIPs: supportedNIPs,
		Software:      "https://github.com/nexrelay/nexrelay",
		Version:       "unknown",
		Limitation: limits{
			MaxMessageLength: cfg.MaxMessageSize,
			MaxSubscriptions: cfg.MaxSubscriptions,
			AuthRequired:     !cfg.OpenRelay,
			RestrictedWrites: !cfg.OpenRelay,
		},
	}
	w.Header().Set("Content-Type", "application/nostr+json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	_ = json.NewEncoder(w).Encode(info)
}

func (t *T) handleLanding(w http.ResponseWriter, r *http.Request) {
	cfg := t.reg.Config()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(
		"<!doctype html><html><head><title>" + cfg.AppName +
			"</title></head><body><h1>" + cfg.AppName +
			"</h1><p>a nostr relay.</p></body></html>",
	))
}
