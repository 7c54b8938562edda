// Package transport implements the shared HTTP/1 server: TCP accept,
// optional TLS, and dispatch by request shape to a websocket relay
// session, the Blossom blob endpoints, the management JSON-RPC endpoint,
// or the NIP-11 info document — the one listener every client and admin
// tool connects through.
package transport

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"nexrelay.dev/blossom"
	"nexrelay.dev/chk"
	"nexrelay.dev/ippolicy"
	"nexrelay.dev/log"
	"nexrelay.dev/management"
	"nexrelay.dev/registry"
	"nexrelay.dev/session"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// T is the shared HTTP/1 server and accept loop.
type T struct {
	reg     *registry.T
	router  chi.Router
	blobs   *blossom.Handlers
	manage  *management.T
	httpSrv *http.Server
}

// New wires the router, which carries only the Blossom routes; websocket
// upgrade, management and the NIP-11 info document are dispatched at "/"
// by ServeHTTP.
func New(reg *registry.T, blobs *blossom.T, manage *management.T) *T {
	t := &T{reg: reg, manage: manage}
	t.blobs = blossom.NewHandlers(blobs)

	r := chi.NewRouter()
	t.blobs.Mount(r)
	t.router = r
	return t
}

// ServeHTTP gates every request shape on the IP policy, then dispatches
// the handful of shapes the root path serves before falling through to the
// chi router for everything else, matching the way the underlying codebase
// special-cases "/" ahead of its mux.
func (t *T) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if t.reg.Config().EnableIPBlocking && t.reg.Policy.IsBanned(remoteIP(r)) {
		http.Error(w, "banned", http.StatusForbidden)
		return
	}
	switch {
	case r.URL.Path == "/" && r.Header.Get("Upgrade") == "websocket":
		t.handleWebsocket(w, r)
	case r.URL.Path == "/" && strings.HasPrefix(r.Header.Get("Content-Type"), "application/nostr+json+rpc"):
		t.manage.ServeHTTP(w, r)
	case r.URL.Path == "/" && strings.Contains(r.Header.Get("Accept"), "application/nostr+json"):
		t.handleRelayInfo(w, r)
	case r.URL.Path == "/" && r.Method == http.MethodGet:
		t.handleLanding(w, r)
	default:
		t.router.ServeHTTP(w, r)
	}
}

func remoteIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		// first hop is the client; later entries are proxies
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (t *T) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	peer := ippolicy.NewPeer(remoteIP(r))
	conn, err := upgrader.Upgrade(w, r, nil)
	if chk.E(err) {
		return
	}
	t.reg.ConnOpened()
	defer t.reg.ConnClosed()
	log.D.F("websocket session opened for %s", peer)
	s := session.New(conn, r, peer, t.reg.Config(), t.reg.Store, t.reg.Policy)
	s.Run(t.reg.Shutdown())
}

// Serve binds addr, optionally wraps the listener in TLS, and runs the
// HTTP server until the registry's shutdown watch fires or the process
// context is cancelled, whichever comes first, joining the two with an
// errgroup the way this codebase's reverse-proxy command does for its
// paired HTTP/HTTPS listeners.
func (t *T) Serve(ctx context.Context, addr string, useTLS bool, certPath, keyPath string) error {
	ln, err := net.Listen("tcp", addr)
	if chk.E(err) {
		return err
	}
	if useTLS {
		cert, cerr := tls.LoadX509KeyPair(certPath, keyPath)
		if chk.E(cerr) {
			return cerr
		}
		ln = tls.NewListener(ln, &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12})
	}
	t.httpSrv = &http.Server{
		Handler:           cors.Default().Handler(t),
		ReadHeaderTimeout: 7 * time.Second,
		IdleTimeout:       28 * time.Second,
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.I.F("listening at %s (tls=%v)", addr, useTLS)
		if serr := t.httpSrv.Serve(ln); serr != nil && serr != http.ErrServerClosed {
			return serr
		}
		return nil
	})
	group.Go(func() error {
		select {
		case <-gctx.Done():
		case <-t.reg.Shutdown():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		t.reg.BeginShutdown()
		t.reg.AwaitDrain(shutdownCtx)
		return t.httpSrv.Shutdown(shutdownCtx)
	})
	return group.Wait()
}
