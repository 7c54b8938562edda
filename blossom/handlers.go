package blossom

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"nexrelay.dev/chk"
	"nexrelay.dev/errs"
	"nexrelay.dev/log"
)

// Handlers wires T's operations to HTTP, enforcing the Blossom
// authorization scheme at upload and delete; GET/HEAD are left open, as
// Blossom blobs are content-addressed and unguessable.
type Handlers struct {
	blobs *T
}

// NewHandlers wraps blobs for HTTP serving.
func NewHandlers(blobs *T) *Handlers { return &Handlers{blobs: blobs} }

// Mount registers the Blossom routes on r.
func (h *Handlers) Mount(r chi.Router) {
	r.Put("/upload", h.upload)
	r.Get("/{hash}", h.download)
	r.Head("/{hash}", h.head)
	r.Delete("/{hash}", h.delete)
}

func writeErr(w http.ResponseWriter, e *errs.E) {
	status := http.StatusInternalServerError
	switch e.Code {
	case errs.AuthRequired, errs.Unauthorized:
		status = http.StatusUnauthorized
	case errs.BadRequest, errs.InvalidField, errs.InvalidJson:
		status = http.StatusBadRequest
	case errs.NotFound:
		status = http.StatusNotFound
	case errs.HashMismatch:
		status = http.StatusBadRequest
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": e.Reason()})
}

func asErr(err error) *errs.E {
	if e, ok := err.(*errs.E); ok {
		return e
	}
	return errs.New(errs.IoError, "%v", err)
}

func (h *Handlers) upload(w http.ResponseWriter, r *http.Request) {
	auth, err := ParseAuth(r)
	if err != nil {
		writeErr(w, asErr(err))
		return
	}
	if !auth.Allows("upload", firstHash(auth.Hashes)) {
		writeErr(w, errs.New(errs.Unauthorized, "authorization event does not authorize upload"))
		return
	}
	body := io.LimitReader(r.Body, 100<<20)
	meta, serr := h.blobs.Store(body, firstHash(auth.Hashes))
	if serr != nil {
		writeErr(w, asErr(serr))
		return
	}
	log.I.F("blossom upload %s by %x (%d bytes)", meta.Hash, auth.Pubkey, meta.Size)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"sha256": meta.Hash,
		"size":   meta.Size,
		"type":   meta.MimeType,
		"uploaded": meta.StoredAt.Unix(),
	})
}

func firstHash(hashes []string) string {
	if len(hashes) > 0 {
		return hashes[0]
	}
	return ""
}

func hashParam(r *http.Request) (string, error) {
	h := chi.URLParam(r, "hash")
	if i := strings.IndexByte(h, '.'); i >= 0 {
		h = h[:i] // tolerate a conventional extension suffix
	}
	h = strings.ToLower(h)
	if len(h) != 64 {
		return "", errs.New(errs.BadRequest, "blob path must be a 64-character hex sha256")
	}
	for i := 0; i < len(h); i++ {
		c := h[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", errs.New(errs.BadRequest, "blob path must be a 64-character hex sha256")
		}
	}
	return h, nil
}

func (h *Handlers) download(w http.ResponseWriter, r *http.Request) {
	hashHex, herr := hashParam(r)
	if herr != nil {
		writeErr(w, asErr(herr))
		return
	}
	meta, merr := h.blobs.Metadata(hashHex)
	if merr != nil {
		writeErr(w, asErr(merr))
		return
	}
	f, _, err := h.blobs.Retrieve(hashHex)
	if err != nil {
		writeErr(w, asErr(err))
		return
	}
	defer func() { chk.E(f.Close()) }()
	if meta.MimeType != "" {
		w.Header().Set("Content-Type", meta.MimeType)
	}
	http.ServeContent(w, r, hashHex, meta.StoredAt, f)
}

func (h *Handlers) head(w http.ResponseWriter, r *http.Request) {
	hashHex, herr := hashParam(r)
	if herr != nil {
		writeErr(w, asErr(herr))
		return
	}
	meta, err := h.blobs.Metadata(hashHex)
	if err != nil {
		writeErr(w, asErr(err))
		return
	}
	w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) delete(w http.ResponseWriter, r *http.Request) {
	hashHex, herr := hashParam(r)
	if herr != nil {
		writeErr(w, asErr(herr))
		return
	}
	auth, err := ParseAuth(r)
	if err != nil {
		writeErr(w, asErr(err))
		return
	}
	if !auth.Allows("delete", hashHex) {
		writeErr(w, errs.New(errs.Unauthorized, "authorization event does not authorize deleting this hash"))
		return
	}
	if derr := h.blobs.Delete(hashHex); derr != nil {
		writeErr(w, asErr(derr))
		return
	}
	w.WriteHeader(http.StatusOK)
}
