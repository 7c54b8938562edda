// Package blossom implements a content-addressed blob store (the event
// store's sibling for binary payloads too large to carry as event
// content) and the HTTP upload/download/delete surface described by the
// Blossom protocol, authorized by NIP-98-style signed Nostr events.
package blossom

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	sha256 "github.com/minio/sha256-simd"
	"lukechampine.com/frand"

	"nexrelay.dev/chk"
	"nexrelay.dev/errs"
	"nexrelay.dev/nostr/hex"
)

// T is the blob store. Blobs live under <root>/xx/yy/<hash> (two-level hex
// fan-out); in-flight uploads are staged under <root>/temp.
type T struct {
	root string
}

// Open ensures root and its temp subdirectory exist.
func Open(root string) (t *T, err error) {
	if err = os.MkdirAll(filepath.Join(root, "temp"), 0755); chk.E(err) {
		return
	}
	t = &T{root: root}
	return
}

func (t *T) pathFor(hashHex string) string {
	return filepath.Join(t.root, hashHex[:2], hashHex[2:4], hashHex)
}

// Metadata describes a stored blob.
type Metadata struct {
	Hash      string
	Size      int64
	MimeType  string
	StoredAt  time.Time
}

// Store streams r into a temp file, hashing and counting bytes in one
// pass, sniffs its MIME type from the first 128 bytes, verifies
// expectedHashHex when non-empty, and atomically renames the temp file
// into place. If a blob with the same hash already exists, the temp file
// is discarded and the existing copy is trusted (no re-verification).
func (t *T) Store(r io.Reader, expectedHashHex string) (meta *Metadata, err error) {
	tmp, err := os.CreateTemp(filepath.Join(t.root, "temp"), "upload-"+hex.Enc(frand.Bytes(8))+"-*")
	if chk.E(err) {
		return
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	h := sha256.New()
	var sniff [128]byte
	sniffed := 0
	size, err := io.Copy(tmp, io.TeeReader(r, io.MultiWriter(h, sniffWriter(&sniff, &sniffed))))
	if chk.E(err) {
		err = errs.New(errs.IoError, "%v", err)
		return
	}
	hashHex := hex.Enc(h.Sum(nil))
	if expectedHashHex != "" && expectedHashHex != hashHex {
		err = errs.New(errs.HashMismatch, "expected %s, got %s", expectedHashHex, hashHex)
		return
	}

	dest := t.pathFor(hashHex)
	if _, statErr := os.Stat(dest); statErr == nil {
		meta = &Metadata{
			Hash: hashHex, Size: size,
			MimeType: http.DetectContentType(sniff[:sniffed]),
			StoredAt: time.Now(),
		}
		return
	}
	if err = os.MkdirAll(filepath.Dir(dest), 0755); chk.E(err) {
		return
	}
	if err = tmp.Close(); chk.E(err) {
		return
	}
	if err = os.Rename(tmpPath, dest); chk.E(err) {
		err = errs.New(errs.IoError, "%v", err)
		return
	}
	meta = &Metadata{
		Hash: hashHex, Size: size,
		MimeType: http.DetectContentType(sniff[:sniffed]),
		StoredAt: time.Now(),
	}
	return
}

// sniffWriter copies up to len(buf) bytes written to it into buf, tracking
// how many bytes have landed there so far via n.
func sniffWriter(buf *[128]byte, n *int) io.Writer {
	return writerFunc(func(p []byte) (int, error) {
		if *n < len(buf) {
			c := copy(buf[*n:], p)
			*n += c
		}
		return len(p), nil
	})
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

// Retrieve opens the blob for hashHex for streaming.
func (t *T) Retrieve(hashHex string) (f *os.File, size int64, err error) {
	f, err = os.Open(t.pathFor(hashHex))
	if os.IsNotExist(err) {
		err = errs.New(errs.NotFound, "blob %s not found", hashHex)
		return
	}
	if chk.E(err) {
		err = errs.New(errs.IoError, "%v", err)
		return
	}
	st, statErr := f.Stat()
	if statErr != nil {
		_ = f.Close()
		err = errs.New(errs.IoError, "%v", statErr)
		return
	}
	return f, st.Size(), nil
}

// Metadata returns size and mtime for hashHex without reading the blob
// body.
func (t *T) Metadata(hashHex string) (meta *Metadata, err error) {
	st, serr := os.Stat(t.pathFor(hashHex))
	if os.IsNotExist(serr) {
		err = errs.New(errs.NotFound, "blob %s not found", hashHex)
		return
	}
	if chk.E(serr) {
		err = errs.New(errs.IoError, "%v", serr)
		return
	}
	meta = &Metadata{Hash: hashHex, Size: st.Size(), StoredAt: st.ModTime()}
	return
}

// Delete unlinks the blob for hashHex.
func (t *T) Delete(hashHex string) (err error) {
	if err = os.Remove(t.pathFor(hashHex)); err != nil {
		if os.IsNotExist(err) {
			return errs.New(errs.NotFound, "blob %s not found", hashHex)
		}
		return errs.New(errs.IoError, "%v", err)
	}
	return nil
}
