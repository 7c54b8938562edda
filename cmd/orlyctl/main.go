// Command orlyctl is the admin CLI for one-shot moderation actions against
// an already-populated event store: deleting events by id or by author
// directly, bypassing the running relay's write policy.
package main

import (
	"os"

	"github.com/alexflint/go-arg"

	"nexrelay.dev/chk"
	"nexrelay.dev/config"
	"nexrelay.dev/log"
	"nexrelay.dev/nostr/filter"
	"nexrelay.dev/nostr/hex"
	"nexrelay.dev/store"
)

// deleteByIDCmd removes a single event by its hex id.
type deleteByIDCmd struct {
	ID string `arg:"positional,required" help:"hex event id to delete"`
}

// deleteByPubkeyCmd removes every event authored by a hex pubkey.
type deleteByPubkeyCmd struct {
	Pubkey string `arg:"positional,required" help:"hex author pubkey whose events should be deleted"`
}

var args struct {
	DataDir        string             `arg:"--data-dir" help:"overrides RELAY_DATA_DIR"`
	DeleteByID     *deleteByIDCmd     `arg:"subcommand:delete_by_id"`
	DeleteByPubkey *deleteByPubkeyCmd `arg:"subcommand:delete_by_pubkey"`
}

func main() {
	arg.MustParse(&args)

	cfg, err := config.New()
	if chk.T(err) {
		log.F.Ln(err)
		os.Exit(1)
	}
	if args.DataDir != "" {
		cfg.DataDir = args.DataDir
	}

	st, err := store.Open(cfg.DataDir, cfg.BroadcastBuffer)
	if chk.E(err) {
		log.F.F("failed to open event store at %s: %v", cfg.DataDir, err)
		os.Exit(1)
	}
	defer func() { chk.E(st.Close()) }()

	switch {
	case args.DeleteByID != nil:
		id, derr := hex.Dec(args.DeleteByID.ID)
		if chk.E(derr) {
			log.F.F("invalid hex id: %v", derr)
			os.Exit(1)
		}
		if err = st.RemoveEvent(id); chk.E(err) {
			log.F.F("delete_by_id failed: %v", err)
			os.Exit(1)
		}
		log.I.F("deleted event %s", args.DeleteByID.ID)

	case args.DeleteByPubkey != nil:
		if _, derr := hex.Dec(args.DeleteByPubkey.Pubkey); chk.E(derr) {
			log.F.F("invalid hex pubkey: %v", derr)
			os.Exit(1)
		}
		n, derr := deleteAllByPubkey(st, args.DeleteByPubkey.Pubkey)
		if chk.E(derr) {
			log.F.F("delete_by_pubkey failed: %v", derr)
			os.Exit(1)
		}
		log.I.F("deleted %d events authored by %s", n, args.DeleteByPubkey.Pubkey)

	default:
		log.F.Ln("specify a subcommand: delete_by_id or delete_by_pubkey")
		os.Exit(1)
	}
}

// deleteAllByPubkey finds every event authored by pubkeyHex and removes
// it, returning the count removed.
func deleteAllByPubkey(st *store.T, pubkeyHex string) (n int, err error) {
	f := filter.New()
	f.Authors = []string{pubkeyHex}
	evs, ferr := st.FindEvents(f, false, 0, 0, nil)
	if chk.E(ferr) {
		return 0, ferr
	}
	for _, ev := range evs {
		if rerr := st.RemoveEvent(ev.ID); !chk.E(rerr) {
			n++
		}
	}
	return n, nil
}
