package core

import (
	"crypto/sha256"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// writeLedger remembers the last state broadcast for each key: own writes
// and ingested changes alike. A notification repeating that state within the
// window is an echo and is not broadcast again.
type writeLedger struct {
	entries *ttlcache.Cache[Key, ledgerEntry]
}

type ledgerEntry struct {
	sum     [sha256.Size]byte
	deleted bool
}

func newWriteLedger(window time.Duration) *writeLedger {
	return &writeLedger{
		// entries older than the window no longer match a notification
		entries: ttlcache.New[Key, ledgerEntry](
			ttlcache.WithTTL[Key, ledgerEntry](window),
			ttlcache.WithDisableTouchOnHit[Key, ledgerEntry](),
		),
	}
}

func (l *writeLedger) recordWrite(k Key, raw []byte) {
	l.entries.DeleteExpired()
	l.entries.Set(k, ledgerEntry{sum: sha256.Sum256(raw)}, ttlcache.DefaultTTL)
}

func (l *writeLedger) recordDelete(k Key) {
	l.entries.DeleteExpired()
	l.entries.Set(k, ledgerEntry{deleted: true}, ttlcache.DefaultTTL)
}

// record remembers an ingested change as the last broadcast state of its key.
func (l *writeLedger) record(ev ChangeEvent) {
	if ev.Kind == EventDeleted {
		l.recordDelete(ev.Key())
		return
	}
	l.recordWrite(ev.Key(), ev.Raw)
}

// isEcho reports whether ev describes the state last broadcast for its key.
// A match consumes the entry.
func (l *writeLedger) isEcho(ev ChangeEvent) bool {
	k := ev.Key()
	item := l.entries.Get(k)
	if item == nil {
		return false
	}

	entry := item.Value()
	var match bool
	switch ev.Kind {
	case EventDeleted:
		match = entry.deleted
	case EventUpdated:
		match = !entry.deleted && entry.sum == sha256.Sum256(ev.Raw)
	}
	if match {
		l.entries.Delete(k)
	}
	return match
}

func (l *writeLedger) len() int {
	return l.entries.Len()
}
