package main

import (
	"encoding/binary"
	"sync"

	badger "github.com/dgraph-io/badger/v3"
	"github.com/pkg/errors"
)

// Journal is the badger-backed mutation log. Every applied mutation is
// appended under a monotonic sequence key; peer trackers replay the
// tail via SYNC_PULL to catch up after downtime. The journal also keeps
// a per-peer high-water mark recording how far this tracker has pulled
// from each of its peers.
type Journal struct {
	db *badger.DB

	mu   sync.Mutex
	next uint64 // next sequence number to assign
}

// Entry is one journaled mutation: its local sequence number and the
// normalized command string.
type Entry struct {
	Seq uint64
	Cmd string
}

var (
	mutPrefix  = []byte("m/")
	markPrefix = []byte("p/")
)

func mutKey(seq uint64) []byte {
	key := make([]byte, len(mutPrefix)+8)
	copy(key, mutPrefix)
	binary.BigEndian.PutUint64(key[len(mutPrefix):], seq)
	return key
}

func markKey(addr string) []byte {
	key := make([]byte, 0, len(markPrefix)+len(addr))
	key = append(key, markPrefix...)
	return append(key, addr...)
}

// OpenJournal opens (or creates) the journal at dir and recovers the
// next sequence number from the highest existing key.
func OpenJournal(dir string) (*Journal, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrap(err, "open journal")
	}

	j := &Journal{db: db, next: 1}
	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Reverse: true, Prefix: mutPrefix})
		defer it.Close()
		// Seek past the last possible mutation key, then step back.
		it.Seek(mutKey(^uint64(0)))
		if it.ValidForPrefix(mutPrefix) {
			key := it.Item().Key()
			j.next = binary.BigEndian.Uint64(key[len(mutPrefix):]) + 1
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "recover journal sequence")
	}
	return j, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

// Append journals one normalized mutation and returns its sequence.
func (j *Journal) Append(cmd string) (uint64, error) {
	j.mu.Lock()
	seq := j.next
	j.next++
	j.mu.Unlock()

	err := j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(mutKey(seq), []byte(cmd))
	})
	if err != nil {
		return 0, errors.Wrapf(err, "journal append seq %d", seq)
	}
	return seq, nil
}

// Since returns up to max entries with sequence strictly greater than
// since, in order.
func (j *Journal) Since(since uint64, max int) ([]Entry, error) {
	var out []Entry
	err := j.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: mutPrefix, PrefetchValues: true, PrefetchSize: max})
		defer it.Close()
		for it.Seek(mutKey(since + 1)); it.ValidForPrefix(mutPrefix) && len(out) < max; it.Next() {
			item := it.Item()
			seq := binary.BigEndian.Uint64(item.Key()[len(mutPrefix):])
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out = append(out, Entry{Seq: seq, Cmd: string(val)})
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "journal read since %d", since)
	}
	return out, nil
}

// PeerMark returns how far this tracker has pulled from peer addr.
func (j *Journal) PeerMark(addr string) (uint64, error) {
	var mark uint64
	err := j.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(markKey(addr))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) == 8 {
				mark = binary.BigEndian.Uint64(val)
			}
			return nil
		})
	})
	if err != nil {
		return 0, errors.Wrapf(err, "read peer mark %s", addr)
	}
	return mark, nil
}

// SetPeerMark advances the pull high-water mark for peer addr.
func (j *Journal) SetPeerMark(addr string, seq uint64) error {
	val := make([]byte, 8)
	binary.BigEndian.PutUint64(val, seq)
	err := j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(markKey(addr), val)
	})
	return errors.Wrapf(err, "set peer mark %s", addr)
}
