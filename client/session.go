package main

import (
	"github.com/boltdb/bolt"
	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// SessionStore persists the login session and the shared-file table in
// a bolt database so a restarted peer resumes seeding what it held.
// The listener port is not persisted: it is random per process. The
// new endpoint is advertised only for a file that is uploaded or
// downloaded again; restored files are not re-advertised at startup.
type SessionStore struct {
	db *bolt.DB
}

var (
	sessionBucket = []byte("session")
	sharedBucket  = []byte("shared")
	userKey       = []byte("user")
)

func OpenSession(path string) (*SessionStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, errors.Wrap(err, "open session db")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(sessionBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(sharedBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "init session buckets")
	}
	return &SessionStore{db: db}, nil
}

func (s *SessionStore) Close() error {
	return s.db.Close()
}

// Save replaces the stored session with the given user and shared map.
func (s *SessionStore) Save(user string, shared map[string]string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(sessionBucket).Put(userKey, []byte(user)); err != nil {
			return err
		}
		if err := tx.DeleteBucket(sharedBucket); err != nil {
			return err
		}
		b, err := tx.CreateBucket(sharedBucket)
		if err != nil {
			return err
		}
		for name, path := range shared {
			if err := b.Put([]byte(name), []byte(path)); err != nil {
				return err
			}
		}
		return nil
	})
	return errors.Wrap(err, "save session")
}

// Load returns the stored user and shared-file table.
func (s *SessionStore) Load() (string, map[string]string, error) {
	var user string
	shared := make(map[string]string)
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(sessionBucket).Get(userKey); v != nil {
			user = string(v)
		}
		return tx.Bucket(sharedBucket).ForEach(func(k, v []byte) error {
			shared[string(k)] = string(v)
			return nil
		})
	})
	if err != nil {
		return "", nil, errors.Wrap(err, "load session")
	}
	return user, shared, nil
}

// Clear wipes the session on logout.
func (s *SessionStore) Clear() error {
	return s.Save("", nil)
}

// persistSession writes the current session through the store, if one
// is open. Failures are diagnostics, not operation failures.
func (c *Client) persistSession() {
	if c.session == nil {
		return
	}
	if err := c.session.Save(c.user, c.sharedCopy()); err != nil {
		glog.Warningf("session save failed: %v", err)
	}
}

// restoreSession repopulates login state and the shared table from the
// store at startup.
func (c *Client) restoreSession() {
	if c.session == nil {
		return
	}
	user, shared, err := c.session.Load()
	if err != nil {
		glog.Warningf("session restore failed: %v", err)
		return
	}
	c.user = user
	c.sharedMu.Lock()
	for name, path := range shared {
		c.shared[name] = path
	}
	c.sharedMu.Unlock()
}
