package main

import (
	"strconv"
	"sync"
)

// Client is the peer process state: the session with a tracker, the
// piece server's shared-file table, and the download job table. The
// shared table has its own mutex; job records carry theirs.
type Client struct {
	trackers      []string
	advertiseHost string
	peerPort      int

	user    string // empty when not logged in
	current string // tracker that answered last; tried first

	sharedMu sync.Mutex
	shared   map[string]string // filename -> absolute path on disk

	jobs    *JobTable
	session *SessionStore // nil when session persistence is disabled
}

func NewClient(trackers []string, advertiseHost string) *Client {
	return &Client{
		trackers:      trackers,
		advertiseHost: advertiseHost,
		current:       trackers[0],
		shared:        make(map[string]string),
		jobs:          NewJobTable(),
	}
}

// selfEndpoint is the host:port this peer advertises for GETPIECE.
func (c *Client) selfEndpoint() string {
	return c.advertiseHost + ":" + strconv.Itoa(c.peerPort)
}

// shareFile registers path in the shared-file table so the piece
// server can serve it, and writes the session through.
func (c *Client) shareFile(name, path string) {
	c.sharedMu.Lock()
	c.shared[name] = path
	c.sharedMu.Unlock()
	c.persistSession()
}

func (c *Client) unshareFile(name string) {
	c.sharedMu.Lock()
	delete(c.shared, name)
	c.sharedMu.Unlock()
	c.persistSession()
}

// sharedPath looks a filename up in the shared-file table.
func (c *Client) sharedPath(name string) (string, bool) {
	c.sharedMu.Lock()
	defer c.sharedMu.Unlock()
	path, ok := c.shared[name]
	return path, ok
}

func (c *Client) sharedCopy() map[string]string {
	c.sharedMu.Lock()
	defer c.sharedMu.Unlock()
	out := make(map[string]string, len(c.shared))
	for k, v := range c.shared {
		out[k] = v
	}
	return out
}
