package main

import (
	"net"
	"testing"
	"time"
)

// startTestServer runs a tracker's accept loop on an ephemeral port.
func startTestServer(t *testing.T, tr *Tracker) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	go tr.Serve(ln)
	return ln.Addr().String()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func (t *Tracker) hasUser(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.users[name]
	return ok
}

// TestReplicationFansOut verifies a mutation on one tracker shows up on
// its peer via the fire-and-forget SYNC broadcast.
func TestReplicationFansOut(t *testing.T) {
	a := newTestTracker(t)
	b := newTestTracker(t)
	bAddr := startTestServer(t, b)
	a.peers = []string{bAddr}

	must(t, a, "REGISTER alice pw", "OK")
	waitFor(t, "replicated user", func() bool { return b.hasUser("alice") })

	// The replicated record carries the hash, so LOGIN works on the peer.
	must(t, b, "LOGIN alice pw", "OK")
}

// TestReplicationSurvivesDeadPeer: broadcasting to an unreachable peer
// must not fail the local mutation.
func TestReplicationSurvivesDeadPeer(t *testing.T) {
	a := newTestTracker(t)
	a.peers = []string{"127.0.0.1:1"}
	must(t, a, "REGISTER alice pw", "OK")
	if !a.hasUser("alice") {
		t.Fatal("local mutation must apply regardless of peers")
	}
}

func TestHandleSyncPull(t *testing.T) {
	dir := t.TempDir()
	tr := NewTracker(dir)
	j, err := OpenJournal(dir + "/journal")
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()
	tr.journal = j

	must(t, tr, "REGISTER u pw", "OK")
	must(t, tr, "CREATE_GROUP u g", "OK")

	reply := tr.handleSyncPull("1")
	want := "2 CREATE_GROUP u g\n"
	if reply != want {
		t.Errorf("pull after 1: want %q got %q", want, reply)
	}
	if got := tr.handleSyncPull("2"); got != "" {
		t.Errorf("caught-up pull must be empty, got %q", got)
	}
	if got := tr.handleSyncPull("x"); got != "ERR bad_seq" {
		t.Errorf("bad seq: got %q", got)
	}
}

func TestHandleSyncPullWithoutJournal(t *testing.T) {
	tr := newTestTracker(t)
	if got := tr.handleSyncPull("0"); got != "" {
		t.Errorf("journal-less pull must be empty, got %q", got)
	}
}

// TestPullCatchUp replays mutations a tracker missed while down: the
// restarted tracker pulls its peer's journal tail and applies it.
func TestPullCatchUp(t *testing.T) {
	aDir := t.TempDir()
	a := NewTracker(aDir)
	aj, err := OpenJournal(aDir + "/journal")
	if err != nil {
		t.Fatal(err)
	}
	defer aj.Close()
	a.journal = aj

	// Mutations applied while the other tracker was down.
	must(t, a, "REGISTER alice hash1", "OK")
	must(t, a, "CREATE_GROUP alice g", "OK")
	must(t, a, "JOIN_GROUP bob g", "OK")
	aAddr := startTestServer(t, a)

	bDir := t.TempDir()
	b := NewTracker(bDir)
	bj, err := OpenJournal(bDir + "/journal")
	if err != nil {
		t.Fatal(err)
	}
	defer bj.Close()
	b.journal = bj
	b.peers = []string{aAddr}

	b.pullFromPeers()

	if !b.hasUser("alice") {
		t.Error("pulled REGISTER not applied")
	}
	b.mu.Lock()
	g := b.groups["g"]
	reqs := append([]string(nil), b.requests["g"]...)
	b.mu.Unlock()
	if g == nil || g.Owner != "alice" {
		t.Error("pulled CREATE_GROUP not applied")
	}
	if len(reqs) != 1 || reqs[0] != "bob" {
		t.Errorf("pulled JOIN_GROUP not applied: %v", reqs)
	}

	mark, err := bj.PeerMark(aAddr)
	if err != nil {
		t.Fatal(err)
	}
	if mark != 3 {
		t.Errorf("peer mark: want 3 got %d", mark)
	}

	// A second pull finds nothing new.
	b.pullFromPeers()
	entries, err := bj.Since(0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Errorf("journal after idempotent re-pull: want 3 entries got %d", len(entries))
	}
}
