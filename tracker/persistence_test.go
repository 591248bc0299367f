package main

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

// TestSnapshotRoundTrip pins the load(save(S)) == S property for all
// four entity kinds and their orderings.
func TestSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	tr := NewTracker(dir)

	must(t, tr, "REGISTER alice pw1", "OK")
	must(t, tr, "REGISTER bob pw2", "OK")
	must(t, tr, "CREATE_GROUP alice grp", "OK")
	must(t, tr, "CREATE_GROUP bob other", "OK")
	must(t, tr, "JOIN_GROUP bob grp", "OK")
	must(t, tr, "ACCEPT_REQUEST grp bob alice", "OK")
	must(t, tr, "JOIN_GROUP carol grp", "OK")
	must(t, tr, "JOIN_GROUP dave grp", "OK")
	must(t, tr, uploadCmd("grp", "data.bin", "600000", "2", h1, "127.0.0.1:20001", "alice", h1, h2), "OK")
	must(t, tr, "ADD_PEER grp data.bin 127.0.0.1:20002", "OK")

	tr.mu.Lock()
	if err := tr.saveLocked(); err != nil {
		tr.mu.Unlock()
		t.Fatalf("save: %v", err)
	}
	tr.mu.Unlock()

	loaded := NewTracker(dir)
	if err := loaded.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}

	if !reflect.DeepEqual(tr.users, loaded.users) {
		t.Errorf("users differ:\n%+v\n%+v", tr.users, loaded.users)
	}
	if !reflect.DeepEqual(tr.groups, loaded.groups) {
		t.Errorf("groups differ:\n%+v\n%+v", tr.groups, loaded.groups)
	}
	if !reflect.DeepEqual(tr.requests, loaded.requests) {
		t.Errorf("requests differ:\n%+v\n%+v", tr.requests, loaded.requests)
	}
	if !reflect.DeepEqual(tr.files, loaded.files) {
		t.Errorf("files differ:\n%+v\n%+v", tr.files, loaded.files)
	}
}

// TestSnapshotSecondSaveIdentical verifies the orderings are stable:
// saving a loaded state reproduces the files byte for byte.
func TestSnapshotSecondSaveIdentical(t *testing.T) {
	dir := t.TempDir()
	tr := NewTracker(dir)
	must(t, tr, "REGISTER u p", "OK")
	must(t, tr, "CREATE_GROUP u g", "OK")
	must(t, tr, uploadCmd("g", "f", "100", "1", h1, "127.0.0.1:20001", "u", h1), "OK")

	names := []string{"users.txt", "groups.txt", "requests.txt", "files.txt"}
	first := make(map[string]string)
	for _, n := range names {
		b, err := os.ReadFile(filepath.Join(dir, n))
		if err != nil {
			t.Fatalf("read %s: %v", n, err)
		}
		first[n] = string(b)
	}

	loaded := NewTracker(dir)
	if err := loaded.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	loaded.mu.Lock()
	err := loaded.saveLocked()
	loaded.mu.Unlock()
	if err != nil {
		t.Fatalf("resave: %v", err)
	}

	for _, n := range names {
		b, err := os.ReadFile(filepath.Join(dir, n))
		if err != nil {
			t.Fatalf("reread %s: %v", n, err)
		}
		if string(b) != first[n] {
			t.Errorf("%s changed across save/load/save:\n%q\n%q", n, first[n], string(b))
		}
	}
}

func TestLoadFreshDirectory(t *testing.T) {
	tr := NewTracker(filepath.Join(t.TempDir(), "missing"))
	if err := tr.Load(); err != nil {
		t.Fatalf("fresh load must succeed: %v", err)
	}
	if len(tr.users)+len(tr.groups)+len(tr.files) != 0 {
		t.Error("fresh tracker must start empty")
	}
}

func TestFilesLineFormat(t *testing.T) {
	dir := t.TempDir()
	tr := NewTracker(dir)
	must(t, tr, "CREATE_GROUP u g", "OK")
	must(t, tr, uploadCmd("g", "f", "600000", "2", h1, "127.0.0.1:20001", "u", h1, h2), "OK")

	b, err := os.ReadFile(filepath.Join(dir, "files.txt"))
	if err != nil {
		t.Fatal(err)
	}
	want := "g f 600000 2 " + h1 + " u " + h1 + "," + h2 + " 127.0.0.1:20001\n"
	if string(b) != want {
		t.Errorf("files.txt:\nwant %q\ngot  %q", want, string(b))
	}
}

func TestRequestsFileOmitsEmptyGroups(t *testing.T) {
	dir := t.TempDir()
	tr := NewTracker(dir)
	must(t, tr, "CREATE_GROUP u g", "OK")
	must(t, tr, "JOIN_GROUP v g", "OK")
	must(t, tr, "ACCEPT_REQUEST g v u", "OK")

	b, err := os.ReadFile(filepath.Join(dir, "requests.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(string(b)) != "" {
		t.Errorf("requests.txt must omit groups with no pending requests, got %q", string(b))
	}
}
