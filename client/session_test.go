package main

import (
	"path/filepath"
	"reflect"
	"testing"
)

func openTestSession(t *testing.T) *SessionStore {
	t.Helper()
	s, err := OpenSession(filepath.Join(t.TempDir(), "session.db"))
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSessionRoundTrip(t *testing.T) {
	s := openTestSession(t)

	shared := map[string]string{
		"data.bin":  "/home/u/data.bin",
		"other.bin": "/home/u/other.bin",
	}
	if err := s.Save("alice", shared); err != nil {
		t.Fatal(err)
	}

	user, got, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if user != "alice" {
		t.Errorf("user: want alice got %q", user)
	}
	if !reflect.DeepEqual(got, shared) {
		t.Errorf("shared table: want %v got %v", shared, got)
	}
}

func TestSessionClear(t *testing.T) {
	s := openTestSession(t)
	if err := s.Save("bob", map[string]string{"f": "/p/f"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Clear(); err != nil {
		t.Fatal(err)
	}
	user, shared, err := s.Load()
	if err != nil {
		t.Fatal(err)
	}
	if user != "" || len(shared) != 0 {
		t.Errorf("cleared session must be empty, got %q %v", user, shared)
	}
}

func TestSessionSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")
	s, err := OpenSession(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Save("carol", map[string]string{"f": "/p/f"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s2, err := OpenSession(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	user, shared, err := s2.Load()
	if err != nil {
		t.Fatal(err)
	}
	if user != "carol" || shared["f"] != "/p/f" {
		t.Errorf("reopened session: %q %v", user, shared)
	}
}

func TestRestoreSessionPopulatesClient(t *testing.T) {
	s := openTestSession(t)
	if err := s.Save("dave", map[string]string{"data.bin": "/p/data.bin"}); err != nil {
		t.Fatal(err)
	}

	c := NewClient([]string{"127.0.0.1:1"}, "127.0.0.1")
	c.session = s
	c.restoreSession()

	if c.user != "dave" {
		t.Errorf("user: want dave got %q", c.user)
	}
	if path, ok := c.sharedPath("data.bin"); !ok || path != "/p/data.bin" {
		t.Errorf("shared table not restored: %q %v", path, ok)
	}
}
