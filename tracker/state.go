package main

import (
	"sort"
	"sync"
)

// User is a registered account. Passwords are stored as bcrypt hashes;
// the hash is what snapshots and replicates.
type User struct {
	Name     string
	Pass     string
	LoggedIn bool
}

// Group is a named membership set with exactly one owner. The owner is
// always a member.
type Group struct {
	Name    string
	Owner   string
	Members map[string]bool
}

// File is a published file record keyed by group:name. Peers is the set
// of endpoints currently offering the file; a record with no peers does
// not exist.
type File struct {
	Group       string
	Name        string
	Owner       string
	Size        int64
	Hash        string
	PieceHashes []string
	Peers       map[string]bool
}

// Tracker owns the registry and everything that hangs off a mutation:
// the snapshot directory, the mutation journal, and the peer tracker
// list used for replication. One mutex serializes all access.
type Tracker struct {
	mu       sync.Mutex
	users    map[string]*User
	groups   map[string]*Group
	requests map[string][]string // group -> requesters in insertion order
	files    map[string]*File    // fileKey -> record

	peers   []string // every configured tracker except self
	dataDir string
	journal *Journal // nil when journaling is disabled (tests)
}

func NewTracker(dataDir string) *Tracker {
	return &Tracker{
		users:    make(map[string]*User),
		groups:   make(map[string]*Group),
		requests: make(map[string][]string),
		files:    make(map[string]*File),
		dataDir:  dataDir,
	}
}

func fileKey(group, name string) string {
	return group + ":" + name
}

// callers hold t.mu
func (t *Tracker) isMember(user, group string) bool {
	g, ok := t.groups[group]
	return ok && g.Members[user]
}

// callers hold t.mu
func (t *Tracker) isOwner(user, group string) bool {
	g, ok := t.groups[group]
	return ok && g.Owner == user
}

// removeMemberLocked applies the full departure cascade: drop the
// member, drop every file in the group they own, then either transfer
// ownership to the smallest remaining member name or dissolve the group
// along with its pending requests.
func (t *Tracker) removeMemberLocked(user, group string) {
	g, ok := t.groups[group]
	if !ok || !g.Members[user] {
		return
	}
	delete(g.Members, user)

	for key, f := range t.files {
		if f.Group == group && f.Owner == user {
			delete(t.files, key)
		}
	}

	if g.Owner == user {
		if len(g.Members) == 0 {
			delete(t.groups, group)
			delete(t.requests, group)
			return
		}
		g.Owner = smallestMember(g.Members)
	}
}

func smallestMember(members map[string]bool) string {
	names := make([]string, 0, len(members))
	for m := range members {
		names = append(names, m)
	}
	sort.Strings(names)
	return names[0]
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// counts returns registry sizes plus the number of distinct peer
// endpoints across file records, for the console and admin surfaces.
func (t *Tracker) counts() (users, groups, files, peers int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	seen := make(map[string]bool)
	for _, f := range t.files {
		for p := range f.Peers {
			seen[p] = true
		}
	}
	return len(t.users), len(t.groups), len(t.files), len(seen)
}
