package main

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"groupshare/common"
)

// Snapshot layout: four text files in the tracker's data directory.
//
//	users.txt    name pass
//	groups.txt   group owner member…
//	requests.txt group user…        (groups with no requests omitted)
//	files.txt    group file size nPieces sha owner p1,p2,… peer…
//
// Entries are written in sorted order so save/load round-trips exactly.

// saveLocked snapshots the whole registry. Callers hold t.mu; the spec
// holds the mutex across validation, mutation and snapshot write.
func (t *Tracker) saveLocked() error {
	if err := os.MkdirAll(t.dataDir, 0755); err != nil {
		return errors.Wrap(err, "create data dir")
	}

	var users strings.Builder
	for _, name := range sortedKeys(t.users) {
		u := t.users[name]
		users.WriteString(u.Name + " " + u.Pass + "\n")
	}
	if err := writeSnapshotFile(t.dataDir, "users.txt", users.String()); err != nil {
		return err
	}

	var groups strings.Builder
	for _, name := range sortedKeys(t.groups) {
		g := t.groups[name]
		groups.WriteString(g.Name + " " + g.Owner)
		for _, m := range sortedKeys(g.Members) {
			groups.WriteString(" " + m)
		}
		groups.WriteByte('\n')
	}
	if err := writeSnapshotFile(t.dataDir, "groups.txt", groups.String()); err != nil {
		return err
	}

	var requests strings.Builder
	for _, group := range sortedKeys(t.requests) {
		reqs := t.requests[group]
		if len(reqs) == 0 {
			continue
		}
		requests.WriteString(group)
		for _, u := range reqs {
			requests.WriteString(" " + u)
		}
		requests.WriteByte('\n')
	}
	if err := writeSnapshotFile(t.dataDir, "requests.txt", requests.String()); err != nil {
		return err
	}

	var files strings.Builder
	for _, key := range sortedKeys(t.files) {
		f := t.files[key]
		files.WriteString(f.Group + " " + f.Name + " " +
			strconv.FormatInt(f.Size, 10) + " " +
			strconv.Itoa(len(f.PieceHashes)) + " " +
			f.Hash + " " + f.Owner + " " +
			strings.Join(f.PieceHashes, ","))
		for _, p := range sortedKeys(f.Peers) {
			files.WriteString(" " + p)
		}
		files.WriteByte('\n')
	}
	return writeSnapshotFile(t.dataDir, "files.txt", files.String())
}

func writeSnapshotFile(dir, name, content string) error {
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return errors.Wrapf(err, "write %s", name)
	}
	return nil
}

// Load restores the registry from the snapshot directory. Missing files
// mean a fresh tracker, not an error.
func (t *Tracker) Load() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := eachLine(t.dataDir, "users.txt", func(fields []string) {
		if len(fields) >= 2 {
			t.users[fields[0]] = &User{Name: fields[0], Pass: fields[1]}
		}
	}); err != nil {
		return err
	}

	if err := eachLine(t.dataDir, "groups.txt", func(fields []string) {
		if len(fields) < 2 {
			return
		}
		g := &Group{Name: fields[0], Owner: fields[1], Members: make(map[string]bool)}
		for _, m := range fields[2:] {
			g.Members[m] = true
		}
		t.groups[g.Name] = g
	}); err != nil {
		return err
	}

	if err := eachLine(t.dataDir, "requests.txt", func(fields []string) {
		if len(fields) >= 2 {
			t.requests[fields[0]] = append([]string(nil), fields[1:]...)
		}
	}); err != nil {
		return err
	}

	if err := eachLine(t.dataDir, "files.txt", func(fields []string) {
		if len(fields) < 7 {
			return
		}
		size, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return
		}
		np, err := strconv.Atoi(fields[3])
		if err != nil {
			return
		}
		hashes := common.ScanHashes(fields[6])
		if len(hashes) != np {
			glog.Warningf("files.txt: %s/%s piece hash count %d != %d, skipping",
				fields[0], fields[1], len(hashes), np)
			return
		}
		f := &File{
			Group:       fields[0],
			Name:        fields[1],
			Owner:       fields[5],
			Size:        size,
			Hash:        fields[4],
			PieceHashes: hashes,
			Peers:       make(map[string]bool),
		}
		for _, p := range fields[7:] {
			f.Peers[p] = true
		}
		if len(f.Peers) == 0 {
			return
		}
		t.files[fileKey(f.Group, f.Name)] = f
	}); err != nil {
		return err
	}

	glog.Infof("loaded snapshot: %d users, %d groups, %d files",
		len(t.users), len(t.groups), len(t.files))
	return nil
}

func eachLine(dir, name string, fn func(fields []string)) error {
	f, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "open %s", name)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) > 0 {
			fn(fields)
		}
	}
	return errors.Wrapf(scanner.Err(), "read %s", name)
}
