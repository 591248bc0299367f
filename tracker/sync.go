package main

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"groupshare/common"
)

const (
	replicationTimeout = 5 * time.Second
	pullBatch          = 500 // SYNC_PULL entries per reply, stays under the frame cap
)

// broadcast fans the normalized mutation out to every peer tracker as
// `SYNC <cmd>`. Fire-and-forget: failures are logged and dropped; the
// peer catches up from the journal when it comes back.
func (t *Tracker) broadcast(cmd string) {
	for _, addr := range t.peers {
		go func(target string) {
			if err := fireAndForget(target, "SYNC "+cmd); err != nil {
				glog.Warningf("sync to %s failed: %v", target, err)
			}
		}(addr)
	}
}

func fireAndForget(addr, msg string) error {
	conn, err := net.DialTimeout("tcp", addr, replicationTimeout)
	if err != nil {
		return errors.Wrap(err, "dial")
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(replicationTimeout))

	if err := common.SendText(conn, msg); err != nil {
		return err
	}
	// Read the ack so the peer's worker completes cleanly.
	_, err = common.RecvText(conn)
	return err
}

// handleSync applies one replicated mutation without rebroadcasting.
// Unknown inner verbs are rejected outright.
func (t *Tracker) handleSync(inner string) string {
	parts := strings.Fields(inner)
	if len(parts) == 0 {
		return "ERR unknown_sync"
	}
	cmd, args := parts[0], parts[1:]

	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case cmd == "REGISTER" && len(args) == 2:
		if _, ok := t.users[args[0]]; !ok {
			t.users[args[0]] = &User{Name: args[0], Pass: args[1]}
		}

	case cmd == "CREATE_GROUP" && len(args) == 2:
		user, group := args[0], args[1]
		if _, ok := t.groups[group]; !ok {
			t.groups[group] = &Group{
				Name:    group,
				Owner:   user,
				Members: map[string]bool{user: true},
			}
		}

	case cmd == "JOIN_GROUP" && len(args) == 2:
		t.appendRequestLocked(args[0], args[1])

	case cmd == "ACCEPT_REQUEST" && len(args) == 2:
		group, user := args[0], args[1]
		if g, ok := t.groups[group]; ok && t.takeRequestLocked(user, group) {
			g.Members[user] = true
		}

	case cmd == "LEAVE_GROUP" && len(args) == 2:
		t.removeMemberLocked(args[0], args[1])

	case cmd == "UPLOAD_META" && len(args) >= 7:
		t.applyUploadSyncLocked(args)

	case cmd == "ADD_PEER" && len(args) == 3:
		if f, ok := t.files[fileKey(args[0], args[1])]; ok {
			f.Peers[args[2]] = true
		}

	case cmd == "STOP_SHARE" && len(args) == 3:
		key := fileKey(args[0], args[1])
		if f, ok := t.files[key]; ok {
			delete(f.Peers, args[2])
			if len(f.Peers) == 0 {
				delete(t.files, key)
			}
		}

	default:
		glog.Warningf("rejecting sync with unknown verb %q", cmd)
		return "ERR unknown_sync"
	}

	glog.V(1).Infof("applied sync: %s", inner)
	t.mutatedLocked(inner)
	return "OK"
}

func (t *Tracker) applyUploadSyncLocked(args []string) {
	group, name := args[0], args[1]
	size, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return
	}
	np, err := strconv.Atoi(args[3])
	if err != nil {
		return
	}
	sha, peer, user := args[4], args[5], args[6]

	var hashes []string
	for _, h := range args[7:] {
		if len(h) == 40 {
			hashes = append(hashes, h)
		}
	}
	if len(hashes) != np {
		return
	}
	t.files[fileKey(group, name)] = &File{
		Group:       group,
		Name:        name,
		Owner:       user,
		Size:        size,
		Hash:        sha,
		PieceHashes: hashes,
		Peers:       map[string]bool{peer: true},
	}
}

// handleSyncPull answers a peer's catch-up request with a batch of
// journal entries after the given sequence, one `<seq> <cmd>` per line.
// An empty reply means the peer is caught up.
func (t *Tracker) handleSyncPull(sinceArg string) string {
	since, err := strconv.ParseUint(sinceArg, 10, 64)
	if err != nil {
		return "ERR bad_seq"
	}
	if t.journal == nil {
		return ""
	}
	entries, err := t.journal.Since(since, pullBatch)
	if err != nil {
		glog.Errorf("journal read for pull failed: %v", err)
		return "ERR journal_unavailable"
	}
	var b strings.Builder
	for _, e := range entries {
		line := strconv.FormatUint(e.Seq, 10) + " " + e.Cmd + "\n"
		if b.Len() > 0 && b.Len()+len(line) > common.MaxFrame {
			break // the puller resumes from the last seq it received
		}
		b.WriteString(line)
	}
	return b.String()
}

// pullFromPeers runs once at startup, after the snapshot load. For each
// peer tracker it replays journal entries past the persisted high-water
// mark, applying them through the sync path, until the peer reports no
// more. Unreachable peers are skipped; fire-and-forget replication will
// have been lost to them anyway, and they will pull from us instead.
func (t *Tracker) pullFromPeers() {
	if t.journal == nil {
		return
	}
	for _, addr := range t.peers {
		mark, err := t.journal.PeerMark(addr)
		if err != nil {
			glog.Errorf("peer mark for %s: %v", addr, err)
			continue
		}
		applied := 0
		for {
			reply, err := roundTrip(addr, "SYNC_PULL "+strconv.FormatUint(mark, 10))
			if err != nil {
				glog.Warningf("catch-up pull from %s failed: %v", addr, err)
				break
			}
			if reply == "" || strings.HasPrefix(reply, "ERR") {
				break
			}
			last := mark
			for _, line := range strings.Split(strings.TrimRight(reply, "\n"), "\n") {
				seq, cmd, ok := splitEntry(line)
				if !ok {
					continue
				}
				t.handleSync(cmd)
				last = seq
				applied++
			}
			if last == mark {
				break
			}
			mark = last
			if err := t.journal.SetPeerMark(addr, mark); err != nil {
				glog.Errorf("persist peer mark for %s: %v", addr, err)
			}
		}
		if applied > 0 {
			glog.Infof("caught up %d mutations from %s", applied, addr)
		}
	}
}

func splitEntry(line string) (uint64, string, bool) {
	seqStr, cmd, found := strings.Cut(line, " ")
	if !found {
		return 0, "", false
	}
	seq, err := strconv.ParseUint(seqStr, 10, 64)
	if err != nil {
		return 0, "", false
	}
	return seq, cmd, true
}

func roundTrip(addr, msg string) (string, error) {
	conn, err := net.DialTimeout("tcp", addr, replicationTimeout)
	if err != nil {
		return "", errors.Wrap(err, "dial")
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(replicationTimeout))

	if err := common.SendText(conn, msg); err != nil {
		return "", err
	}
	return common.RecvText(conn)
}
