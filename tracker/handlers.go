package main

import (
	"strconv"
	"strings"

	"github.com/golang/glog"
	"golang.org/x/crypto/bcrypt"
)

// Handle dispatches one framed command and returns the reply payload.
// Mutating verbs persist and journal under the registry mutex, reply,
// and broadcast the normalized mutation to the peer trackers on a
// detached goroutine.
func (t *Tracker) Handle(raw string) string {
	parts := strings.Fields(raw)
	if len(parts) == 0 {
		return "ERR unknown_cmd"
	}
	cmd, args := parts[0], parts[1:]

	switch {
	case cmd == "REGISTER" && len(args) == 2:
		return t.register(args[0], args[1])
	case cmd == "LOGIN" && len(args) == 2:
		return t.login(args[0], args[1])
	case cmd == "CREATE_GROUP" && len(args) == 2:
		return t.createGroup(args[0], args[1])
	case cmd == "JOIN_GROUP" && len(args) == 2:
		return t.joinGroup(args[0], args[1])
	case cmd == "LIST_GROUPS" && len(args) == 0:
		return t.listGroups()
	case cmd == "LIST_REQUESTS" && len(args) == 2:
		return t.listRequests(args[0], args[1])
	case cmd == "ACCEPT_REQUEST" && len(args) == 3:
		return t.acceptRequest(args[0], args[1], args[2])
	case cmd == "LEAVE_GROUP" && len(args) == 2:
		return t.leaveGroup(args[0], args[1])
	case cmd == "LIST_FILES" && len(args) == 2:
		return t.listFiles(args[0], args[1])
	case cmd == "UPLOAD_META" && len(args) >= 7:
		return t.uploadMeta(args)
	case cmd == "GET_FILE_PEERS" && len(args) == 3:
		return t.getFilePeers(args[0], args[1], args[2])
	case cmd == "ADD_PEER" && len(args) == 3:
		return t.addPeer(args[0], args[1], args[2])
	case cmd == "STOP_SHARE" && len(args) == 3:
		return t.stopShare(args[0], args[1], args[2])
	case cmd == "SYNC" && len(args) >= 1:
		return t.handleSync(strings.Join(args, " "))
	case cmd == "SYNC_PULL" && len(args) == 1:
		return t.handleSyncPull(args[0])
	default:
		return "ERR unknown_cmd"
	}
}

// mutatedLocked finishes a mutation while the mutex is still held:
// snapshot to disk, append to the journal. The caller broadcasts after
// unlocking.
func (t *Tracker) mutatedLocked(normalized string) {
	if err := t.saveLocked(); err != nil {
		glog.Errorf("snapshot failed: %v", err)
	}
	if t.journal != nil {
		if _, err := t.journal.Append(normalized); err != nil {
			glog.Errorf("journal append failed: %v", err)
		}
	}
}

func (t *Tracker) register(user, pass string) string {
	hash, err := bcrypt.GenerateFromPassword([]byte(pass), bcrypt.DefaultCost)
	if err != nil {
		return "ERR internal"
	}

	t.mu.Lock()
	if _, ok := t.users[user]; ok {
		t.mu.Unlock()
		return "ERR user_exists"
	}
	t.users[user] = &User{Name: user, Pass: string(hash)}
	sync := "REGISTER " + user + " " + string(hash)
	t.mutatedLocked(sync)
	t.mu.Unlock()

	glog.Infof("registered user %s", user)
	go t.broadcast(sync)
	return "OK"
}

func (t *Tracker) login(user, pass string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	u, ok := t.users[user]
	if !ok {
		return "ERR user_not_found"
	}
	if bcrypt.CompareHashAndPassword([]byte(u.Pass), []byte(pass)) != nil {
		return "ERR wrong_password"
	}
	u.LoggedIn = true
	if err := t.saveLocked(); err != nil {
		glog.Errorf("snapshot failed: %v", err)
	}
	glog.Infof("user %s logged in", user)
	return "OK"
}

func (t *Tracker) createGroup(user, group string) string {
	t.mu.Lock()
	if _, ok := t.groups[group]; ok {
		t.mu.Unlock()
		return "ERR grp_exists"
	}
	t.groups[group] = &Group{
		Name:    group,
		Owner:   user,
		Members: map[string]bool{user: true},
	}
	sync := "CREATE_GROUP " + user + " " + group
	t.mutatedLocked(sync)
	t.mu.Unlock()

	glog.Infof("group %s created by %s", group, user)
	go t.broadcast(sync)
	return "OK"
}

func (t *Tracker) joinGroup(user, group string) string {
	t.mu.Lock()
	if _, ok := t.groups[group]; !ok {
		t.mu.Unlock()
		return "ERR no_group"
	}
	if t.isMember(user, group) {
		t.mu.Unlock()
		return "ERR already_member"
	}
	t.appendRequestLocked(user, group)
	sync := "JOIN_GROUP " + user + " " + group
	t.mutatedLocked(sync)
	t.mu.Unlock()

	go t.broadcast(sync)
	return "OK"
}

// appendRequestLocked coalesces duplicate requests from the same user.
func (t *Tracker) appendRequestLocked(user, group string) {
	for _, r := range t.requests[group] {
		if r == user {
			return
		}
	}
	t.requests[group] = append(t.requests[group], user)
}

func (t *Tracker) listGroups() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var b strings.Builder
	for _, g := range sortedKeys(t.groups) {
		b.WriteString(g)
		b.WriteByte('\n')
	}
	return b.String()
}

func (t *Tracker) listRequests(group, user string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.isOwner(user, group) {
		return "ERR not_owner"
	}
	var b strings.Builder
	for _, r := range t.requests[group] {
		b.WriteString(r)
		b.WriteByte('\n')
	}
	return b.String()
}

func (t *Tracker) acceptRequest(group, user, owner string) string {
	t.mu.Lock()
	if !t.isOwner(owner, group) {
		t.mu.Unlock()
		return "ERR not_owner"
	}
	if !t.takeRequestLocked(user, group) {
		t.mu.Unlock()
		return "ERR no_request"
	}
	t.groups[group].Members[user] = true
	sync := "ACCEPT_REQUEST " + group + " " + user
	t.mutatedLocked(sync)
	t.mu.Unlock()

	glog.Infof("%s accepted into %s", user, group)
	go t.broadcast(sync)
	return "OK"
}

// takeRequestLocked removes user's pending request for group, reporting
// whether one existed.
func (t *Tracker) takeRequestLocked(user, group string) bool {
	reqs := t.requests[group]
	for i, r := range reqs {
		if r == user {
			t.requests[group] = append(reqs[:i], reqs[i+1:]...)
			return true
		}
	}
	return false
}

func (t *Tracker) leaveGroup(user, group string) string {
	t.mu.Lock()
	if !t.isMember(user, group) {
		t.mu.Unlock()
		return "ERR not_member"
	}
	t.removeMemberLocked(user, group)
	sync := "LEAVE_GROUP " + user + " " + group
	t.mutatedLocked(sync)
	t.mu.Unlock()

	glog.Infof("%s left %s", user, group)
	go t.broadcast(sync)
	return "OK"
}

func (t *Tracker) listFiles(group, user string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.isMember(user, group) {
		return "ERR not_member"
	}
	var b strings.Builder
	for _, key := range sortedKeys(t.files) {
		if f := t.files[key]; f.Group == group {
			b.WriteString(f.Name)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// uploadMeta registers a file record from its publisher's manifest:
// group name size nPieces fileSha peer user pieceSha…
func (t *Tracker) uploadMeta(args []string) string {
	group, name := args[0], args[1]
	size, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return "ERR bad_size"
	}
	np, err := strconv.Atoi(args[3])
	if err != nil {
		return "ERR bad_piece_count"
	}
	sha, peer, user := args[4], args[5], args[6]

	var hashes []string
	for _, h := range args[7:] {
		if len(h) == 40 {
			hashes = append(hashes, h)
		}
	}

	t.mu.Lock()
	if !t.isMember(user, group) {
		t.mu.Unlock()
		return "ERR not_member"
	}
	if len(hashes) != np {
		t.mu.Unlock()
		return "ERR piece_count_mismatch"
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
	sync := "UPLOAD_META " + strings.Join(args, " ")
	t.mutatedLocked(sync)
	t.mu.Unlock()

	glog.Infof("file %s published in %s by %s (%d pieces)", name, group, user, np)
	go t.broadcast(sync)
	return "OK"
}

func (t *Tracker) getFilePeers(group, name, user string) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.isMember(user, group) {
		return "ERR not_member"
	}
	f, ok := t.files[fileKey(group, name)]
	if !ok {
		return "ERR no_file"
	}
	if len(f.Peers) == 0 {
		return "ERR no_peers_available"
	}

	var b strings.Builder
	b.WriteString(strconv.FormatInt(f.Size, 10))
	b.WriteByte(' ')
	b.WriteString(strconv.Itoa(len(f.PieceHashes)))
	b.WriteByte('\n')
	b.WriteString(f.Hash)
	b.WriteByte('\n')
	b.WriteString(strings.Join(f.PieceHashes, ","))
	b.WriteString("\nPEERS\n")
	for _, p := range sortedKeys(f.Peers) {
		b.WriteString(p)
		b.WriteByte('\n')
	}
	return b.String()
}

func (t *Tracker) addPeer(group, name, peer string) string {
	t.mu.Lock()
	if f, ok := t.files[fileKey(group, name)]; ok {
		f.Peers[peer] = true
	}
	sync := "ADD_PEER " + group + " " + name + " " + peer
	t.mutatedLocked(sync)
	t.mu.Unlock()

	go t.broadcast(sync)
	return "OK"
}

func (t *Tracker) stopShare(group, name, peer string) string {
	t.mu.Lock()
	key := fileKey(group, name)
	if f, ok := t.files[key]; ok {
		delete(f.Peers, peer)
		if len(f.Peers) == 0 {
			delete(t.files, key)
			glog.Infof("file %s removed from %s, no peers left", name, group)
		}
	}
	sync := "STOP_SHARE " + group + " " + name + " " + peer
	t.mutatedLocked(sync)
	t.mu.Unlock()

	go t.broadcast(sync)
	return "OK"
}
