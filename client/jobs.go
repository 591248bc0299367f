package main

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Job tracks one download: per-piece progress plus terminal flags.
// completed means every piece arrived AND the aggregate re-verified;
// failed means every piece arrived but the aggregate did not match.
type Job struct {
	ID       string
	Group    string
	Filename string
	Dest     string
	NPieces  int

	mu   sync.Mutex
	have []bool

	remaining int32
	running   atomic.Bool
	completed atomic.Bool
	failed    atomic.Bool
}

func (j *Job) markHave(idx int) {
	j.mu.Lock()
	j.have[idx] = true
	j.mu.Unlock()
	atomic.AddInt32(&j.remaining, -1)
}

func (j *Job) haveCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	n := 0
	for _, v := range j.have {
		if v {
			n++
		}
	}
	return n
}

// JobTable is the process-local download table, keyed group:filename
// so the user can query status.
type JobTable struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

func NewJobTable() *JobTable {
	return &JobTable{jobs: make(map[string]*Job)}
}

// Register creates and stores a fresh job record. A re-download of the
// same group:filename replaces the previous record.
func (jt *JobTable) Register(group, filename, dest string, npieces int) *Job {
	j := &Job{
		ID:        uuid.NewString(),
		Group:     group,
		Filename:  filename,
		Dest:      dest,
		NPieces:   npieces,
		have:      make([]bool, npieces),
		remaining: int32(npieces),
	}
	j.running.Store(true)

	jt.mu.Lock()
	jt.jobs[group+":"+filename] = j
	jt.mu.Unlock()
	return j
}

// Render formats the table for show_downloads:
//
//	[D] downloading   [C] completed   [F] failed   [P] partial
func (jt *JobTable) Render() string {
	jt.mu.Lock()
	keys := make([]string, 0, len(jt.jobs))
	for k := range jt.jobs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		j := jt.jobs[k]
		have := j.haveCount()
		switch {
		case j.completed.Load():
			fmt.Fprintf(&b, "[C] %s %s\n", j.Group, j.Filename)
		case j.failed.Load():
			fmt.Fprintf(&b, "[F] %s %s\n", j.Group, j.Filename)
		case j.running.Load():
			fmt.Fprintf(&b, "[D] %s %s - %d/%d\n", j.Group, j.Filename, have, j.NPieces)
		case have > 0:
			fmt.Fprintf(&b, "[P] %s %s - %d/%d\n", j.Group, j.Filename, have, j.NPieces)
		}
	}
	jt.mu.Unlock()

	if b.Len() == 0 {
		return "No active downloads"
	}
	return strings.TrimRight(b.String(), "\n")
}
