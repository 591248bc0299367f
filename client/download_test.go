package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"groupshare/common"
)

// manifestFor hashes a seed file the way the publisher would.
func manifestFor(t *testing.T, path string, peers ...string) *Manifest {
	t.Helper()
	pieces, fileHash, size, err := common.HashFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return &Manifest{
		Size:        size,
		FileHash:    fileHash,
		PieceHashes: pieces,
		Peers:       peers,
	}
}

// newDownloader returns a client whose tracker list is unreachable, so
// the post-download ADD_PEER is attempted and dropped without a cluster.
func newDownloader(t *testing.T) *Client {
	t.Helper()
	return NewClient([]string{"127.0.0.1:1"}, "127.0.0.1")
}

func runJob(t *testing.T, c *Client, m *Manifest, group, filename, dest string) *Job {
	t.Helper()
	if err := preallocate(dest, m.Size); err != nil {
		t.Fatal(err)
	}
	job := c.jobs.Register(group, filename, dest, len(m.PieceHashes))
	c.runDownloadJob(job, m)
	return job
}

func TestDownloadTwoPieces(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, 600000)
	seedPath := writeTestFile(t, "data.bin", data)
	peer := startTestPeer(t, map[string]string{"data.bin": seedPath})

	c := newDownloader(t)
	dest := filepath.Join(t.TempDir(), "out")
	m := manifestFor(t, seedPath, peer)
	job := runJob(t, c, m, "grp", "data.bin", dest)

	if !job.completed.Load() {
		t.Fatal("job must complete")
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("downloaded bytes differ from the seed")
	}
	// A completed download is immediately servable.
	if path, ok := c.sharedPath("data.bin"); !ok || path != dest {
		t.Errorf("completed download not in shared table: %q %v", path, ok)
	}
}

func TestDownloadManyPieces(t *testing.T) {
	// More pieces than one batch, so the batch loop runs twice.
	data := bytes.Repeat([]byte{0x5C}, 9*common.PieceSize+123)
	seedPath := writeTestFile(t, "big.bin", data)
	peer := startTestPeer(t, map[string]string{"big.bin": seedPath})

	c := newDownloader(t)
	dest := filepath.Join(t.TempDir(), "out")
	m := manifestFor(t, seedPath, peer)
	job := runJob(t, c, m, "grp", "big.bin", dest)

	if !job.completed.Load() {
		t.Fatalf("job must complete, acquired %d/%d", job.haveCount(), job.NPieces)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("downloaded bytes differ from the seed")
	}
}

// TestDownloadFallsBackToSecondPeer puts a dead endpoint first in the
// peer list; every piece must still arrive from the live one.
func TestDownloadFallsBackToSecondPeer(t *testing.T) {
	data := bytes.Repeat([]byte{0x11}, 600000)
	seedPath := writeTestFile(t, "data.bin", data)
	live := startTestPeer(t, map[string]string{"data.bin": seedPath})

	c := newDownloader(t)
	dest := filepath.Join(t.TempDir(), "out")
	m := manifestFor(t, seedPath, "127.0.0.1:1", live)
	job := runJob(t, c, m, "grp", "data.bin", dest)

	if !job.completed.Load() {
		t.Fatal("job must survive a dead peer in the list")
	}
}

// TestDownloadRejectsCorruptPieces serves content that does not match
// the manifest hash for piece 0: that piece may not verify, only the
// clean piece 1 does, and the job must end partial.
func TestDownloadRejectsCorruptPieces(t *testing.T) {
	good := bytes.Repeat([]byte{0x22}, 600000)
	goodPath := writeTestFile(t, "data.bin", good)

	corrupt := append([]byte(nil), good...)
	corrupt[100] ^= 0xFF // byte flip in piece 0
	corruptPath := writeTestFile(t, "data.bin", corrupt)
	peer := startTestPeer(t, map[string]string{"data.bin": corruptPath})

	c := newDownloader(t)
	dest := filepath.Join(t.TempDir(), "out")
	m := manifestFor(t, goodPath, peer)
	job := runJob(t, c, m, "grp", "data.bin", dest)

	if job.completed.Load() {
		t.Fatal("job with a rejected piece must not complete")
	}
	if have := job.haveCount(); have != 1 {
		t.Errorf("only the clean piece may verify: have %d", have)
	}
	if _, ok := c.sharedPath("data.bin"); ok {
		t.Error("incomplete download must not be shared")
	}
}

// TestDownloadAggregateMismatchFails delivers pieces that all verify
// individually against a manifest whose whole-file hash is wrong: the
// job must fail rather than advertise.
func TestDownloadAggregateMismatchFails(t *testing.T) {
	data := bytes.Repeat([]byte{0x33}, 600000)
	seedPath := writeTestFile(t, "data.bin", data)
	peer := startTestPeer(t, map[string]string{"data.bin": seedPath})

	c := newDownloader(t)
	dest := filepath.Join(t.TempDir(), "out")
	m := manifestFor(t, seedPath, peer)
	m.FileHash = "0000000000000000000000000000000000000000"
	job := runJob(t, c, m, "grp", "data.bin", dest)

	if !job.failed.Load() {
		t.Fatal("aggregate mismatch must fail the job")
	}
	if job.completed.Load() {
		t.Fatal("failed job must not read as completed")
	}
	if _, ok := c.sharedPath("data.bin"); ok {
		t.Error("failed download must not be shared")
	}
}

func TestPreallocateSetsExactSize(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out")
	if err := preallocate(dest, 600000); err != nil {
		t.Fatal(err)
	}
	fi, err := os.Stat(dest)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Size() != 600000 {
		t.Errorf("size: want 600000 got %d", fi.Size())
	}
}
