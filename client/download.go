package main

import (
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"groupshare/common"
)

const (
	maxSimPieces = 8
	pieceRetries = 2
	pieceTimeout = 15 * time.Second
)

// runDownloadJob pulls every piece of the manifest into dest, which the
// caller has already created, truncated to size, and registered in the
// job table. Pieces are processed in contiguous batches of up to
// maxSimPieces, one worker per piece; each batch fully joins before the
// next starts. Workers try peers in the given order, two attempts per
// peer, and stop at the first verified piece.
//
// When every piece arrives, the file is re-hashed from disk and the
// aggregate compared against the tracker's manifest. Only on a match
// does the peer advertise itself with ADD_PEER and begin serving the
// file; a mismatch fails the job.
func (c *Client) runDownloadJob(job *Job, m *Manifest) {
	out, err := os.OpenFile(job.Dest, os.O_WRONLY, 0)
	if err != nil {
		glog.Errorf("download %s/%s: open destination: %v", job.Group, job.Filename, err)
		job.running.Store(false)
		return
	}
	defer out.Close()

	np := len(m.PieceHashes)
	for start := 0; start < np; start += maxSimPieces {
		end := start + maxSimPieces
		if end > np {
			end = np
		}

		var wg sync.WaitGroup
		for idx := start; idx < end; idx++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				if c.fetchPieceAnyPeer(out, job.Filename, idx, m) {
					job.markHave(idx)
				}
			}(idx)
		}
		wg.Wait()
	}

	job.running.Store(false)
	if job.haveCount() != np {
		glog.Warningf("download %s/%s: %d/%d pieces acquired",
			job.Group, job.Filename, job.haveCount(), np)
		return
	}

	c.finishDownload(job, m)
}

// fetchPieceAnyPeer walks the peer list for one piece: per peer, up to
// pieceRetries attempts; the first success wins.
func (c *Client) fetchPieceAnyPeer(out *os.File, filename string, idx int, m *Manifest) bool {
	expected := m.PieceHashes[idx]
	for _, peer := range m.Peers {
		for attempt := 0; attempt < pieceRetries; attempt++ {
			if err := fetchPiece(out, peer, filename, idx, expected); err != nil {
				glog.V(1).Infof("piece %d from %s (attempt %d): %v", idx, peer, attempt+1, err)
				continue
			}
			return true
		}
	}
	return false
}

// fetchPiece performs one attempt: connect, GETPIECE, length-checked
// receive, hash verify, write at the piece offset. Any failed step
// fails the attempt.
func fetchPiece(out *os.File, peer, filename string, idx int, expected string) error {
	conn, err := net.DialTimeout("tcp", peer, pieceTimeout)
	if err != nil {
		return errors.Wrapf(err, "dial %s", peer)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(pieceTimeout))

	req := "GETPIECE " + filename + " " + strconv.Itoa(idx)
	if err := common.SendText(conn, req); err != nil {
		return err
	}
	status, err := common.RecvText(conn)
	if err != nil {
		return err
	}
	if status != "OK" {
		return errors.Errorf("peer replied %q", status)
	}

	data, err := common.RecvFrameLimit(conn, common.PieceSize)
	if err != nil {
		return err
	}
	if got := common.PieceHash(data); got != expected {
		return errors.Errorf("piece %d hash mismatch: %s", idx, got)
	}

	if _, err := out.WriteAt(data, int64(idx)*common.PieceSize); err != nil {
		return errors.Wrapf(err, "write piece %d", idx)
	}
	return nil
}

// finishDownload re-verifies the assembled file end to end and, only
// then, turns the downloader into a seeder.
func (c *Client) finishDownload(job *Job, m *Manifest) {
	pieces, fileHash, size, err := common.HashFile(job.Dest)
	if err != nil {
		glog.Errorf("download %s/%s: re-hash failed: %v", job.Group, job.Filename, err)
		job.failed.Store(true)
		return
	}
	if fileHash != m.FileHash || size != m.Size || len(pieces) != len(m.PieceHashes) {
		glog.Errorf("download %s/%s: aggregate mismatch, not advertising",
			job.Group, job.Filename)
		job.failed.Store(true)
		return
	}

	job.completed.Store(true)
	if _, err := c.trackerRoundTrip("ADD_PEER " + job.Group + " " + job.Filename + " " + c.selfEndpoint()); err != nil {
		glog.Warningf("ADD_PEER after download: %v", err)
	}
	c.shareFile(job.Filename, job.Dest)
	glog.Infof("download %s/%s complete, seeding from %s", job.Group, job.Filename, job.Dest)
}
