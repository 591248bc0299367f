package main

import (
	"math/rand"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"groupshare/common"
)

const (
	peerPortBase  = 20000
	peerPortSpan  = 15000
	peerPortTries = 40
)

// startPeerServer binds the piece listener on a random port in
// [20000, 35000], walking up to 40 sequential ports on bind failure,
// and starts the accept loop.
func (c *Client) startPeerServer() error {
	port := peerPortBase + rand.Intn(peerPortSpan)
	for try := 0; try < peerPortTries; try, port = try+1, port+1 {
		ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
		if err != nil {
			continue
		}
		c.peerPort = port
		go c.acceptPieceRequests(ln)
		return nil
	}
	return errors.Errorf("no bindable peer port after %d tries", peerPortTries)
}

func (c *Client) acceptPieceRequests(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			glog.Warningf("peer accept: %v", err)
			continue
		}
		go c.servePiece(conn)
	}
}

// servePiece handles one GETPIECE request, then closes. On success the
// reply is `OK`, a 4-byte big-endian piece length, and the raw bytes;
// every failure is a bare `ERR`.
func (c *Client) servePiece(conn net.Conn) {
	defer conn.Close()

	req, err := common.RecvText(conn)
	if err != nil {
		return
	}
	parts := strings.Fields(req)
	if len(parts) != 3 || parts[0] != "GETPIECE" {
		common.SendText(conn, "ERR")
		return
	}
	name := parts[1]
	idx, err := strconv.Atoi(parts[2])
	if err != nil {
		common.SendText(conn, "ERR")
		return
	}

	path, ok := c.sharedPath(name)
	if !ok {
		common.SendText(conn, "ERR")
		return
	}

	data, err := readPiece(path, idx)
	if err != nil {
		glog.Warningf("GETPIECE %s %d: %v", name, idx, err)
		common.SendText(conn, "ERR")
		return
	}
	if err := common.SendText(conn, "OK"); err != nil {
		return
	}
	common.SendFrame(conn, data)
}

// readPiece reads exactly piece idx of the file at path.
func readPiece(path string, idx int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open shared file")
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "stat shared file")
	}
	size := fi.Size()
	if idx < 0 || idx >= common.PieceCount(size) {
		return nil, errors.Errorf("piece %d out of range", idx)
	}

	data := make([]byte, common.PieceLength(size, idx))
	if _, err := f.ReadAt(data, int64(idx)*common.PieceSize); err != nil {
		return nil, errors.Wrapf(err, "read piece %d", idx)
	}
	return data, nil
}
