package main

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"groupshare/common"
)

// Manifest is the parsed GET_FILE_PEERS reply:
//
//	<size> <nPieces>
//	<fileSha>
//	<pieceSha1>,<pieceSha2>,…
//	PEERS
//	<peer>…
type Manifest struct {
	Size        int64
	FileHash    string
	PieceHashes []string
	Peers       []string
}

func parseManifest(reply string) (*Manifest, error) {
	lines := strings.Split(reply, "\n")
	if len(lines) < 4 {
		return nil, errors.New("manifest too short")
	}

	head := strings.Fields(lines[0])
	if len(head) != 2 {
		return nil, errors.Errorf("bad manifest header %q", lines[0])
	}
	size, err := strconv.ParseInt(head[0], 10, 64)
	if err != nil {
		return nil, errors.Wrap(err, "bad file size")
	}
	np, err := strconv.Atoi(head[1])
	if err != nil {
		return nil, errors.Wrap(err, "bad piece count")
	}

	m := &Manifest{
		Size:        size,
		FileHash:    strings.TrimSpace(lines[1]),
		PieceHashes: common.ScanHashes(lines[2]),
	}
	if len(m.PieceHashes) != np {
		return nil, errors.Errorf("hash count mismatch: %d declared, %d parsed",
			np, len(m.PieceHashes))
	}

	i := 3
	for ; i < len(lines) && lines[i] != "PEERS"; i++ {
	}
	for i++; i < len(lines); i++ {
		if peer := strings.TrimSpace(lines[i]); peer != "" {
			m.Peers = append(m.Peers, peer)
		}
	}
	return m, nil
}
