package common

import (
	"crypto/sha1"
	"encoding/hex"
	"io"
	"os"

	"github.com/pkg/errors"
)

// PieceSize is the fixed piece granularity. The last piece of a file may
// be shorter.
const PieceSize = 512 * 1024

// PieceCount returns ceil(size / PieceSize).
func PieceCount(size int64) int {
	return int((size + PieceSize - 1) / PieceSize)
}

// PieceLength returns the byte length of piece idx of a file of the
// given size: PieceSize for every piece except the last.
func PieceLength(size int64, idx int) int64 {
	n := PieceCount(size)
	if idx == n-1 {
		return size - int64(n-1)*PieceSize
	}
	return PieceSize
}

// PieceHash is the lowercase hex SHA-1 of the piece bytes.
func PieceHash(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

// AggregateHash is the whole-file identity: SHA-1 over the concatenation
// of the piece hash hex strings, not over the raw file bytes. Both the
// publisher and the downloader recompute it this way.
func AggregateHash(pieceHashes []string) string {
	h := sha1.New()
	for _, p := range pieceHashes {
		io.WriteString(h, p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// HashFile reads path piece by piece and returns the ordered piece
// hashes, the aggregate file hash, and the file size.
func HashFile(path string) (pieces []string, fileHash string, size int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", 0, errors.Wrap(err, "open file for hashing")
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, "", 0, errors.Wrap(err, "stat file for hashing")
	}
	size = fi.Size()

	np := PieceCount(size)
	pieces = make([]string, 0, np)
	buf := make([]byte, PieceSize)
	for i := 0; i < np; i++ {
		want := PieceLength(size, i)
		if _, err := io.ReadFull(f, buf[:want]); err != nil {
			return nil, "", 0, errors.Wrapf(err, "read piece %d", i)
		}
		pieces = append(pieces, PieceHash(buf[:want]))
	}
	return pieces, AggregateHash(pieces), size, nil
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// ScanHashes extracts every 40-hex-digit run from a line. Piece hash
// lists travel comma-joined on the wire and in files.txt; scanning runs
// keeps the parse tolerant of either separator.
func ScanHashes(line string) []string {
	var out []string
	pos := 0
	for pos < len(line) {
		for pos < len(line) && !isHexDigit(line[pos]) {
			pos++
		}
		if pos+40 > len(line) {
			break
		}
		run := line[pos : pos+40]
		valid := true
		for i := 0; i < 40; i++ {
			if !isHexDigit(run[i]) {
				valid = false
				break
			}
		}
		if !valid {
			pos++
			continue
		}
		out = append(out, run)
		pos += 40
	}
	return out
}
