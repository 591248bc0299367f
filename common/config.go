package common

import (
	"bufio"
	"net"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// LoadTrackerList reads tracker_info.txt: one host:port per non-empty
// line, # comments skipped. Both binaries consume the same file.
func LoadTrackerList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open tracker config %s", path)
	}
	defer f.Close()

	var addrs []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, _, err := net.SplitHostPort(line); err != nil {
			return nil, errors.Wrapf(err, "bad tracker endpoint %q", line)
		}
		addrs = append(addrs, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "read tracker config %s", path)
	}
	if len(addrs) == 0 {
		return nil, errors.Errorf("no tracker endpoints in %s", path)
	}
	return addrs, nil
}
