package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"groupshare/common"
)

func main() {
	var advertiseHost, sessionPath string

	root := &cobra.Command{
		Use:   "peer <tracker_info.txt>",
		Short: "Group file-sharing peer",
		Long: "Runs a peer: a session with the tracker cluster, a local piece " +
			"server, and an interactive command prompt for group and file " +
			"operations.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], advertiseHost, sessionPath)
		},
	}
	root.Flags().StringVar(&advertiseHost, "advertise-host", "127.0.0.1",
		"host other peers use to reach this peer's piece server")
	root.Flags().StringVar(&sessionPath, "session-db", ".groupshare.db",
		"session database path (empty disables session persistence)")

	flag.Set("logtostderr", "true")
	flag.CommandLine.Parse(nil) // cobra owns os.Args; glog just needs the flag set parsed

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath, advertiseHost, sessionPath string) error {
	trackers, err := common.LoadTrackerList(configPath)
	if err != nil {
		return err
	}
	c := NewClient(trackers, advertiseHost)

	if sessionPath != "" {
		session, err := OpenSession(sessionPath)
		if err != nil {
			glog.Warningf("session persistence disabled: %v", err)
		} else {
			defer session.Close()
			c.session = session
			c.restoreSession()
		}
	}

	if err := c.startPeerServer(); err != nil {
		return err
	}
	fmt.Printf("Peer server listening on port %d\n", c.peerPort)

	c.repl(os.Stdin)
	return nil
}

// repl reads whitespace-tokenized command lines until quit or EOF.
func (c *Client) repl(in *os.File) {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := scanner.Text()
		tokens := strings.Fields(line)
		if len(tokens) == 0 {
			continue
		}
		if tokens[0] == "quit" {
			return
		}
		c.dispatch(line, tokens)
	}
}

func (c *Client) dispatch(line string, tokens []string) {
	cmd, args := tokens[0], tokens[1:]

	switch {
	case cmd == "create_user" && len(args) == 2:
		c.roundTripPrint("REGISTER " + args[0] + " " + args[1])

	case cmd == "login" && len(args) == 2:
		reply, err := c.trackerRoundTrip("LOGIN " + args[0] + " " + args[1])
		if err != nil {
			fmt.Println(err)
			return
		}
		if reply == "OK" {
			c.user = args[0]
			c.persistSession()
		}
		fmt.Println(reply)

	case cmd == "logout" && len(args) == 0:
		c.user = ""
		c.sharedMu.Lock()
		c.shared = make(map[string]string)
		c.sharedMu.Unlock()
		if c.session != nil {
			if err := c.session.Clear(); err != nil {
				glog.Warningf("session clear failed: %v", err)
			}
		}
		fmt.Println("OK")

	case cmd == "create_group" && len(args) == 1:
		if c.requireLogin() {
			c.roundTripPrint("CREATE_GROUP " + c.user + " " + args[0])
		}

	case cmd == "join_group" && len(args) == 1:
		if c.requireLogin() {
			c.roundTripPrint("JOIN_GROUP " + c.user + " " + args[0])
		}

	case cmd == "leave_group" && len(args) == 1:
		if c.requireLogin() {
			c.roundTripPrint("LEAVE_GROUP " + c.user + " " + args[0])
		}

	case cmd == "list_groups" && len(args) == 0:
		c.roundTripPrint("LIST_GROUPS")

	case cmd == "list_requests" && len(args) == 1:
		if c.requireLogin() {
			c.roundTripPrint("LIST_REQUESTS " + args[0] + " " + c.user)
		}

	case cmd == "accept_request" && len(args) == 2:
		if c.requireLogin() {
			c.roundTripPrint("ACCEPT_REQUEST " + args[0] + " " + args[1] + " " + c.user)
		}

	case cmd == "list_files" && len(args) == 1:
		if c.requireLogin() {
			c.roundTripPrint("LIST_FILES " + args[0] + " " + c.user)
		}

	case cmd == "upload_file" && len(args) == 2:
		if c.requireLogin() {
			c.uploadFile(args[0], args[1])
		}

	case cmd == "download_file":
		if c.requireLogin() {
			c.downloadFile(line)
		}

	case cmd == "show_downloads" && len(args) == 0:
		fmt.Println(c.jobs.Render())

	case cmd == "stop_share" && len(args) == 2:
		if c.requireLogin() {
			c.stopShare(args[0], args[1])
		}

	default:
		fmt.Println("Unknown command")
	}
}

// requireLogin gates identity-bearing commands.
func (c *Client) requireLogin() bool {
	if c.user == "" {
		fmt.Println("login required")
		return false
	}
	return true
}

func (c *Client) roundTripPrint(msg string) {
	reply, err := c.trackerRoundTrip(msg)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(reply)
}

// uploadFile publishes a file's manifest to the tracker and begins
// serving it. The file itself never travels to the tracker.
func (c *Client) uploadFile(group, path string) {
	pieces, fileHash, size, err := common.HashFile(path)
	if err != nil {
		fmt.Println("file read error")
		return
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	name := filepath.Base(path)
	c.shareFile(name, abs)

	msg := "UPLOAD_META " + group + " " + name + " " +
		strconv.FormatInt(size, 10) + " " + strconv.Itoa(len(pieces)) + " " +
		fileHash + " " + c.selfEndpoint() + " " + c.user + " " +
		strings.Join(pieces, " ")
	c.roundTripPrint(msg)
}

// parseDownloadCmd splits `download_file <group> <filename> <dest>[ &]`,
// reporting whether the job should detach.
func parseDownloadCmd(line string) (group, filename, dest string, background, ok bool) {
	cleaned := line
	if i := strings.LastIndexByte(cleaned, '&'); i >= 0 {
		background = true
		cleaned = cleaned[:i]
	}
	tokens := strings.Fields(cleaned)
	if len(tokens) != 4 || tokens[0] != "download_file" {
		return "", "", "", false, false
	}
	return tokens[1], tokens[2], tokens[3], background, true
}

func (c *Client) downloadFile(line string) {
	group, filename, dest, background, ok := parseDownloadCmd(line)
	if !ok {
		fmt.Println("Usage: download_file <group> <filename> <destination>")
		return
	}

	reply, err := c.trackerRoundTrip("GET_FILE_PEERS " + group + " " + filename + " " + c.user)
	if err != nil {
		fmt.Println(err)
		return
	}
	if strings.HasPrefix(reply, "ERR") {
		fmt.Println(reply)
		return
	}

	m, err := parseManifest(reply)
	if err != nil {
		fmt.Println("Error:", err)
		return
	}
	if len(m.Peers) == 0 {
		fmt.Println("No peers available")
		return
	}

	outpath := dest
	if fi, err := os.Stat(dest); err == nil && fi.IsDir() {
		outpath = filepath.Join(dest, filename)
	}
	if err := preallocate(outpath, m.Size); err != nil {
		fmt.Printf("cannot create %s: %v\n", outpath, err)
		return
	}

	job := c.jobs.Register(group, filename, outpath, len(m.PieceHashes))
	if background {
		go c.runDownloadJob(job, m)
	} else {
		c.runDownloadJob(job, m)
	}
}

// preallocate creates the destination at exactly size bytes so piece
// workers can write their disjoint ranges in any order.
func preallocate(path string, size int64) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Truncate(size)
}

func (c *Client) stopShare(group, filename string) {
	reply, err := c.trackerRoundTrip("STOP_SHARE " + group + " " + filename + " " + c.selfEndpoint())
	if err != nil {
		fmt.Println(err)
		return
	}
	c.unshareFile(filename)
	fmt.Println(reply)
}
