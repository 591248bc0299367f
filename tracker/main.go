package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"groupshare/common"
)

func main() {
	var dataDir, adminAddr string

	root := &cobra.Command{
		Use:   "tracker <tracker_info.txt> <index>",
		Short: "Group file-sharing metadata tracker",
		Long: "Runs one tracker of the configured cluster. The config file lists " +
			"every tracker endpoint, one host:port per line; index selects this " +
			"tracker's own entry (zero-based).",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			idx, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("bad index %q", args[1])
			}
			return run(args[0], idx, dataDir, adminAddr)
		},
	}
	root.Flags().StringVar(&dataDir, "data-dir", "", "snapshot directory (default tracker_data_<index>)")
	root.Flags().StringVar(&adminAddr, "admin-addr", "", "HTTP admin listen address (disabled when empty)")

	flag.Set("logtostderr", "true")
	flag.CommandLine.Parse(nil) // cobra owns os.Args; glog just needs the flag set parsed

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath string, idx int, dataDir, adminAddr string) error {
	trackers, err := common.LoadTrackerList(configPath)
	if err != nil {
		return err
	}
	if idx < 0 || idx >= len(trackers) {
		return fmt.Errorf("index %d out of range, %d trackers configured", idx, len(trackers))
	}
	self := trackers[idx]

	if dataDir == "" {
		dataDir = "tracker_data_" + strconv.Itoa(idx)
	}
	t := NewTracker(dataDir)
	for i, addr := range trackers {
		if i != idx {
			t.peers = append(t.peers, addr)
		}
	}

	if err := t.Load(); err != nil {
		return err
	}
	journal, err := OpenJournal(dataDir + "/journal")
	if err != nil {
		return err
	}
	t.journal = journal

	_, port, err := net.SplitHostPort(self)
	if err != nil {
		return err
	}
	ln, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return fmt.Errorf("listen on %s: %v", self, err)
	}

	go t.pullFromPeers()
	if adminAddr != "" {
		go t.serveAdmin(adminAddr)
	}
	go t.Console()

	fmt.Printf("Tracker %d listening on %s\n", idx, self)
	glog.Infof("sync peers: %v", t.peers)
	t.Serve(ln)
	return nil
}
