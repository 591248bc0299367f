package main

import (
	"bufio"
	"fmt"
	"net"
	"os"

	"github.com/golang/glog"

	"groupshare/common"
)

// Serve accepts connections forever, one worker per connection. A
// worker handles sequential framed commands until the peer closes or
// sends an empty frame.
func (t *Tracker) Serve(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			glog.Warningf("accept: %v", err)
			return
		}
		go t.serveConn(conn)
	}
}

func (t *Tracker) serveConn(conn net.Conn) {
	defer conn.Close()
	for {
		msg, err := common.RecvText(conn)
		if err != nil || msg == "" {
			return
		}
		if err := common.SendText(conn, t.Handle(msg)); err != nil {
			glog.Warningf("reply to %s failed: %v", conn.RemoteAddr(), err)
			return
		}
	}
}

// Console reads operator commands from stdin: save, status, quit.
// quit snapshots and exits the process.
func (t *Tracker) Console() {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		switch scanner.Text() {
		case "save":
			t.mu.Lock()
			if err := t.saveLocked(); err != nil {
				glog.Errorf("snapshot failed: %v", err)
			}
			t.mu.Unlock()
			fmt.Println("saved")
		case "status":
			users, groups, files, _ := t.counts()
			fmt.Printf("Users: %d, Groups: %d, Files: %d\n", users, groups, files)
		case "quit":
			t.shutdown()
		case "":
		default:
			fmt.Println("Unknown command")
		}
	}
	// stdin closed: same path as quit, so a supervised tracker still
	// snapshots on shutdown.
	t.shutdown()
}

func (t *Tracker) shutdown() {
	t.mu.Lock()
	if err := t.saveLocked(); err != nil {
		glog.Errorf("snapshot failed: %v", err)
	}
	t.mu.Unlock()
	if t.journal != nil {
		if err := t.journal.Close(); err != nil {
			glog.Errorf("journal close failed: %v", err)
		}
	}
	os.Exit(0)
}
