package main

import (
	"net"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"groupshare/common"
)

const trackerTimeout = 10 * time.Second

var errAllTrackersDown = errors.New("All trackers unreachable")

// trackerRoundTrip sends one framed command, current tracker first. On
// transport failure it tries every other configured tracker in order
// and promotes the first responsive one to current.
func (c *Client) trackerRoundTrip(msg string) (string, error) {
	if reply, err := sendToEndpoint(c.current, msg); err == nil {
		return reply, nil
	}
	for _, addr := range c.trackers {
		if addr == c.current {
			continue
		}
		reply, err := sendToEndpoint(addr, msg)
		if err != nil {
			continue
		}
		glog.Infof("switched to tracker %s", addr)
		c.current = addr
		return reply, nil
	}
	return "", errAllTrackersDown
}

func sendToEndpoint(addr, msg string) (string, error) {
	conn, err := net.DialTimeout("tcp", addr, trackerTimeout)
	if err != nil {
		return "", errors.Wrapf(err, "dial %s", addr)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(trackerTimeout))

	if err := common.SendText(conn, msg); err != nil {
		return "", err
	}
	return common.RecvText(conn)
}
