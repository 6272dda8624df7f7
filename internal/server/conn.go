package server

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/google/uuid"

	"ircdb/internal/protocol"
)

// conn is one client connection: a session record plus the blocking
// line-read loop that drives the command processor.
type conn struct {
	netConn net.Conn
	sess    *protocol.Session
	proc    *protocol.Processor
	log     *slog.Logger

	// writeMu serializes writes: the connection loop and any number of
	// delivery watchers share the socket.
	writeMu sync.Mutex
}

func newConn(nc net.Conn, proc *protocol.Processor, log *slog.Logger) *conn {
	addr := nc.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}

	c := &conn{netConn: nc, proc: proc, log: log}
	c.sess = &protocol.Session{
		Key:  uuid.New().String(),
		Addr: addr,
		Send: c.send,
	}
	return c
}

// send writes one logical response to the client, one line at a time with
// CRLF termination. Safe for concurrent use.
func (c *conn) send(content string) error {
	if content == "" {
		return nil
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	for _, line := range strings.Split(content, "\n") {
		if _, err := c.netConn.Write([]byte(line + "\r\n")); err != nil {
			return err
		}
	}
	return nil
}

// handle runs the connection loop: read a line, parse, process, reply.
// It returns when the client disappears, quits, or turns out to be banned.
// There is no other per-connection teardown; stale presence rows are swept
// in bulk at the next process start.
func (c *conn) handle() {
	defer c.netConn.Close()

	log := c.log.With("addr", c.sess.Addr, "session", c.sess.Key)
	log.Info("client connected")
	defer log.Info("client disconnected")

	reader := bufio.NewReader(c.netConn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		log.Debug("line received", "line", line)

		req, err := protocol.Parse(line)
		if err != nil {
			// Empty line: recoverable, nothing to answer.
			continue
		}

		resp, err := c.proc.Process(c.sess, req)
		if err != nil {
			target := "*"
			reply := protocol.FormatError(c.proc.ServerName(), target, err)
			if sendErr := c.send(reply); sendErr != nil {
				return
			}
			// A ban is the one error that also costs the connection.
			if errors.Is(err, protocol.ErrYoureBanned) {
				return
			}
			continue
		}

		if resp.Close {
			// QUIT sentinel: close without transmitting anything.
			return
		}
		if resp.Content != "" {
			if err := c.send(resp.Content); err != nil {
				return
			}
		}
	}
}
