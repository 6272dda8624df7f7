package server_test

import (
	"net"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ircdb/internal/server"
	"ircdb/internal/store"
)

// testClient is a raw line-oriented IRC client for end-to-end tests.
type testClient struct {
	t    *testing.T
	conn net.Conn
	tp   *textproto.Conn
}

func dialClient(t *testing.T, addr string) *testClient {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testClient{t: t, conn: conn, tp: textproto.NewConn(conn)}
}

func (c *testClient) sendLine(line string) {
	c.t.Helper()
	require.NoError(c.t, c.tp.PrintfLine("%s", line))
}

// waitFor reads lines until one contains want or the timeout passes.
func (c *testClient) waitFor(want string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		c.conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
		line, err := c.tp.ReadLine()
		if err != nil {
			continue
		}
		if strings.Contains(line, want) {
			c.conn.SetReadDeadline(time.Time{})
			return true
		}
	}
	c.conn.SetReadDeadline(time.Time{})
	return false
}

func startTestServer(t *testing.T, st *store.Store) *server.Server {
	t.Helper()
	srv := server.New(st, server.Options{
		Addr:       "127.0.0.1:0",
		ServerName: "testserv",
		PollPeriod: testPeriod,
	})
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })
	return srv
}

func TestEndToEndChannelTraffic(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.CreateChannel(&store.Channel{Name: "#test", Creator: "system", Topic: "test topic"}))

	srv := startTestServer(t, st)
	addr := srv.Addr().String()

	alice := dialClient(t, addr)
	alice.sendLine("NICK alice")
	require.True(t, alice.waitFor(" 001 alice ", time.Second), "alice did not get a welcome")

	alice.sendLine("JOIN #test")
	require.True(t, alice.waitFor(" 332 alice #test :test topic", time.Second), "alice did not get the topic")
	require.True(t, alice.waitFor(" 366 alice #test ", time.Second), "alice did not get end of NAMES")

	bob := dialClient(t, addr)
	bob.sendLine("NICK bob")
	require.True(t, bob.waitFor(" 001 bob ", time.Second))
	bob.sendLine("JOIN #test")
	require.True(t, bob.waitFor(" 366 bob #test ", time.Second))

	// Alice sees bob's JOIN arrive through her delivery watcher.
	require.True(t, alice.waitFor("bob", time.Second), "alice did not see bob join")

	bob.sendLine("PRIVMSG #test :hello")
	got := alice.waitFor("hello", time.Second)
	require.True(t, got, "alice did not receive bob's message within a poll period")

	// Bob's own watcher must not echo his message back.
	assert.False(t, bob.waitFor("hello", 5*testPeriod))
}

func TestEndToEndNicknameConflict(t *testing.T) {
	st := newTestStore(t)
	srv := startTestServer(t, st)
	addr := srv.Addr().String()

	first := dialClient(t, addr)
	first.sendLine("NICK carol")
	require.True(t, first.waitFor(" 001 carol ", time.Second))

	second := dialClient(t, addr)
	second.sendLine("NICK carol")
	require.True(t, second.waitFor(" 433 ", time.Second), "expected nickname-in-use numeric")

	// The losing connection stays open for another try.
	second.sendLine("NICK carol2")
	require.True(t, second.waitFor(" 001 carol2 ", time.Second))
}

func TestEndToEndQuitBroadcastsPart(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.CreateChannel(&store.Channel{Name: "#test"}))
	srv := startTestServer(t, st)
	addr := srv.Addr().String()

	alice := dialClient(t, addr)
	alice.sendLine("NICK alice")
	require.True(t, alice.waitFor(" 001 alice ", time.Second))
	alice.sendLine("JOIN #test")
	require.True(t, alice.waitFor(" 366 ", time.Second))

	bob := dialClient(t, addr)
	bob.sendLine("NICK bob")
	require.True(t, bob.waitFor(" 001 bob ", time.Second))
	bob.sendLine("JOIN #test")
	require.True(t, bob.waitFor(" 366 ", time.Second))

	bob.sendLine("QUIT")

	require.True(t, alice.waitFor("PART #test", time.Second),
		"alice did not see bob's departure within a poll period")

	u, err := st.GetUserByNick("bob")
	require.NoError(t, err)
	assert.False(t, u.IsConnected)
	ms, err := st.ListMembershipsByUser(u.ID)
	require.NoError(t, err)
	assert.Empty(t, ms)
}

func TestEndToEndBannedAddressIsDisconnected(t *testing.T) {
	st := newTestStore(t)
	require.NoError(t, st.CreateBan(&store.Ban{IsIP: true, Content: "127.0.0.1"}))
	srv := startTestServer(t, st)

	c := dialClient(t, srv.Addr().String())
	c.sendLine("NICK mallory")
	require.True(t, c.waitFor(" 465 ", time.Second), "expected banned numeric")

	// The server hangs up after notifying.
	c.conn.SetReadDeadline(time.Now().Add(time.Second))
	for {
		if _, err := c.tp.ReadLine(); err != nil {
			break
		}
	}
}
