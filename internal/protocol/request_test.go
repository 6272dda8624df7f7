package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKnownCommands(t *testing.T) {
	tests := []struct {
		line    string
		command Command
		arg     string
	}{
		{"NICK alice", CmdNick, "alice"},
		{"nick alice", CmdNick, "alice"},
		{"USER alice host server :Alice A.", CmdUser, "alice host server :Alice A."},
		{"JOIN #test", CmdJoin, "#test"},
		{"PART #test", CmdPart, "#test"},
		{"PRIVMSG #test :hello there", CmdPrivmsg, "#test :hello there"},
		{"PING 12345", CmdPing, "12345"},
		{"PONG 12345", CmdPong, "12345"},
		{"QUIT", CmdQuit, ""},
		{"WHOIS bob", CmdWhois, "bob"},
		{"WHOWAS bob", CmdWhowas, "bob"},
		{"NAMES", CmdNames, ""},
		{"TOPIC #test :new topic", CmdTopic, "#test :new topic"},
		{"OPER admin hunter2", CmdOper, "admin hunter2"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			req, err := Parse(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.command, req.Command)
			assert.Equal(t, tt.arg, req.Argument)
		})
	}
}

func TestParseSkipsIgnoredAndUnknown(t *testing.T) {
	for _, line := range []string{"CAP LS 302", "MODE alice +i", "WHO #test", "LIST", "MOTD", "BOGUSVERB a b c"} {
		req, err := Parse(line)
		require.NoError(t, err, line)
		assert.Equal(t, CmdSkip, req.Command, line)
	}
}

func TestParseCollapsesWhitespace(t *testing.T) {
	req, err := Parse("PRIVMSG   #test    :spaced   out")
	require.NoError(t, err)
	assert.Equal(t, CmdPrivmsg, req.Command)
	assert.Equal(t, "#test :spaced out", req.Argument)
}

func TestParseEmptyLine(t *testing.T) {
	for _, line := range []string{"", "   ", "\t"} {
		_, err := Parse(line)
		assert.ErrorIs(t, err, ErrEmptyLine)
	}
}
