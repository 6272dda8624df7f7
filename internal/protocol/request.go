// Package protocol implements the IRC command surface: parsing one line of
// client input, dispatching it against the state store, and formatting the
// numeric replies that go back over the wire.
package protocol

import (
	"errors"
	"strings"
)

// Command is the verb of one client request.
type Command string

const (
	CmdNick    Command = "NICK"
	CmdUser    Command = "USER"
	CmdJoin    Command = "JOIN"
	CmdPart    Command = "PART"
	CmdPrivmsg Command = "PRIVMSG"
	CmdPing    Command = "PING"
	CmdPong    Command = "PONG"
	CmdQuit    Command = "QUIT"
	CmdWhois   Command = "WHOIS"
	CmdWhowas  Command = "WHOWAS"
	CmdNames   Command = "NAMES"
	CmdTopic   Command = "TOPIC"
	CmdOper    Command = "OPER"

	// CmdSkip is the sentinel for commands the server deliberately ignores
	// and for anything it does not recognize. Processing it always succeeds
	// with no visible effect.
	CmdSkip Command = "SKIP"
)

// ignored are commands clients commonly send that the server acknowledges by
// doing nothing. They must never produce an error reply.
var ignored = map[string]bool{
	"CAP":      true,
	"MODE":     true,
	"WHO":      true,
	"LIST":     true,
	"MOTD":     true,
	"AWAY":     true,
	"USERHOST": true,
}

var known = map[string]Command{
	"NICK":    CmdNick,
	"USER":    CmdUser,
	"JOIN":    CmdJoin,
	"PART":    CmdPart,
	"PRIVMSG": CmdPrivmsg,
	"PING":    CmdPing,
	"PONG":    CmdPong,
	"QUIT":    CmdQuit,
	"WHOIS":   CmdWhois,
	"WHOWAS":  CmdWhowas,
	"NAMES":   CmdNames,
	"TOPIC":   CmdTopic,
	"OPER":    CmdOper,
}

// ErrEmptyLine is the only parse failure: the line yields no command token.
// It is recoverable per line, never fatal to the connection.
var ErrEmptyLine = errors.New("protocol: empty request line")

// Request is one parsed client line. Argument is the rest of the line with
// runs of whitespace collapsed to single spaces; each command splits it
// further as it sees fit.
type Request struct {
	Command  Command
	Argument string
}

// Parse turns one line of client input into a Request. Unknown and ignorable
// verbs map to CmdSkip.
func Parse(line string) (Request, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Request{}, ErrEmptyLine
	}

	verb := strings.ToUpper(fields[0])
	arg := strings.Join(fields[1:], " ")

	cmd, ok := known[verb]
	if !ok || ignored[verb] {
		return Request{Command: CmdSkip, Argument: arg}, nil
	}
	return Request{Command: cmd, Argument: arg}, nil
}
