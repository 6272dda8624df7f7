package protocol

import (
	"errors"
	"fmt"
	"log/slog"

	"ircdb/internal/metrics"
	"ircdb/internal/store"
)

// Session is the in-memory record for one live connection, created at accept
// time and destroyed at disconnect. Key correlates the connection to its user
// row (users.session_key); nothing else about identity is cached here, every
// command re-reads current state from the store.
type Session struct {
	// Key is the connection's session key, a UUID minted at accept time.
	Key string
	// Addr is the bare remote IP, without port.
	Addr string
	// Send writes one line to the owning connection. Delivery watchers use
	// it to forward channel traffic; a failed Send means the socket is gone.
	Send func(line string) error
}

// WatcherStarter starts the delivery watcher for a freshly created channel
// membership. Implemented by the server package; JOIN is its only caller.
type WatcherStarter interface {
	StartWatcher(sess *Session, membershipID, channelID uint, ownerNick string)
}

// Operator is a configured server operator. PasswordHash is a bcrypt hash;
// OPER verifies against it and sets the op flag on the caller's user row.
type Operator struct {
	Name         string
	PasswordHash string
}

type handlerFunc func(sess *Session, arg string) (Response, error)

// Processor is the command state machine. Given a parsed request and the
// caller's session it validates preconditions (ban, registration,
// membership), mutates the store, and returns a reply or a protocol error.
type Processor struct {
	store      *store.Store
	serverName string
	operators  []Operator
	watchers   WatcherStarter
	log        *slog.Logger
	metrics    *metrics.Metrics
	handlers   map[Command]handlerFunc
}

// NewProcessor builds a Processor with its handler table registered.
func NewProcessor(st *store.Store, serverName string, operators []Operator, watchers WatcherStarter, log *slog.Logger, m *metrics.Metrics) *Processor {
	if log == nil {
		log = slog.Default()
	}
	p := &Processor{
		store:      st,
		serverName: serverName,
		operators:  operators,
		watchers:   watchers,
		log:        log,
		metrics:    m,
	}
	p.handlers = map[Command]handlerFunc{
		CmdNick:    p.nick,
		CmdUser:    p.user,
		CmdJoin:    p.join,
		CmdPart:    p.part,
		CmdPrivmsg: p.privmsg,
		CmdPing:    p.ping,
		CmdPong:    p.pong,
		CmdQuit:    p.quit,
		CmdWhois:   p.whois,
		CmdWhowas:  p.whowas,
		CmdNames:   p.names,
		CmdTopic:   p.topic,
		CmdOper:    p.oper,
	}
	return p
}

// ServerName returns the name used as the prefix on numeric replies.
func (p *Processor) ServerName() string {
	return p.serverName
}

// Process runs one request. The ban check happens before dispatch; the
// connection loop closes the socket if and only if the returned error is
// ErrYoureBanned or the response carries the Close sentinel.
func (p *Processor) Process(sess *Session, req Request) (Response, error) {
	if err := p.checkBans(sess); err != nil {
		p.metrics.ObserveCommand(string(req.Command), err)
		return Response{}, err
	}

	handler, ok := p.handlers[req.Command]
	if !ok {
		// Skip sentinel and anything unregistered: succeed silently.
		p.metrics.ObserveCommand(string(CmdSkip), nil)
		return Response{}, nil
	}

	resp, err := handler(sess, req.Argument)
	p.metrics.ObserveCommand(string(req.Command), err)
	if err != nil && !isProtocolError(err) {
		p.log.Error("store failure processing command",
			"command", req.Command, "addr", sess.Addr, "err", err)
	}
	return resp, err
}

func isProtocolError(err error) bool {
	var pe *Error
	return errors.As(err, &pe)
}

// checkBans enforces the global precondition: a banned address or a banned
// current nick terminates the request (and, in the connection loop, the
// connection) with ErrYoureBanned.
func (p *Processor) checkBans(sess *Session) error {
	if _, err := p.store.GetBan(true, sess.Addr); err == nil {
		return ErrYoureBanned
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("ban lookup: %w", err)
	}

	u, err := p.store.GetUserBySession(sess.Key)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("session lookup: %w", err)
	}
	if _, err := p.store.GetBan(false, u.Nick); err == nil {
		return ErrYoureBanned
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("ban lookup: %w", err)
	}
	return nil
}

// currentUser resolves the caller's identity from its session key. Commands
// that require a registered caller report ErrUnknownError when the session
// owns no connected user.
func (p *Processor) currentUser(sess *Session) (*store.User, error) {
	u, err := p.store.GetUserBySession(sess.Key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnknownError
	}
	if err != nil {
		return nil, fmt.Errorf("session lookup: %w", err)
	}
	return u, nil
}
