package protocol

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"ircdb/internal/store"
)

const maxNickLen = 11

// nick registers or reconnects a nickname. A nick change implicitly logs out
// the session's previous identity.
func (p *Processor) nick(sess *Session, arg string) (Response, error) {
	nick := firstWord(arg)

	if err := validateNick(nick); err != nil {
		return Response{}, err
	}
	if _, err := p.store.GetBan(false, nick); err == nil {
		return Response{}, ErrYoureBanned
	} else if !errors.Is(err, store.ErrNotFound) {
		return Response{}, fmt.Errorf("ban lookup: %w", err)
	}

	// The session may already own an active nick. Log it out first.
	if prior, err := p.store.GetUserBySession(sess.Key); err == nil {
		if prior.Nick == nick {
			// Re-registering the nick this session already holds.
			return Response{}, ErrNicknameInUse
		}
		err = p.store.UpdateUser(prior.ID, map[string]any{
			"is_connected": false,
			"session_key":  "",
		})
		if err != nil {
			return Response{}, fmt.Errorf("logout prior nick: %w", err)
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return Response{}, fmt.Errorf("session lookup: %w", err)
	}

	welcome := Response{Content: Numeric(p.serverName, RplWelcome, nick, ":Welcome!")}

	existing, err := p.store.GetUserByNick(nick)
	switch {
	case err == nil && existing.IsConnected:
		return Response{}, ErrNicknameInUse
	case err == nil:
		// Known nick, currently logged out: reconnect it.
		err = p.store.UpdateUser(existing.ID, map[string]any{
			"last_ip":      sess.Addr,
			"last_login":   time.Now().Unix(),
			"is_connected": true,
			"session_key":  sess.Key,
		})
		if err != nil {
			return Response{}, fmt.Errorf("reconnect user: %w", err)
		}
		return welcome, nil
	case errors.Is(err, store.ErrNotFound):
		err = p.store.CreateUser(&store.User{
			Nick:        nick,
			RealName:    nick,
			LastIP:      sess.Addr,
			IsConnected: true,
			IsOp:        false,
			SessionKey:  sess.Key,
			LastLogin:   time.Now().Unix(),
		})
		if err != nil {
			return Response{}, fmt.Errorf("create user: %w", err)
		}
		return welcome, nil
	default:
		return Response{}, fmt.Errorf("nick lookup: %w", err)
	}
}

func validateNick(nick string) error {
	if nick == "" || len(nick) > maxNickLen {
		return ErrErroneousNick
	}
	for _, r := range nick {
		if !isAlphanumeric(r) {
			return ErrErroneousNick
		}
	}
	return nil
}

func isAlphanumeric(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

// user stores the caller's real name. The acting user is resolved by session
// key, not by the username field; everything but the realname is ignored.
func (p *Processor) user(sess *Session, arg string) (Response, error) {
	fields := strings.Fields(arg)
	if len(fields) < 4 {
		return Response{}, ErrNeedMoreParams
	}

	// "<username> <hostname> <servername> <realname...>"; a leading ':'
	// marks the realname as the whole rest of the line.
	realName := fields[3]
	if strings.HasPrefix(realName, ":") {
		realName = strings.TrimPrefix(strings.Join(fields[3:], " "), ":")
	}

	u, err := p.store.GetUserBySession(sess.Key)
	if errors.Is(err, store.ErrNotFound) {
		return Response{}, ErrUnknownError
	}
	if err != nil {
		return Response{}, fmt.Errorf("session lookup: %w", err)
	}

	if err := p.store.UpdateUser(u.ID, map[string]any{"real_name": realName}); err != nil {
		return Response{}, fmt.Errorf("set real name: %w", err)
	}
	return Response{Content: Numeric(p.serverName, RplWelcome, u.Nick, ":Real name stored")}, nil
}

func (p *Processor) ping(_ *Session, arg string) (Response, error) {
	return Response{Content: "PONG :" + arg}, nil
}

// pong is deliberately a no-op: answering a PONG starts a ping-pong storm.
func (p *Processor) pong(_ *Session, _ string) (Response, error) {
	return Response{}, nil
}

// join adds the caller to an existing channel, announces it through the
// channel's message slot, and starts the delivery watcher for the new
// membership. Channels are never created here; that is the admin surface's
// job.
func (p *Processor) join(sess *Session, arg string) (Response, error) {
	name := firstWord(arg)
	if strings.Contains(name, ",") {
		return Response{}, ErrTooManyChannels
	}

	channel, err := p.store.GetChannelByName(name)
	if errors.Is(err, store.ErrNotFound) {
		return Response{}, ErrNoSuchChannel
	}
	if err != nil {
		return Response{}, fmt.Errorf("channel lookup: %w", err)
	}

	u, err := p.currentUser(sess)
	if err != nil {
		return Response{}, err
	}

	if err := p.broadcast(channel.ID, UserLine(u.Nick, u.LastIP, "JOIN :"+channel.Name)); err != nil {
		return Response{}, err
	}

	if _, err := p.store.CreateMembership(u.ID, channel.ID); err != nil {
		return Response{}, fmt.Errorf("create membership: %w", err)
	}

	// The watcher binding comes from the row just inserted.
	m, err := p.store.GetLastMembership()
	if err != nil {
		return Response{}, fmt.Errorf("membership lookup: %w", err)
	}
	if p.watchers != nil {
		p.watchers.StartWatcher(sess, m.ID, channel.ID, u.Nick)
	}

	lines := []string{Numeric(p.serverName, RplTopic, u.Nick, channel.Name+" :"+channel.Topic)}
	nameLines, err := p.namesFor(channel, u.Nick)
	if err != nil {
		return Response{}, err
	}
	return Lines(append(lines, nameLines...)...), nil
}

// part removes the caller from a channel. The broadcast goes out before the
// membership row disappears so every member, the caller's own watcher
// included, observes the departure.
func (p *Processor) part(sess *Session, arg string) (Response, error) {
	name := firstWord(arg)
	if strings.Contains(name, ",") {
		return Response{}, ErrTooManyChannels
	}

	channel, err := p.store.GetChannelByName(name)
	if errors.Is(err, store.ErrNotFound) {
		return Response{}, ErrNoSuchChannel
	}
	if err != nil {
		return Response{}, fmt.Errorf("channel lookup: %w", err)
	}

	u, err := p.currentUser(sess)
	if err != nil {
		return Response{}, err
	}

	if _, err := p.store.GetMembershipByUserChannel(u.ID, channel.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Response{}, ErrNotOnChannel
		}
		return Response{}, fmt.Errorf("membership lookup: %w", err)
	}

	if err := p.broadcast(channel.ID, UserLine(u.Nick, u.LastIP, "PART "+channel.Name)); err != nil {
		return Response{}, err
	}
	if err := p.store.DeleteMembershipByUserChannel(u.ID, channel.ID); err != nil {
		return Response{}, fmt.Errorf("delete membership: %w", err)
	}
	return Response{}, nil
}

// privmsg writes one message into a channel's slot. The bare target is
// retried with a '#' prefix because clients disagree about whether to send
// one; JOIN/PART take names as typed. The asymmetry is inherited behavior
// that clients depend on.
func (p *Processor) privmsg(sess *Session, arg string) (Response, error) {
	target, text, ok := strings.Cut(arg, " ")
	if target == "" || !ok {
		return Response{}, ErrNeedMoreParams
	}
	if strings.Contains(target, ",") {
		return Response{}, ErrTooManyTargets
	}

	channel, err := p.store.GetChannelByName(target)
	if errors.Is(err, store.ErrNotFound) {
		channel, err = p.store.GetChannelByName("#" + target)
		if errors.Is(err, store.ErrNotFound) {
			return Response{}, ErrNoSuchChannel
		}
	}
	if err != nil {
		return Response{}, fmt.Errorf("channel lookup: %w", err)
	}

	u, err := p.currentUser(sess)
	if err != nil {
		return Response{}, err
	}

	text = strings.TrimPrefix(text, ":")
	line := UserLine(u.Nick, u.LastIP, "PRIVMSG "+channel.Name+" :"+text)
	if err := p.broadcast(channel.ID, line); err != nil {
		return Response{}, err
	}
	return Response{}, nil
}

// names lists channel members: one 353 line plus a 366 end marker per
// channel, for every channel when no argument is given.
func (p *Processor) names(sess *Session, arg string) (Response, error) {
	u, err := p.currentUser(sess)
	if err != nil {
		return Response{}, err
	}

	if arg == "" {
		channels, err := p.store.ListChannels()
		if err != nil {
			return Response{}, fmt.Errorf("list channels: %w", err)
		}
		var lines []string
		for i := range channels {
			chLines, err := p.namesFor(&channels[i], u.Nick)
			if err != nil {
				return Response{}, err
			}
			lines = append(lines, chLines...)
		}
		return Lines(lines...), nil
	}

	if strings.Contains(arg, ",") {
		return Response{}, ErrTooManyTargets
	}

	channel, err := p.store.GetChannelByName(firstWord(arg))
	if errors.Is(err, store.ErrNotFound) {
		return Response{}, ErrNoSuchChannel
	}
	if err != nil {
		return Response{}, fmt.Errorf("channel lookup: %w", err)
	}

	lines, err := p.namesFor(channel, u.Nick)
	if err != nil {
		return Response{}, err
	}
	return Lines(lines...), nil
}

func (p *Processor) namesFor(channel *store.Channel, callerNick string) ([]string, error) {
	members, err := p.store.ListMembershipsByChannel(channel.ID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	nicks := make([]string, 0, len(members))
	for _, m := range members {
		member, err := p.store.GetUserByID(m.UserID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("member lookup: %w", err)
		}
		nicks = append(nicks, member.Nick)
	}
	return []string{
		Numeric(p.serverName, RplNamReply, callerNick, "= "+channel.Name+" :"+strings.Join(nicks, " ")),
		Numeric(p.serverName, RplEndOfNames, callerNick, channel.Name+" :End of /NAMES list."),
	}, nil
}

// whois reports identity only for currently connected nicks; a known but
// logged-out nick answers 401 like an unknown one.
func (p *Processor) whois(sess *Session, arg string) (Response, error) {
	sender := p.senderNick(sess)
	nick := firstWord(arg)

	var info string
	target, err := p.store.GetUserByNick(nick)
	switch {
	case err == nil && target.IsConnected:
		info = Numeric(p.serverName, RplWhoisUser, sender,
			fmt.Sprintf("%s %s %s :%s", target.Nick, target.Nick, target.LastIP, target.RealName))
	case err == nil || errors.Is(err, store.ErrNotFound):
		info = Numeric(p.serverName, ErrNoSuchNickCode, sender, nick+" :No such nick registered")
	default:
		return Response{}, fmt.Errorf("nick lookup: %w", err)
	}

	return Lines(info, Numeric(p.serverName, RplEndOfWhois, sender, nick+" :End of /WHOIS")), nil
}

// whowas reports identity for any nick that has ever existed, connected or
// not.
func (p *Processor) whowas(sess *Session, arg string) (Response, error) {
	sender := p.senderNick(sess)
	nick := firstWord(arg)

	var info string
	target, err := p.store.GetUserByNick(nick)
	switch {
	case err == nil:
		info = Numeric(p.serverName, RplWhowasUser, sender,
			fmt.Sprintf("%s %s %s :%s", target.Nick, target.Nick, target.LastIP, target.RealName))
	case errors.Is(err, store.ErrNotFound):
		info = Numeric(p.serverName, ErrWasNoSuchNickCode, sender, nick+" :There was no such nickname")
	default:
		return Response{}, fmt.Errorf("nick lookup: %w", err)
	}

	return Lines(info, Numeric(p.serverName, RplEndOfWhowas, sender, nick+" :End of /WHOWAS")), nil
}

// quit logs the caller out, announces a PART in every joined channel, and
// returns the close sentinel. The connection loop must not transmit the
// response.
func (p *Processor) quit(sess *Session, _ string) (Response, error) {
	u, err := p.currentUser(sess)
	if err != nil {
		// Nothing registered on this session: just close.
		if errors.Is(err, ErrUnknownError) {
			return Response{Close: true}, nil
		}
		return Response{}, err
	}

	memberships, err := p.store.ListMembershipsByUser(u.ID)
	if err != nil {
		return Response{}, fmt.Errorf("list memberships: %w", err)
	}
	for _, m := range memberships {
		channel, err := p.store.GetChannelByID(m.ChannelID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return Response{}, fmt.Errorf("channel lookup: %w", err)
		}
		if err := p.broadcast(channel.ID, UserLine(u.Nick, u.LastIP, "PART "+channel.Name)); err != nil {
			return Response{}, err
		}
	}

	if err := p.store.DeleteMembershipsByUser(u.ID); err != nil {
		return Response{}, fmt.Errorf("delete memberships: %w", err)
	}
	err = p.store.UpdateUser(u.ID, map[string]any{
		"is_connected": false,
		"session_key":  "",
	})
	if err != nil {
		return Response{}, fmt.Errorf("logout: %w", err)
	}
	return Response{Close: true}, nil
}

// topic reads or sets a channel topic. Setting requires membership and is
// announced through the message slot.
func (p *Processor) topic(sess *Session, arg string) (Response, error) {
	name, text, hasText := strings.Cut(arg, " ")
	if name == "" {
		return Response{}, ErrNeedMoreParams
	}

	channel, err := p.store.GetChannelByName(name)
	if errors.Is(err, store.ErrNotFound) {
		return Response{}, ErrNoSuchChannel
	}
	if err != nil {
		return Response{}, fmt.Errorf("channel lookup: %w", err)
	}

	u, err := p.currentUser(sess)
	if err != nil {
		return Response{}, err
	}
	if _, err := p.store.GetMembershipByUserChannel(u.ID, channel.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Response{}, ErrNotOnChannel
		}
		return Response{}, fmt.Errorf("membership lookup: %w", err)
	}

	if !hasText {
		if channel.Topic == "" {
			return Response{Content: Numeric(p.serverName, RplNoTopic, u.Nick, channel.Name+" :No topic is set")}, nil
		}
		return Response{Content: Numeric(p.serverName, RplTopic, u.Nick, channel.Name+" :"+channel.Topic)}, nil
	}

	text = strings.TrimPrefix(text, ":")
	if err := p.store.SetChannelTopic(channel.ID, text); err != nil {
		return Response{}, fmt.Errorf("set topic: %w", err)
	}
	if err := p.broadcast(channel.ID, UserLine(u.Nick, u.LastIP, "TOPIC "+channel.Name+" :"+text)); err != nil {
		return Response{}, err
	}
	return Response{}, nil
}

// oper grants the op flag after verifying the caller against a configured
// operator. Password hashes are bcrypt; a wrong name and a wrong password
// are indistinguishable on the wire.
func (p *Processor) oper(sess *Session, arg string) (Response, error) {
	fields := strings.Fields(arg)
	if len(fields) < 2 {
		return Response{}, ErrNeedMoreParams
	}
	name, password := fields[0], fields[1]

	u, err := p.currentUser(sess)
	if err != nil {
		return Response{}, err
	}

	var op *Operator
	for i := range p.operators {
		if p.operators[i].Name == name {
			op = &p.operators[i]
			break
		}
	}
	if op == nil || bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(password)) != nil {
		return Response{}, ErrPasswdMismatch
	}

	if err := p.store.UpdateUser(u.ID, map[string]any{"is_op": true}); err != nil {
		return Response{}, fmt.Errorf("set op: %w", err)
	}
	return Response{Content: Numeric(p.serverName, RplYoureOper, u.Nick, ":You are now an IRC operator")}, nil
}

// broadcast overwrites the channel's message slot. This is the only publish
// primitive: whatever line is here when a watcher next polls is what members
// receive, and a second write within one poll period silently replaces the
// first.
func (p *Processor) broadcast(channelID uint, line string) error {
	if err := p.store.SetChannelContent(channelID, line); err != nil {
		return fmt.Errorf("write message slot: %w", err)
	}
	p.metrics.BroadcastWritten()
	return nil
}

func (p *Processor) senderNick(sess *Session) string {
	if u, err := p.store.GetUserBySession(sess.Key); err == nil {
		return u.Nick
	}
	return "*"
}

func firstWord(s string) string {
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i]
	}
	return s
}
