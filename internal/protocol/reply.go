package protocol

import (
	"fmt"
	"strings"
)

// Numeric reply codes used on the wire (RFC1459 subset).
const (
	RplWelcome     = 1
	RplWhoisUser   = 311
	RplWhowasUser  = 314
	RplEndOfWhois  = 318
	RplNoTopic     = 331
	RplTopic       = 332
	RplNamReply    = 353
	RplEndOfNames  = 366
	RplEndOfWhowas = 369
	RplYoureOper   = 381

	ErrUnknownErrorCode   = 400
	ErrNoSuchNickCode     = 401
	ErrNoSuchChannelCode  = 403
	ErrCannotSendCode     = 404
	ErrTooManyChanCode    = 405
	ErrWasNoSuchNickCode  = 406
	ErrTooManyTargetCode  = 407
	ErrErroneousNickCode  = 432
	ErrNickInUseCode      = 433
	ErrNotOnChannelCode   = 442
	ErrNeedMoreParamCode  = 461
	ErrPasswdMismatchCode = 464
	ErrBannedCode         = 465
	ErrWillBeBannedCode   = 466
)

// Response is what a successfully processed command hands back to the
// connection loop. Content may span multiple newline-joined lines; an empty
// Content means there is nothing to send. Close is the QUIT sentinel: the
// loop closes the socket and transmits nothing.
type Response struct {
	Content string
	Close   bool
}

// Lines joins reply lines into one logical multi-line response.
func Lines(lines ...string) Response {
	return Response{Content: strings.Join(lines, "\n")}
}

// Error is a protocol error reported to the client as a numeric reply. All
// protocol errors keep the connection open except ErrYoureBanned, which the
// connection loop treats as terminal.
type Error struct {
	Code int
	Text string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%03d %s", e.Code, e.Text)
}

var (
	ErrUnknownError    = &Error{ErrUnknownErrorCode, "Unknown error"}
	ErrNoSuchNick      = &Error{ErrNoSuchNickCode, "No such nick registered"}
	ErrNoSuchChannel   = &Error{ErrNoSuchChannelCode, "No such channel"}
	ErrCannotSend      = &Error{ErrCannotSendCode, "Cannot send to channel"}
	ErrTooManyChannels = &Error{ErrTooManyChanCode, "Too many channels"}
	ErrWasNoSuchNick   = &Error{ErrWasNoSuchNickCode, "There was no such nickname"}
	ErrTooManyTargets  = &Error{ErrTooManyTargetCode, "Too many targets"}
	ErrErroneousNick   = &Error{ErrErroneousNickCode, "Erroneous nickname"}
	ErrNicknameInUse   = &Error{ErrNickInUseCode, "Nickname is already in use"}
	ErrNotOnChannel    = &Error{ErrNotOnChannelCode, "You're not on that channel"}
	ErrNeedMoreParams  = &Error{ErrNeedMoreParamCode, "Not enough parameters"}
	ErrPasswdMismatch  = &Error{ErrPasswdMismatchCode, "Password incorrect"}
	ErrYoureBanned     = &Error{ErrBannedCode, "You're banned creep"}
	ErrWillBeBanned    = &Error{ErrWillBeBannedCode, "You will be banned"}
)

// Numeric formats one server-prefixed numeric reply line.
func Numeric(serverName string, code int, target, text string) string {
	if target == "" {
		target = "*"
	}
	return fmt.Sprintf(":%s %03d %s %s", serverName, code, target, text)
}

// FormatError renders a protocol or internal error as one reply line. Errors
// that are not *Error (store transport failures and the like) surface as the
// generic 400 so a single bad request never takes the connection down.
func FormatError(serverName, target string, err error) string {
	if pe, ok := err.(*Error); ok {
		return Numeric(serverName, pe.Code, target, ":"+pe.Text)
	}
	return Numeric(serverName, ErrUnknownErrorCode, target, ":Internal error")
}

// UserLine builds the author prefix used on broadcast lines, in the form
// ":<nick>!<nick>@<lastIP> <content>".
func UserLine(nick, lastIP, content string) string {
	return fmt.Sprintf(":%s!%s@%s %s", nick, nick, lastIP, content)
}
