package wire

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/timefuse/timefuse-go/pkg/wire/command"
)

// ErrEmptyLine is returned when a decoded line carries no command token.
var ErrEmptyLine = errors.New("empty line")

// Message is one protocol line: a command followed by zero or more
// arguments. Arguments travel URL-escaped so that they may carry spaces
// and line terminators; commands are plain tokens and are never escaped.
type Message struct {
	Command command.Type
	Args    []string
}

// NewMessage returns a message with the given command and raw
// (unescaped) arguments.
func NewMessage(cmd command.Type, args ...string) Message {
	return Message{Command: cmd, Args: args}
}

// String encodes the message as a single wire line, terminator excluded.
func (m Message) String() string {
	if len(m.Args) == 0 {
		return string(m.Command)
	}
	tokens := make([]string, 0, len(m.Args)+1)
	tokens = append(tokens, string(m.Command))
	for _, a := range m.Args {
		tokens = append(tokens, url.QueryEscape(a))
	}
	return strings.Join(tokens, " ")
}

// DecodeMessage parses one terminator-stripped line into a message.
// Split is on single spaces, so empty arguments survive the round trip.
func DecodeMessage(line string) (Message, error) {
	if line == "" {
		return Message{}, ErrEmptyLine
	}
	tokens := strings.Split(line, " ")
	m := Message{Command: command.Type(tokens[0])}
	if len(tokens) == 1 {
		return m, nil
	}
	m.Args = make([]string, len(tokens)-1)
	for i, tok := range tokens[1:] {
		arg, err := url.QueryUnescape(tok)
		if err != nil {
			return Message{}, fmt.Errorf("arg %d: %w", i, err)
		}
		m.Args[i] = arg
	}
	return m, nil
}
