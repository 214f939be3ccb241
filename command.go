package redis

import (
	"strings"

	"github.com/pior/redis/resp"
)

// Command is one request: a verb and its arguments.
type Command struct {
	Name string
	Args []any

	// Raw marks commands whose reply is binary data rather than text.
	// Replies always carry bytes, the flag is kept for wrappers deciding
	// between Reply.Bytes and Reply.Text.
	Raw bool
}

// NewCommand returns a Command.
func NewCommand(name string, args ...any) Command {
	return Command{Name: name, Args: args}
}

func (c Command) encodedArgs() [][]byte {
	return resp.Args(c.Args...)
}

// String renders the command for logs. Arguments are not included.
func (c Command) String() string {
	return strings.ToUpper(c.Name)
}

func pingCommand() Command {
	return Command{Name: "PING"}
}
