package transport

import (
	"fmt"
	"strings"
)

// Command is the one-byte message a stream receiver sends back to switch
// which streams the sender emits.
type Command byte

const (
	CommandColor Command = 1
	CommandDepth Command = 2
)

func (c Command) Valid() bool {
	return c == CommandColor || c == CommandDepth
}

func (c Command) String() string {
	switch c {
	case CommandColor:
		return "color"
	case CommandDepth:
		return "depth"
	}
	return fmt.Sprintf("command(%d)", byte(c))
}

// ParseCommand accepts "color" or "depth".
func ParseCommand(s string) (Command, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "color":
		return CommandColor, nil
	case "depth":
		return CommandDepth, nil
	}
	return 0, fmt.Errorf("unknown mode %q (want color or depth)", s)
}
