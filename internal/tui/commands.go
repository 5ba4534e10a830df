package tui

import (
	"errors"
	"strings"
	"unicode"
)

var (
	ErrNotCommand   = errors.New("commands start with /")
	ErrEmptyCommand = errors.New("missing command name after /")
)

// Command is a parsed slash command such as "/deploy docker".
type Command struct {
	Name string // lower-cased, without the slash
	Args []string
	Text string // everything after the name with inner spacing kept
}

// Arg returns the i-th argument or "".
func (c Command) Arg(i int) string {
	if i < len(c.Args) {
		return c.Args[i]
	}
	return ""
}

// ParseCommand parses input typed into the command bar.
func ParseCommand(input string) (Command, error) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return Command{}, ErrNotCommand
	}
	body := strings.TrimSpace(input[1:])
	if body == "" {
		return Command{}, ErrEmptyCommand
	}
	name, rest := body, ""
	if i := strings.IndexFunc(body, unicode.IsSpace); i >= 0 {
		name, rest = body[:i], strings.TrimSpace(body[i:])
	}
	return Command{
		Name: strings.ToLower(name),
		Args: strings.Fields(rest),
		Text: rest,
	}, nil
}
