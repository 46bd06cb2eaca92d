// Package parser tokenizes one line of storedb-shell input into a dot
// command and its arguments, the same shape the teacher's docdbsh parser
// uses for its own wire-client REPL.
package parser

import (
	"fmt"
	"strconv"
	"strings"
)

// Command is one parsed REPL line: a leading ".name" token plus whitespace
// separated arguments.
type Command struct {
	Name string
	Args []string
	Line string
}

// Parse splits line into a Command. Every command must start with '.'; an
// empty line or one missing the leading dot is rejected outright rather
// than silently ignored, so a typo surfaces immediately.
func Parse(line string) (*Command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, fmt.Errorf("empty command")
	}

	parts := strings.Fields(line)
	if !strings.HasPrefix(parts[0], ".") {
		return nil, fmt.Errorf("commands must start with '.'")
	}

	return &Command{Name: parts[0], Args: parts[1:], Line: line}, nil
}

// ParseInt64 parses a decimal argument as an int64.
func ParseInt64(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}

// ValidateArgs rejects a command that didn't receive at least count
// arguments.
func ValidateArgs(cmd *Command, count int) error {
	if len(cmd.Args) < count {
		return fmt.Errorf("%s expects %d argument(s), got %d", cmd.Name, count, len(cmd.Args))
	}
	return nil
}
