package matcher

import (
	"strconv"
	"strings"
)

// Command is a parsed inline slash command, e.g. "/structure n=2".
type Command struct {
	Name string
	Args map[string]string
}

// Arg returns the named argument or the fallback when absent.
func (c Command) Arg(name, fallback string) string {
	if v, ok := c.Args[name]; ok {
		return v
	}
	return fallback
}

// IntArg returns the named argument as an int or the fallback.
func (c Command) IntArg(name string, fallback int) int {
	v, ok := c.Args[name]
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// ParseCommands extracts leading slash commands from the request text and
// returns them together with the remaining text. Commands only count at
// the start of the input; a slash mid-sentence is left alone.
func ParseCommands(text string) ([]Command, string) {
	rest := strings.TrimLeft(text, " \t\n")
	var commands []Command

	for strings.HasPrefix(rest, "/") {
		line := rest
		if i := strings.IndexByte(line, '\n'); i >= 0 {
			line = line[:i]
		}

		fields := strings.Fields(line)
		if len(fields) == 0 || len(fields[0]) < 2 {
			break
		}

		cmd := Command{Name: strings.ToLower(fields[0][1:])}
		consumed := len(fields[0])
		for _, f := range fields[1:] {
			k, v, ok := strings.Cut(f, "=")
			if !ok {
				break
			}
			if cmd.Args == nil {
				cmd.Args = make(map[string]string)
			}
			cmd.Args[k] = v
			consumed = strings.Index(line, f) + len(f)
		}
		commands = append(commands, cmd)
		rest = strings.TrimLeft(rest[consumed:], " \t\n")
	}

	return commands, rest
}
