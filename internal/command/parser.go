package command

import "strings"

// ParseResult holds the parsed form of one inbound text line.
type ParseResult struct {
	// IsCommand reports whether the line starts with Prefix.
	IsCommand bool
	// Command is the lowercased token after the prefix, up to the first space.
	Command string
	// Arg is the trimmed remainder after the command token.
	Arg string
	// HasArg reports whether Arg is non-empty.
	HasArg bool
	// Raw is the trimmed input line.
	Raw string
}

// Parse splits a text line into a command and its single argument.
// Lines without the prefix are chat text, returned in Raw.
//
// Postcondition: Raw is the trimmed line; Command is empty unless IsCommand.
func Parse(line string) ParseResult {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, Prefix) {
		return ParseResult{Raw: line}
	}

	body := line[len(Prefix):]
	token, rest, _ := strings.Cut(body, " ")
	rest = strings.TrimSpace(rest)

	return ParseResult{
		IsCommand: true,
		Command:   strings.ToLower(token),
		Arg:       rest,
		HasArg:    rest != "",
		Raw:       line,
	}
}
