package config

import (
	"fmt"
	"strings"
	"unicode"
)

// splitArgv splits a player command line the way a POSIX shell would for plain
// words: single and double quotes group, a backslash escapes the next rune.
// A line starting with '#' is treated as disabled.
func splitArgv(line string) ([]string, error) {
	line = strings.TrimSpace(line)
	if line == "" || line[0] == '#' {
		return nil, nil
	}

	var (
		args    []string
		word    strings.Builder
		inWord  bool
		quote   rune
		escaped bool
	)
	for _, r := range line {
		if escaped {
			word.WriteRune(r)
			escaped = false
			continue
		}
		switch {
		case r == '\\':
			escaped, inWord = true, true
		case quote != 0 && r == quote:
			quote = 0
		case quote != 0:
			word.WriteRune(r)
		case r == '\'' || r == '"':
			quote, inWord = r, true
		case unicode.IsSpace(r):
			if inWord && word.Len() > 0 {
				args = append(args, word.String())
			}
			word.Reset()
			inWord = false
		default:
			word.WriteRune(r)
			inWord = true
		}
	}

	switch {
	case escaped:
		return nil, fmt.Errorf("unterminated escape sequence in command: %q", line)
	case quote != 0:
		return nil, fmt.Errorf("unterminated quote in command: %q", line)
	}
	if word.Len() > 0 {
		args = append(args, word.String())
	}
	return args, nil
}

func mustSplitArgv(line string) []string {
	args, err := splitArgv(line)
	if err != nil {
		panic(err)
	}
	return args
}
