// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"strings"
)

// SplitArgs tokenizes a yt_args string the way a POSIX shell would split
// an argv: whitespace separates tokens, single quotes preserve everything
// literally, double quotes preserve everything but allow \" escapes.
func SplitArgs(s string) ([]string, error) {
	var (
		args    []string
		current strings.Builder
		inToken bool
		quote   rune // 0, '\'' or '"'
		escaped bool
	)

	for _, r := range s {
		switch {
		case escaped:
			current.WriteRune(r)
			escaped = false
		case quote == '\'':
			if r == '\'' {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case quote == '"':
			switch r {
			case '"':
				quote = 0
			case '\\':
				escaped = true
			default:
				current.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inToken = true
		case r == '\\':
			escaped = true
			inToken = true
		case r == ' ' || r == '\t' || r == '\n':
			if inToken {
				args = append(args, current.String())
				current.Reset()
				inToken = false
			}
		default:
			current.WriteRune(r)
			inToken = true
		}
	}

	if escaped {
		return nil, fmt.Errorf("trailing backslash")
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote", quote)
	}
	if inToken {
		args = append(args, current.String())
	}
	return args, nil
}
