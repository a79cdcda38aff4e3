package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// normalizeJSONC turns JSONC into plain JSON in one pass. Comments and
// trailing commas are blanked rather than removed so decoder offsets still
// point into the original text.
func normalizeJSONC(content string) (string, error) {
	out := []byte(content)
	const (
		code = iota
		str
		strEscape
		lineComment
		blockComment
	)
	mode := code
	trailing := -1

	for i := 0; i < len(out); i++ {
		ch := out[i]
		switch mode {
		case str:
			switch ch {
			case '\\':
				mode = strEscape
			case '"':
				mode = code
			}
		case strEscape:
			mode = str
		case lineComment:
			if ch == '\n' || ch == '\r' {
				mode = code
			} else {
				out[i] = ' '
			}
		case blockComment:
			if ch == '*' && i+1 < len(out) && out[i+1] == '/' {
				out[i], out[i+1] = ' ', ' '
				i++
				mode = code
			} else if ch != '\n' && ch != '\r' && ch != '\t' {
				out[i] = ' '
			}
		default:
			switch {
			case ch == '/' && i+1 < len(out) && out[i+1] == '/':
				out[i], out[i+1] = ' ', ' '
				i++
				mode = lineComment
			case ch == '/' && i+1 < len(out) && out[i+1] == '*':
				out[i], out[i+1] = ' ', ' '
				i++
				mode = blockComment
			case ch == ',':
				trailing = i
			case ch == '}' || ch == ']':
				if trailing >= 0 {
					out[trailing] = ' '
				}
				trailing = -1
			case isJSONWhitespace(ch):
			default:
				trailing = -1
				if ch == '"' {
					mode = str
				}
			}
		}
	}

	if mode == blockComment {
		return "", errors.New("unterminated block comment in JSONC")
	}
	return string(out), nil
}

func isJSONWhitespace(ch byte) bool {
	return ch == ' ' || ch == '\n' || ch == '\r' || ch == '\t'
}

func ensureSingleJSONValue(decoder *json.Decoder) error {
	var extra json.RawMessage
	switch err := decoder.Decode(&extra); {
	case errors.Is(err, io.EOF):
		return nil
	case err == nil:
		return errors.New("multiple JSON values are not allowed")
	default:
		return err
	}
}

// wrapJSONDecodeError prefixes decoder errors with the line and column they
// point at.
func wrapJSONDecodeError(content string, err error) error {
	var (
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
		offset    int64
	)
	switch {
	case errors.As(err, &syntaxErr):
		offset = syntaxErr.Offset
	case errors.As(err, &typeErr):
		offset = typeErr.Offset
	default:
		return err
	}
	line, col := offsetToLineCol(content, offset)
	return fmt.Errorf("line %d column %d: %w", line, col, err)
}

func offsetToLineCol(content string, offset int64) (int, int) {
	end := min(int(max(offset, 1)), len(content)) - 1
	line, col := 1, 1
	for i := 0; i < end; i++ {
		if content[i] == '\n' {
			line, col = line+1, 1
		} else {
			col++
		}
	}
	return line, col
}
