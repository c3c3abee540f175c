package validate

import "fmt"

// SyntaxError locates the first problem PythonSyntax found.
type SyntaxError struct {
	Line int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Msg)
}

var closing = map[byte]byte{')': '(', ']': '[', '}': '{'}

type bracket struct {
	char byte
	line int
}

// PythonSyntax performs a lexical check of Python source: string literals
// terminate, brackets balance, and indentation opens and closes blocks
// consistently. It does not parse expressions.
func PythonSyntax(src string) error {
	var stack []bracket
	indents := []int{0}
	line, atLineStart := 1, true
	expectIndent, blockLine := false, 0
	var lastSig byte
	sigLine := 0

	for i := 0; i < len(src); i++ {
		if atLineStart && len(stack) == 0 {
			col, j := 0, i
			for ; j < len(src); j++ {
				switch src[j] {
				case ' ':
					col++
					continue
				case '\t':
					col += 8 - col%8
					continue
				case '\f':
					col = 0
					continue
				}
				break
			}
			if j >= len(src) {
				break
			}
			if c := src[j]; c == '\n' || c == '\r' || c == '#' {
				// blank or comment-only line
				for j < len(src) && src[j] != '\n' {
					j++
				}
				if j < len(src) {
					line++
				}
				i = j
				continue
			}

			top := indents[len(indents)-1]
			switch {
			case expectIndent && col <= top:
				return &SyntaxError{Line: line, Msg: fmt.Sprintf("expected an indented block after line %d", blockLine)}
			case col > top && !expectIndent:
				return &SyntaxError{Line: line, Msg: "unexpected indent"}
			case col > top:
				indents = append(indents, col)
			case col < top:
				for len(indents) > 1 && indents[len(indents)-1] > col {
					indents = indents[:len(indents)-1]
				}
				if indents[len(indents)-1] != col {
					return &SyntaxError{Line: line, Msg: "unindent does not match any outer indentation level"}
				}
			}
			expectIndent = false
			atLineStart = false
			lastSig = 0
			i = j
		}

		c := src[i]
		switch {
		case c == '#':
			for i+1 < len(src) && src[i+1] != '\n' {
				i++
			}
		case c == '\'' || c == '"':
			end, lines, err := scanString(src, i, line)
			if err != nil {
				return err
			}
			line += lines
			i = end
			lastSig, sigLine = c, line
		case c == '\\':
			next := i + 1
			if next < len(src) && src[next] == '\r' {
				next++
			}
			if next >= len(src) || src[next] != '\n' {
				return &SyntaxError{Line: line, Msg: "unexpected character after line continuation character"}
			}
			line++
			i = next
		case c == '(' || c == '[' || c == '{':
			stack = append(stack, bracket{char: c, line: line})
			lastSig, sigLine = c, line
		case c == ')' || c == ']' || c == '}':
			if len(stack) == 0 {
				return &SyntaxError{Line: line, Msg: fmt.Sprintf("unmatched '%c'", c)}
			}
			open := stack[len(stack)-1]
			if open.char != closing[c] {
				return &SyntaxError{Line: line, Msg: fmt.Sprintf("closing parenthesis '%c' does not match opening parenthesis '%c' on line %d", c, open.char, open.line)}
			}
			stack = stack[:len(stack)-1]
			lastSig, sigLine = c, line
		case c == '\n':
			if len(stack) == 0 {
				if lastSig == ':' {
					expectIndent, blockLine = true, sigLine
				}
				atLineStart = true
			}
			line++
		case c == ' ' || c == '\t' || c == '\r' || c == '\f':
		default:
			lastSig, sigLine = c, line
		}
	}

	if len(stack) > 0 {
		open := stack[len(stack)-1]
		return &SyntaxError{Line: open.line, Msg: fmt.Sprintf("'%c' was never closed", open.char)}
	}
	if expectIndent || (!atLineStart && lastSig == ':') {
		if !expectIndent {
			blockLine = sigLine
		}
		return &SyntaxError{Line: line, Msg: fmt.Sprintf("expected an indented block after line %d", blockLine)}
	}
	return nil
}

// scanString consumes the literal opening at src[start] and returns the index
// of its closing quote and the number of newlines it spans.
func scanString(src string, start, line int) (int, int, error) {
	quote := src[start]
	triple := start+2 < len(src) && src[start+1] == quote && src[start+2] == quote
	i := start + 1
	if triple {
		i = start + 3
	}
	lines := 0
	for ; i < len(src); i++ {
		switch c := src[i]; {
		case c == '\\':
			if i+1 < len(src) && src[i+1] == '\n' {
				lines++
			}
			i++
		case c == '\n':
			if !triple {
				return 0, 0, &SyntaxError{Line: line, Msg: "unterminated string literal"}
			}
			lines++
		case c == quote:
			if !triple {
				return i, lines, nil
			}
			if i+2 < len(src) && src[i+1] == quote && src[i+2] == quote {
				return i + 2, lines, nil
			}
		}
	}
	if triple {
		return 0, 0, &SyntaxError{Line: line, Msg: "unterminated triple-quoted string literal"}
	}
	return 0, 0, &SyntaxError{Line: line, Msg: "unterminated string literal"}
}
