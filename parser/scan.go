package parser

import "strings"

// The helpers below walk JSON-ish text while tracking whether the cursor is
// inside a double-quoted string, so that edits never touch string contents.

// matchObject returns the index just past the '}' closing the object opened
// at s[start], or -1 when the object is never closed.
func matchObject(s string, start int) int {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

// firstBalancedObject returns the first complete {...} substring
func firstBalancedObject(s string) (string, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] != '{' {
			continue
		}
		if end := matchObject(s, i); end > 0 {
			return s[i:end], true
		}
		// An unclosed brace swallows the rest of the text; nothing later can balance.
		return "", false
	}
	return "", false
}

// longestBalancedObject returns the longest complete {...} substring
func longestBalancedObject(s string) string {
	best := ""
	for i := 0; i < len(s); i++ {
		if s[i] != '{' {
			continue
		}
		if end := matchObject(s, i); end > 0 && end-i > len(best) {
			best = s[i:end]
		}
	}
	return best
}

// mapOutsideStrings applies fn to every run of text that is not inside a
// double-quoted string and reassembles the result.
func mapOutsideStrings(s string, fn func(segment string) string) string {
	var out strings.Builder
	out.Grow(len(s))
	segStart := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
				out.WriteString(s[segStart : i+1])
				segStart = i + 1
			}
			continue
		}
		if c == '"' {
			out.WriteString(fn(s[segStart:i]))
			segStart = i
			inString = true
		}
	}
	if inString {
		out.WriteString(s[segStart:])
	} else {
		out.WriteString(fn(s[segStart:]))
	}
	return out.String()
}

// anyOutsideStrings reports whether pred holds for some non-string segment
func anyOutsideStrings(s string, pred func(segment string) bool) bool {
	found := false
	mapOutsideStrings(s, func(segment string) string {
		if !found && pred(segment) {
			found = true
		}
		return segment
	})
	return found
}

// stripComments removes // line comments and /* */ block comments that sit
// outside strings
func stripComments(s string) string {
	var out strings.Builder
	out.Grow(len(s))
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			out.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			out.WriteByte(c)
			continue
		}
		if c == '/' && i+1 < len(s) {
			switch s[i+1] {
			case '/':
				for i < len(s) && s[i] != '\n' {
					i++
				}
				if i < len(s) {
					out.WriteByte('\n')
				}
				continue
			case '*':
				end := strings.Index(s[i+2:], "*/")
				if end < 0 {
					i = len(s)
				} else {
					i += 2 + end + 1
				}
				continue
			}
		}
		out.WriteByte(c)
	}
	return out.String()
}

// unclosedBrackets returns the stack of '{' and '[' left open at the end of s,
// and whether s ends inside an unterminated string
func unclosedBrackets(s string) (stack []byte, openString bool) {
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if openString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				openString = false
			}
			continue
		}
		switch c {
		case '"':
			openString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	return stack, openString
}
