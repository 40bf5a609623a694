package scan

// Byte-level record boundary scanning. JSON strings cannot contain raw
// control characters, so a newline outside a string is always a record
// boundary; the scanners still track string state so that malformed input
// under ignore_errors cannot desynchronize the cursor.

func isWhitespace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// skipWhitespace returns the first offset at or after off that is not JSON
// whitespace.
func skipWhitespace(data []byte, off int) int {
	for off < len(data) && isWhitespace(data[off]) {
		off++
	}
	return off
}

// scanToNewline finds the next newline at or after off that is not inside a
// string literal. It returns the newline's offset.
func scanToNewline(data []byte, off int) (end int, found bool) {
	inString := false
	escaped := false
	for i := off; i < len(data); i++ {
		c := data[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case c == '\n' && !inString:
			return i, true
		}
	}
	return 0, false
}

// lastNewline finds the final newline in data, byte-level. The bytes after
// it are the head of a record continuing in the successor buffer.
func lastNewline(data []byte) (pos int, found bool) {
	for i := len(data) - 1; i >= 0; i-- {
		if data[i] == '\n' {
			return i, true
		}
	}
	return 0, false
}

// scanArrayElement finds the end of the array element starting at off: the
// offset of the ',' or ']' that terminates it at nesting depth zero. It
// reports found=false when the element continues past the end of data.
func scanArrayElement(data []byte, off int) (end int, found bool) {
	depth := 0
	inString := false
	escaped := false
	for i := off; i < len(data); i++ {
		c := data[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{' || c == '[':
			depth++
		case c == '}' || c == ']':
			if depth == 0 && c == ']' {
				return i, true
			}
			depth--
		case c == ',' && depth == 0:
			return i, true
		}
	}
	return 0, false
}

// allWhitespace reports whether data[off:] is JSON whitespace only.
func allWhitespace(data []byte, off int) bool {
	return skipWhitespace(data, off) >= len(data)
}
