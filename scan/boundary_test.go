package scan

import "testing"

func TestScanToNewline(t *testing.T) {
	tests := []struct {
		name  string
		data  string
		want  int
		found bool
	}{
		{"plain", "{\"a\":1}\nrest", 7, true},
		{"no newline", `{"a":1}`, 0, false},
		{"newline inside string", "{\"a\":\"x\ny\"}\nrest", 11, true},
		{"escaped quote", "{\"a\":\"x\\\"\n\"}\nrest", 12, true},
		{"empty", "", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			end, found := scanToNewline([]byte(tt.data), 0)
			if found != tt.found || (found && end != tt.want) {
				t.Errorf("scanToNewline(%q) = %d, %v, want %d, %v", tt.data, end, found, tt.want, tt.found)
			}
		})
	}
}

func TestScanArrayElement(t *testing.T) {
	tests := []struct {
		name  string
		data  string
		want  int
		found bool
	}{
		{"object then comma", `{"x":1},{"x":2}]`, 7, true},
		{"object then close", `{"x":2}]`, 7, true},
		{"nested brackets", `{"x":[1,2]},`, 11, true},
		{"comma inside string", `{"x":"a,b"},`, 11, true},
		{"bracket inside string", `{"x":"]"},`, 9, true},
		{"scalar element", `42,43]`, 2, true},
		{"incomplete", `{"x":`, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			end, found := scanArrayElement([]byte(tt.data), 0)
			if found != tt.found || (found && end != tt.want) {
				t.Errorf("scanArrayElement(%q) = %d, %v, want %d, %v", tt.data, end, found, tt.want, tt.found)
			}
		})
	}
}

func TestSkipWhitespace(t *testing.T) {
	if got := skipWhitespace([]byte("  \t\n\rx"), 0); got != 5 {
		t.Errorf("skipWhitespace() = %d, want 5", got)
	}
	if got := skipWhitespace([]byte("   "), 0); got != 3 {
		t.Errorf("skipWhitespace() on all-whitespace = %d, want 3", got)
	}
}

func TestLastNewline(t *testing.T) {
	if pos, found := lastNewline([]byte("a\nb\nc")); !found || pos != 3 {
		t.Errorf("lastNewline() = %d, %v, want 3, true", pos, found)
	}
	if _, found := lastNewline([]byte("abc")); found {
		t.Errorf("lastNewline() found a newline in %q", "abc")
	}
}
