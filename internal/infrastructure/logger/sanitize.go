package logger

import (
	"fmt"
	"strings"
)

// MaxValueLen bounds how many bytes of a single user-supplied value reach the
// log. Engine output and remote titles can be arbitrarily long.
const MaxValueLen = 512

// SanitizeForLog makes a user-supplied string (file name, URL, engine output)
// safe to log: control characters are escaped so it cannot forge log lines or
// drive the terminal, and anything past MaxValueLen is cut.
func SanitizeForLog(s string) string {
	var b strings.Builder
	b.Grow(min(len(s), MaxValueLen))

	for i, r := range s {
		if b.Len() >= MaxValueLen {
			fmt.Fprintf(&b, "…(+%d bytes)", len(s)-i)
			break
		}
		switch {
		case r == '\n':
			b.WriteString(`\n`)
		case r == '\r':
			b.WriteString(`\r`)
		case r == '\t':
			b.WriteString(`\t`)
		case r < 32 || r == 127:
			fmt.Fprintf(&b, `\x%02x`, r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
