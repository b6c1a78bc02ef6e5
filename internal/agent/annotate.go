package agent

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var hunkHeaderRe = regexp.MustCompile(`@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// annotatePatch rewrites a unified-diff patch so every content line carries
// its old and new line numbers. The model targets comments by line number,
// so the numbers must be in the prompt rather than inferred from hunk
// offsets.
func annotatePatch(patch string) string {
	var b strings.Builder
	oldLine, newLine := 0, 0
	inHunk := false

	for _, line := range strings.Split(patch, "\n") {
		if m := hunkHeaderRe.FindStringSubmatch(line); m != nil {
			oldLine, _ = strconv.Atoi(m[1])
			newLine, _ = strconv.Atoi(m[3])
			inHunk = true
			b.WriteString(line)
			b.WriteByte('\n')
			continue
		}
		if !inHunk || line == "" {
			b.WriteString(line)
			b.WriteByte('\n')
			continue
		}

		switch line[0] {
		case '+':
			fmt.Fprintf(&b, "    |%4d| %s\n", newLine, line)
			newLine++
		case '-':
			fmt.Fprintf(&b, "%4d|    | %s\n", oldLine, line)
			oldLine++
		case '\\':
			// "\ No newline at end of file"
			b.WriteString(line)
			b.WriteByte('\n')
		default:
			fmt.Fprintf(&b, "%4d|%4d| %s\n", oldLine, newLine, line)
			oldLine++
			newLine++
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}
