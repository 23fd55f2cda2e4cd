package daemon

import (
	"bufio"
	"io"
	"strings"
)

// maxLineBytes bounds one line of child output.
const maxLineBytes = 1024 * 1024

// forwardLines calls fn for every non-empty line read from r until EOF.
// Carriage returns are dropped and invalid UTF-8 is replaced.
func forwardLines(r io.Reader, fn func(string)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := strings.ToValidUTF8(strings.TrimRight(scanner.Text(), "\r"), "\uFFFD")
		if strings.TrimSpace(line) != "" {
			fn(line)
		}
	}
	return scanner.Err()
}
