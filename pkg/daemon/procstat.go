package daemon

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// rssBytes reads the resident set size of pid from /proc. It returns 0 when
// the process is gone or /proc is unavailable.
func rssBytes(pid int) uint64 {
	if pid <= 0 {
		return 0
	}
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/statm", pid))
	if err != nil {
		return 0
	}
	fields := strings.Fields(string(data))
	if len(fields) < 2 {
		return 0
	}
	pages, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return 0
	}
	return pages * uint64(os.Getpagesize())
}
