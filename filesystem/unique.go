package filesystem

import (
	"bytes"
	"fmt"
	"math/rand/v2"
	"path/filepath"
	"runtime"
	"strings"
)

// UniqueName returns p when nothing exists there. Otherwise it inserts "_" and ten
// random digits before the extension until exists reports a free name:
// report.txt becomes report_0123456789.txt.
func UniqueName(p string, exists func(string) bool) string {
	if !exists(p) {
		return p
	}
	ext := filepath.Ext(p)
	stem := strings.TrimSuffix(p, ext)
	for {
		candidate := fmt.Sprintf("%s_%010d%s", stem, rand.Int64N(1e10), ext)
		if !exists(candidate) {
			return candidate
		}
	}
}

// TextTransform converts text mode payloads before they are written. It defaults
// to NormalizeNewlines and may be replaced.
var TextTransform = NormalizeNewlines

// NormalizeNewlines collapses CRLF to LF, then expands LF to CRLF on Windows hosts.
func NormalizeNewlines(b []byte) []byte {
	b = bytes.ReplaceAll(b, []byte("\r\n"), []byte("\n"))
	if runtime.GOOS == "windows" {
		b = bytes.ReplaceAll(b, []byte("\n"), []byte("\r\n"))
	}
	return b
}
