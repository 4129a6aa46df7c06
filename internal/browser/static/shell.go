package static

import (
	"bytes"
	"strings"
)

// shellBodyThreshold is the size below which a script-heavy page is assumed
// to be an application shell.
const shellBodyThreshold = 2048

var shellMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
}

// looksScriptRendered reports whether body is probably an empty client-side
// application shell whose content only appears after scripts run.
func looksScriptRendered(body []byte) bool {
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	if len(body) < shellBodyThreshold && scriptShare(body) >= 25 {
		return true
	}
	for _, marker := range shellMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// scriptShare is the percentage of body covered by <script> elements. An
// unterminated script runs to the end of the document.
func scriptShare(body []byte) int {
	lower := strings.ToLower(string(body))
	total := len(lower)
	covered := 0
	for pos := 0; pos < total; {
		rel := strings.Index(lower[pos:], "<script")
		if rel < 0 {
			break
		}
		start := pos + rel
		end := total
		if gt := strings.IndexByte(lower[start:], '>'); gt >= 0 {
			contentStart := start + gt + 1
			if closeAt := strings.Index(lower[contentStart:], "</script>"); closeAt >= 0 {
				end = contentStart + closeAt + len("</script>")
			}
		}
		covered += end - start
		pos = end
	}
	if total == 0 {
		return 0
	}
	return covered * 100 / total
}
