package article

import (
	"bytes"
	"strings"
)

// shellBodyThreshold is the size under which a script-heavy response is
// assumed to be an application shell rather than a readable document.
const shellBodyThreshold = 2048

// scriptDensityPercent is the share of the document occupied by script tags
// above which a small body counts as a shell.
const scriptDensityPercent = 25

// appShellMarkers identify client-side rendering roots. A body carrying one
// of these has its real content assembled in the browser.
var appShellMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("window.__INITIAL_STATE__"),
}

// looksLikeAppShell reports whether a successful response body is a
// JavaScript shell with no server-rendered content. Such a body will never
// match the extraction selectors, so the caller should hand the target to the
// rendered strategy instead of parsing it.
func looksLikeAppShell(body []byte) bool {
	if len(body) == 0 {
		return true
	}
	for _, marker := range appShellMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	if len(body) < shellBodyThreshold && scriptDensity(body) >= scriptDensityPercent {
		return true
	}
	return false
}

// scriptDensity returns the percentage of the document covered by script
// elements, counting unterminated tags through to the end of the body.
func scriptDensity(body []byte) int {
	lower := strings.ToLower(string(body))
	total := len(lower)

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	covered := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel

		tagEnd := strings.IndexByte(lower[start:], '>')
		if tagEnd == -1 {
			covered += total - start
			break
		}
		contentStart := start + tagEnd + 1

		relEnd := strings.Index(lower[contentStart:], closeTag)
		var next int
		if relEnd == -1 {
			next = total
		} else {
			next = contentStart + relEnd + len(closeTag)
		}
		covered += next - start
		pos = next
	}
	if covered == 0 {
		return 0
	}
	return covered * 100 / total
}
