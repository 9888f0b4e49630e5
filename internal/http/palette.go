package http

import (
	"net/http"
	"strings"

	"stablewatch/internal/analytics"
)

// paletteCSS holds one swatch rule per counterparty fill colour. The page
// refers to a fill by class because the CSP forbids inline styles.
var paletteCSS = buildPaletteCSS(analytics.Palette[:])

func buildPaletteCSS(fills []string) []byte {
	var b strings.Builder
	for _, fill := range fills {
		b.WriteString(".")
		b.WriteString(fillClass(fill))
		b.WriteString(" { background: ")
		b.WriteString(fill)
		b.WriteString("; }\n")
	}
	return []byte(b.String())
}

// fillClass maps a fill colour such as "#0088FE" to the class "fill-0088fe".
func fillClass(fill string) string {
	hex := strings.ToLower(strings.TrimPrefix(fill, "#"))
	if hex == "" {
		return ""
	}
	return "fill-" + hex
}

func handlePaletteCSS(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/css; charset=utf-8")
	_, _ = w.Write(paletteCSS)
}
