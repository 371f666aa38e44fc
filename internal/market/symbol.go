package market

import "strings"

// venue suffixes the broker appends on some realtime frames
var venueSuffixes = []string{"_NX", "_AL"}

// Normalize strips the market prefix letter and any venue suffix from a
// broker symbol code. "A005930_NX" -> "005930". Applied at every ingress
// from external systems.
func Normalize(code string) string {
	code = strings.TrimSpace(code)
	for _, suf := range venueSuffixes {
		code = strings.TrimSuffix(code, suf)
	}
	for len(code) > 0 && (code[0] < '0' || code[0] > '9') {
		code = code[1:]
	}
	return code
}
