package notify

import (
	"embed"
	"fmt"
	"regexp"
	"strings"
)

//go:embed templates/*.html
var templateFS embed.FS

var tokenPattern = regexp.MustCompile(`\{[^{}]+\}`)

// Substitute replaces every {token} in template with its value from vars.
// Tokens with no matching key are removed, never left verbatim or rendered
// as a missing-value marker.
func Substitute(template string, vars map[string]string) string {
	return tokenPattern.ReplaceAllStringFunc(template, func(tok string) string {
		return vars[strings.Trim(tok, "{}")]
	})
}

// Render loads an embedded template by name and substitutes vars into it.
func Render(name string, vars map[string]string) (string, error) {
	raw, err := templateFS.ReadFile("templates/" + name)
	if err != nil {
		return "", fmt.Errorf("read template %s: %w", name, err)
	}
	return Substitute(string(raw), vars), nil
}
