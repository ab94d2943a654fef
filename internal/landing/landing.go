// Package landing renders the root-domain index page listing every app.
package landing

import (
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"foldhost/internal/topology"
)

const (
	TokenApps     = "{{APPS}}"
	TokenAppCount = "{{APP_COUNT}}"
	TokenDomain   = "{{DOMAIN}}"
)

// DefaultTemplate is used when the source carries no usable _root/index.html.
const DefaultTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>{{DOMAIN}}</title>
  <style>
    body { font-family: system-ui, sans-serif; max-width: 40rem; margin: 4rem auto; padding: 0 1rem; color: #222; }
    h1 { font-weight: 600; }
    ul { padding-left: 1.2rem; line-height: 1.8; }
    a { color: #0a58ca; text-decoration: none; }
    a:hover { text-decoration: underline; }
    footer { margin-top: 3rem; color: #888; font-size: .85rem; }
  </style>
</head>
<body>
  <h1>{{DOMAIN}}</h1>
  <p>{{APP_COUNT}} apps</p>
  <ul>
{{APPS}}
  </ul>
  <footer>served by foldhost</footer>
</body>
</html>
`

// Render expands the three known tokens. Anything else, including unknown
// {{...}} tokens, is copied through unchanged.
func Render(tmpl string, topo *topology.Topology) string {
	apps := topo.Apps()
	lines := make([]string, 0, len(apps))
	for _, app := range apps {
		lines = append(lines, fmt.Sprintf(`<li><a href="https://%s">%s</a></li>`,
			html.EscapeString(topo.Subject(app.Name)), html.EscapeString(app.Name)))
	}

	r := strings.NewReplacer(
		TokenApps, strings.Join(lines, "\n"),
		TokenAppCount, strconv.Itoa(len(apps)),
		TokenDomain, topo.Domain(),
	)
	return r.Replace(tmpl)
}

// HasToken reports whether tmpl references any known token.
func HasToken(tmpl string) bool {
	return strings.Contains(tmpl, TokenApps) ||
		strings.Contains(tmpl, TokenAppCount) ||
		strings.Contains(tmpl, TokenDomain)
}

// LoadTemplate returns the template for <rootDir>/index.html. A missing
// file selects the built-in template; a file with no known token is served
// as is, so generate is false.
func LoadTemplate(sourceRoot, rootDir string) (tmpl string, generate bool, err error) {
	data, err := os.ReadFile(filepath.Join(sourceRoot, rootDir, "index.html"))
	if os.IsNotExist(err) {
		return DefaultTemplate, true, nil
	}
	if err != nil {
		return "", false, err
	}
	if !HasToken(string(data)) {
		return "", false, nil
	}
	return string(data), true, nil
}
