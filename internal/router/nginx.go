package router

import (
	"fmt"
	"path"
	"strings"

	"foldhost/internal/models"
	"foldhost/internal/topology"
)

// assetExtensions get long-lived cache headers in static blocks.
var assetExtensions = []string{
	"css", "js", "mjs", "map", "json",
	"png", "jpg", "jpeg", "gif", "svg", "ico", "webp", "avif",
	"woff", "woff2", "ttf", "otf", "eot",
	"mp4", "webm", "mp3", "wasm",
}

// RenderOptions carries the remote layout the rendered config points at.
type RenderOptions struct {
	AppsRoot      string
	RootDir       string
	LiveDir       string
	ChallengeRoot string

	// Unavailable lists subjects without certificate material; they keep
	// plaintext coverage but get no secured block.
	Unavailable []string
}

// Render produces the complete nginx document for topo.
// Identical inputs always give byte-identical output.
func Render(topo *topology.Topology, opts RenderOptions) []byte {
	skip := make(map[string]bool, len(opts.Unavailable))
	for _, s := range opts.Unavailable {
		skip[s] = true
	}

	var b strings.Builder
	b.WriteString("# Managed by foldhost. Regenerated on every deploy; local edits are overwritten.\n\n")

	b.WriteString("map $http_upgrade $connection_upgrade {\n")
	b.WriteString("    default upgrade;\n")
	b.WriteString("    ''      close;\n")
	b.WriteString("}\n\n")

	writePlaintext(&b, topo.Subjects(), opts.ChallengeRoot)

	domain := topo.Domain()
	if !skip[domain] {
		b.WriteString("\n")
		writeRoot(&b, domain, opts)
	}

	for _, app := range topo.Apps() {
		subject := topo.Subject(app.Name)
		if skip[subject] {
			continue
		}
		b.WriteString("\n")
		if app.Kind == models.KindContainerized {
			port, _ := topo.Port(app.Name)
			writeProxy(&b, subject, port, opts)
		} else {
			writeStatic(&b, subject, path.Join(opts.AppsRoot, app.Name), opts)
		}
	}

	return []byte(b.String())
}

func writePlaintext(b *strings.Builder, subjects []string, challengeRoot string) {
	b.WriteString("server {\n")
	b.WriteString("    listen 80;\n")
	b.WriteString("    listen [::]:80;\n")
	fmt.Fprintf(b, "    server_name %s;\n\n", strings.Join(subjects, " "))
	b.WriteString("    location /.well-known/acme-challenge/ {\n")
	fmt.Fprintf(b, "        root %s;\n", challengeRoot)
	b.WriteString("    }\n\n")
	b.WriteString("    location / {\n")
	b.WriteString("        return 301 https://$host$request_uri;\n")
	b.WriteString("    }\n")
	b.WriteString("}\n")
}

func writeTLSHeader(b *strings.Builder, subject, liveDir string) {
	fullchain := path.Join(liveDir, subject, "fullchain.pem")
	privkey := path.Join(liveDir, subject, "privkey.pem")

	b.WriteString("server {\n")
	b.WriteString("    listen 443 ssl http2;\n")
	b.WriteString("    listen [::]:443 ssl http2;\n")
	fmt.Fprintf(b, "    server_name %s;\n\n", subject)
	fmt.Fprintf(b, "    ssl_certificate %s;\n", fullchain)
	fmt.Fprintf(b, "    ssl_certificate_key %s;\n", privkey)
	b.WriteString("    ssl_protocols TLSv1.2 TLSv1.3;\n\n")
}

func writeRoot(b *strings.Builder, domain string, opts RenderOptions) {
	writeTLSHeader(b, domain, opts.LiveDir)
	fmt.Fprintf(b, "    root %s;\n", path.Join(opts.AppsRoot, opts.RootDir))
	b.WriteString("    index index.html;\n\n")
	b.WriteString("    location / {\n")
	b.WriteString("        try_files $uri $uri/ /index.html;\n")
	b.WriteString("    }\n")
	b.WriteString("}\n")
}

func writeStatic(b *strings.Builder, subject, root string, opts RenderOptions) {
	writeTLSHeader(b, subject, opts.LiveDir)
	fmt.Fprintf(b, "    root %s;\n", root)
	b.WriteString("    index index.html;\n\n")
	fmt.Fprintf(b, "    location ~* \\.(%s)$ {\n", strings.Join(assetExtensions, "|"))
	b.WriteString("        expires 1y;\n")
	b.WriteString("        add_header Cache-Control \"public, immutable\";\n")
	b.WriteString("        try_files $uri =404;\n")
	b.WriteString("    }\n\n")
	b.WriteString("    location / {\n")
	b.WriteString("        try_files $uri $uri/ /index.html;\n")
	b.WriteString("    }\n")
	b.WriteString("}\n")
}

func writeProxy(b *strings.Builder, subject string, port int, opts RenderOptions) {
	writeTLSHeader(b, subject, opts.LiveDir)
	b.WriteString("    location / {\n")
	fmt.Fprintf(b, "        proxy_pass http://127.0.0.1:%d;\n", port)
	b.WriteString("        proxy_http_version 1.1;\n")
	b.WriteString("        proxy_set_header Upgrade $http_upgrade;\n")
	b.WriteString("        proxy_set_header Connection $connection_upgrade;\n")
	b.WriteString("        proxy_set_header Host $host;\n")
	b.WriteString("        proxy_set_header X-Real-IP $remote_addr;\n")
	b.WriteString("        proxy_set_header X-Forwarded-For $proxy_add_x_forwarded_for;\n")
	b.WriteString("        proxy_set_header X-Forwarded-Proto $scheme;\n")
	b.WriteString("        proxy_buffering off;\n")
	b.WriteString("        proxy_request_buffering off;\n")
	b.WriteString("        proxy_read_timeout 1h;\n")
	b.WriteString("    }\n")
	b.WriteString("}\n")
}
