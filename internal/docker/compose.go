package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"foldhost/internal/remote"
)

// ComposeRuntime drives docker compose on the target through a transport.
// Each app runs as its own compose project named after the app.
type ComposeRuntime struct {
	Transport remote.Transport

	// AppsRoot limits ListRunning to projects whose compose files live
	// under it; other projects on the host are never reported.
	AppsRoot string
}

func NewComposeRuntime(t remote.Transport, appsRoot string) *ComposeRuntime {
	return &ComposeRuntime{Transport: t, AppsRoot: appsRoot}
}

// ProjectName maps an app name onto a valid compose project name.
// Compose only accepts lowercase letters, digits, dashes and underscores.
func ProjectName(app string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(app) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	name := strings.TrimLeft(b.String(), "-_")
	if name == "" {
		return "app"
	}
	return name
}

// Identity implements the keeper's identity mapping.
func (c *ComposeRuntime) Identity(app string) string {
	return ProjectName(app)
}

// EnsureRunning builds and starts the project in appDir with PORT exported.
// Running it against an up-to-date project is a no-op for compose.
func (c *ComposeRuntime) EnsureRunning(ctx context.Context, name, appDir string, port int) error {
	script := fmt.Sprintf("cd %s && PORT=%s docker compose -p %s up -d --build --remove-orphans",
		remote.ShellEscape(appDir), strconv.Itoa(port), remote.ShellEscape(ProjectName(name)))
	if _, err := remote.Shell(ctx, c.Transport, script); err != nil {
		return fmt.Errorf("compose up %s: %w", name, err)
	}
	return nil
}

// composeProject is one row of `docker compose ls --format json`.
type composeProject struct {
	Name        string `json:"Name"`
	Status      string `json:"Status"`
	ConfigFiles string `json:"ConfigFiles"`
}

// ListRunning returns the sorted names of compose projects with running containers.
func (c *ComposeRuntime) ListRunning(ctx context.Context) ([]string, error) {
	out, err := c.Transport.Run(ctx, "docker", "compose", "ls", "--format", "json")
	if err != nil {
		return nil, fmt.Errorf("compose ls: %w", err)
	}
	return ParseProjects([]byte(out), c.AppsRoot)
}

// ParseProjects decodes compose ls output, keeping running projects under
// appsRoot only. An empty appsRoot keeps every running project.
func ParseProjects(data []byte, appsRoot string) ([]string, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		return []string{}, nil
	}

	var projects []composeProject
	if err := json.Unmarshal([]byte(trimmed), &projects); err != nil {
		return nil, fmt.Errorf("parse compose ls output: %w", err)
	}

	names := make([]string, 0, len(projects))
	for _, p := range projects {
		if p.Name == "" {
			continue
		}
		// e.g. "running(2)" or "exited(1), running(1)"
		if !strings.Contains(strings.ToLower(p.Status), "running") {
			continue
		}
		if appsRoot != "" && !underRoot(p.ConfigFiles, appsRoot) {
			continue
		}
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names, nil
}

// underRoot reports whether any of the comma-separated files is inside root.
func underRoot(configFiles, root string) bool {
	prefix := strings.TrimSuffix(root, "/") + "/"
	for _, f := range strings.Split(configFiles, ",") {
		if strings.HasPrefix(strings.TrimSpace(f), prefix) {
			return true
		}
	}
	return false
}

// TearDown stops and removes the project's containers.
func (c *ComposeRuntime) TearDown(ctx context.Context, identity string) error {
	if _, err := c.Transport.Run(ctx, "docker", "compose", "-p", identity, "down", "--remove-orphans"); err != nil {
		return fmt.Errorf("compose down %s: %w", identity, err)
	}
	return nil
}
