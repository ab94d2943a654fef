package router

import (
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"foldhost/internal/resource"
	"foldhost/internal/topology"

	"github.com/rs/zerolog"
)

// Router dispatches preview requests by Host the same way the rendered
// nginx config does: <app>.<domain> to a static directory or to the app's
// loopback port, and the bare domain to the root directory.
type Router struct {
	SourceRoot string
	RootDir    string
	Logger     zerolog.Logger

	// hostRoutes: "blog.example.com" -> Handler
	hostRoutes map[string]http.Handler
	kinds      map[string]string
	mu         sync.RWMutex
}

func NewRouter(sourceRoot, rootDir string, logger zerolog.Logger) *Router {
	return &Router{
		SourceRoot: sourceRoot,
		RootDir:    rootDir,
		Logger:     logger,
		hostRoutes: make(map[string]http.Handler),
		kinds:      make(map[string]string),
	}
}

// Load replaces the routing table with one derived from topo.
// rootHandler serves the bare domain; nil serves <source>/<root_dir>.
func (r *Router) Load(topo *topology.Topology, rootHandler http.Handler) {
	routes := make(map[string]http.Handler, len(topo.Apps())+1)
	kinds := make(map[string]string, len(topo.Apps())+1)

	if rootHandler == nil {
		rootHandler = resource.NewStaticHandler(filepath.Join(r.SourceRoot, r.RootDir))
	}
	routes[normalizeHost(topo.Domain())] = rootHandler
	kinds[normalizeHost(topo.Domain())] = "root"

	for _, app := range topo.Apps() {
		host := normalizeHost(topo.Subject(app.Name))
		if port, ok := topo.Port(app.Name); ok {
			target, _ := url.Parse(fmt.Sprintf("http://127.0.0.1:%d", port))
			routes[host] = httputil.NewSingleHostReverseProxy(target)
			kinds[host] = fmt.Sprintf("proxy:%d", port)
		} else {
			routes[host] = resource.NewStaticHandler(filepath.Join(r.SourceRoot, app.Name))
			kinds[host] = "static"
		}
	}

	r.mu.Lock()
	r.hostRoutes = routes
	r.kinds = kinds
	r.mu.Unlock()

	r.Logger.Info().Int("routes", len(routes)).Str("domain", topo.Domain()).Msg("preview routes loaded")
}

// Routes returns host -> route kind, sorted by host.
func (r *Router) Routes() []Route {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Route, 0, len(r.kinds))
	for host, kind := range r.kinds {
		out = append(out, Route{Host: host, Kind: kind})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Host < out[j].Host })
	return out
}

// Route is one entry of the preview routing table.
type Route struct {
	Host string `json:"host"`
	Kind string `json:"kind"`
}

// Match returns the handler for a Host header value.
func (r *Router) Match(host string) (http.Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.hostRoutes[normalizeHost(host)]
	return h, ok
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	handler, ok := r.Match(req.Host)
	if !ok {
		r.Logger.Debug().Str("host", req.Host).Str("path", req.URL.Path).Msg("no route matched")
		http.NotFound(w, req)
		return
	}
	handler.ServeHTTP(w, req)
}

func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.TrimSuffix(host, ".")
}
