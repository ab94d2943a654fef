package api

import (
	"net/http"
	"path/filepath"
	"sync"

	"foldhost/internal/auth"
	"foldhost/internal/landing"
	"foldhost/internal/resource"
	"foldhost/internal/router"
	"foldhost/internal/topology"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Server 本地预览服务：内部接口 + 按 Host 分发的应用路由
type Server struct {
	// Token 非空时内部接口需要认证
	Token string

	router  *router.Router
	load    router.TopologyLoader
	render  router.RenderOptions
	rootDir string
	source  string
	logger  zerolog.Logger

	mu   sync.RWMutex
	topo *topology.Topology
}

func NewServer(r *router.Router, load router.TopologyLoader, render router.RenderOptions, logger zerolog.Logger) *Server {
	return &Server{
		router:  r,
		load:    load,
		render:  render,
		rootDir: r.RootDir,
		source:  r.SourceRoot,
		logger:  logger,
	}
}

// Reload 重新扫描源目录
func (s *Server) Reload() (*topology.Topology, error) {
	topo, err := s.load()
	if err != nil {
		return nil, err
	}
	s.router.Load(topo, s.rootHandler(topo))

	s.mu.Lock()
	s.topo = topo
	s.mu.Unlock()
	return topo, nil
}

func (s *Server) current() *topology.Topology {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.topo
}

// rootHandler 根域名：首页为渲染后的落地页，其余文件来自 _root 目录
func (s *Server) rootHandler(topo *topology.Topology) http.Handler {
	files := resource.NewStaticHandler(filepath.Join(s.source, s.rootDir))

	tmpl, generate, err := landing.LoadTemplate(s.source, s.rootDir)
	if err != nil {
		s.logger.Warn().Err(err).Msg("landing template unreadable, using built-in")
		tmpl, generate = landing.DefaultTemplate, true
	}
	if !generate {
		return files
	}
	page := []byte(landing.Render(tmpl, topo))

	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/" && req.URL.Path != "/index.html" {
			files.ServeHTTP(w, req)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		w.Write(page)
	})
}

// Engine 构建 gin 引擎；未匹配内部接口的请求交给 Host 路由
func (s *Server) Engine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", HealthCheckHandler)

	internal := r.Group("/", auth.TokenAuthMiddleware(s.Token))
	internal.GET("/_topology", s.TopologyHandler)
	internal.GET("/_config", s.ConfigHandler)
	internal.POST("/_refresh", router.RefreshHandler(s.router, s.reloadForRefresh, s.rootHandler))

	r.NoRoute(func(c *gin.Context) {
		s.router.ServeHTTP(c.Writer, c.Request)
	})
	return r
}

// reloadForRefresh 刷新时同步更新缓存的拓扑与落地页
func (s *Server) reloadForRefresh() (*topology.Topology, error) {
	topo, err := s.load()
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.topo = topo
	s.mu.Unlock()
	return topo, nil
}
