package api

import (
	"net/http"

	"foldhost/internal/router"

	"github.com/gin-gonic/gin"
)

// TopologyHandler 返回当前拓扑与路由表
// GET /_topology
func (s *Server) TopologyHandler(c *gin.Context) {
	topo := s.current()
	if topo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "topology not loaded"})
		return
	}

	c.JSON(http.StatusOK, TopologyResponse{
		Topology: topo.View(),
		Subjects: topo.Subjects(),
		Routes:   s.router.Routes(),
	})
}

// ConfigHandler 返回当前拓扑渲染出的 nginx 配置
// GET /_config
func (s *Server) ConfigHandler(c *gin.Context) {
	topo := s.current()
	if topo == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "topology not loaded"})
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", router.Render(topo, s.render))
}
