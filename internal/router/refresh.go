package router

import (
	"net/http"

	"foldhost/internal/topology"

	"github.com/gin-gonic/gin"
)

// TopologyLoader re-reads the source tree.
type TopologyLoader func() (*topology.Topology, error)

// RefreshHandler 重新扫描源目录并重建预览路由
func RefreshHandler(r *Router, load TopologyLoader, rootHandler func(*topology.Topology) http.Handler) gin.HandlerFunc {
	return func(c *gin.Context) {
		topo, err := load()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		var root http.Handler
		if rootHandler != nil {
			root = rootHandler(topo)
		}
		r.Load(topo, root)

		c.JSON(http.StatusOK, gin.H{"status": "ok", "apps": len(topo.Apps()), "routes": r.Routes()})
	}
}
