package api

import (
	"foldhost/internal/router"
	"foldhost/internal/topology"
)

// TopologyResponse 当前预览拓扑
type TopologyResponse struct {
	Topology topology.View  `json:"topology"`
	Subjects []string       `json:"subjects"`
	Routes   []router.Route `json:"routes"`
}
