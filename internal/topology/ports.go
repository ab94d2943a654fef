package topology

import "foldhost/internal/models"

// BasePort is the first loopback port handed to a containerized app.
const BasePort = 3000

// AllocatePorts walks the sorted app list once. Each containerized app takes
// the next port; static apps take none and do not advance the counter.
//
// Ports are stable only while the set of containerized names and their
// relative order stay the same: adding or removing an app that sorts earlier
// shifts every later port by one.
func AllocatePorts(apps []models.AppRecord) []models.PortAssignment {
	var ports []models.PortAssignment
	next := BasePort
	for _, app := range apps {
		if !app.Containerized() {
			continue
		}
		ports = append(ports, models.PortAssignment{App: app.Name, Port: next})
		next++
	}
	return ports
}
