package topology

import (
	"sort"

	"foldhost/internal/models"
)

// Topology is the desired state of one run: every app, its kind, its port
// and the root domain. It is built once and never mutated afterwards.
type Topology struct {
	domain    string
	apps      []models.AppRecord
	ports     []models.PortAssignment
	portByApp map[string]int
}

// Build sorts a copy of apps and derives the port table from it.
func Build(domain string, apps []models.AppRecord) *Topology {
	sorted := make([]models.AppRecord, len(apps))
	copy(sorted, apps)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	ports := AllocatePorts(sorted)
	byApp := make(map[string]int, len(ports))
	for _, p := range ports {
		byApp[p.App] = p.Port
	}

	return &Topology{
		domain:    domain,
		apps:      sorted,
		ports:     ports,
		portByApp: byApp,
	}
}

// Load classifies root and builds the topology in one go.
func Load(root, domain string, reserved []string) (*Topology, error) {
	apps, err := Classify(root, reserved)
	if err != nil {
		return nil, err
	}
	return Build(domain, apps), nil
}

func (t *Topology) Domain() string { return t.domain }

func (t *Topology) Apps() []models.AppRecord {
	out := make([]models.AppRecord, len(t.apps))
	copy(out, t.apps)
	return out
}

func (t *Topology) Ports() []models.PortAssignment {
	out := make([]models.PortAssignment, len(t.ports))
	copy(out, t.ports)
	return out
}

// Port returns the assigned port of a containerized app.
func (t *Topology) Port(app string) (int, bool) {
	p, ok := t.portByApp[app]
	return p, ok
}

// Containerized returns the names of containerized apps in topology order.
func (t *Topology) Containerized() []string {
	names := make([]string, 0, len(t.ports))
	for _, p := range t.ports {
		names = append(names, p.App)
	}
	return names
}

// Subject is the DNS name serving app.
func (t *Topology) Subject(app string) string {
	return app + "." + t.domain
}

// Subjects lists every name that needs a certificate: the root domain first,
// then one subdomain per app in topology order.
func (t *Topology) Subjects() []string {
	subjects := make([]string, 0, len(t.apps)+1)
	subjects = append(subjects, t.domain)
	for _, app := range t.apps {
		subjects = append(subjects, t.Subject(app.Name))
	}
	return subjects
}

// View is a serializable copy used by plan output and the preview API.
type View struct {
	Domain string                  `json:"domain" yaml:"domain"`
	Apps   []models.AppRecord      `json:"apps" yaml:"apps"`
	Ports  []models.PortAssignment `json:"ports" yaml:"ports"`
}

func (t *Topology) View() View {
	return View{Domain: t.domain, Apps: t.Apps(), Ports: t.Ports()}
}
