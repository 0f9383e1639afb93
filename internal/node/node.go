package node

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/iox2go/iceoryx2/internal/logx"
)

// PortKind distinguishes the message-passing roles a Node's registry tracks,
// used only for metrics labelling.
type PortKind string

const (
	PortPublisher  PortKind = "publisher"
	PortSubscriber PortKind = "subscriber"
	PortNotifier   PortKind = "notifier"
	PortListener   PortKind = "listener"
	PortClient     PortKind = "client"
	PortServer     PortKind = "server"
)

// Registry is the process-local bookkeeping a Node keeps of the ports it has
// opened, so WaitWithContext-style shutdown and Cleaner-style diagnostics can
// enumerate what a process is holding without walking every service.
type Registry struct {
	mu    sync.Mutex
	ports map[PortKind]map[uint64]string // id -> service name, per kind

	openedTotal *prometheus.CounterVec
	closedTotal *prometheus.CounterVec
	activeGauge *prometheus.GaugeVec
}

// NewRegistry creates an empty per-node port registry. reg may
// be nil, in which case metrics are tracked but never exposed.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		ports: make(map[PortKind]map[uint64]string),
		openedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iceoryx2_node_ports_opened_total",
			Help: "Total ports opened by this node, by kind.",
		}, []string{"kind"}),
		closedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iceoryx2_node_ports_closed_total",
			Help: "Total ports closed by this node, by kind.",
		}, []string{"kind"}),
		activeGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "iceoryx2_node_ports_active",
			Help: "Ports currently open on this node, by kind.",
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(r.openedTotal, r.closedTotal, r.activeGauge)
	}
	return r
}

// Track records that a port of the given kind and id, bound to serviceName,
// was opened by this node.
func (r *Registry) Track(kind PortKind, id uint64, serviceName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.ports[kind]
	if !ok {
		m = make(map[uint64]string)
		r.ports[kind] = m
	}
	m[id] = serviceName
	r.openedTotal.WithLabelValues(string(kind)).Inc()
	r.activeGauge.WithLabelValues(string(kind)).Set(float64(len(m)))
}

// Untrack records that a port was closed.
func (r *Registry) Untrack(kind PortKind, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.ports[kind]
	if !ok {
		return
	}
	if _, exists := m[id]; !exists {
		return
	}
	delete(m, id)
	r.closedTotal.WithLabelValues(string(kind)).Inc()
	r.activeGauge.WithLabelValues(string(kind)).Set(float64(len(m)))
}

// Count returns the number of currently tracked ports of the given kind.
func (r *Registry) Count(kind PortKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ports[kind])
}

// Drain closes out every tracked port by invoking onClose for each, then
// clears the registry. Used when a Node shuts down so open ports don't
// leak into the next node created in this process.
func (r *Registry) Drain(onClose func(kind PortKind, id uint64, serviceName string)) {
	r.mu.Lock()
	snapshot := make(map[PortKind]map[uint64]string, len(r.ports))
	for k, m := range r.ports {
		cp := make(map[uint64]string, len(m))
		for id, name := range m {
			cp[id] = name
		}
		snapshot[k] = cp
	}
	r.ports = make(map[PortKind]map[uint64]string)
	r.mu.Unlock()

	for kind, m := range snapshot {
		for id, name := range m {
			if onClose != nil {
				onClose(kind, id, name)
			}
			r.closedTotal.WithLabelValues(string(kind)).Inc()
		}
		r.activeGauge.WithLabelValues(string(kind)).Set(0)
	}
	logx.For("node").Debug("drained port registry on node shutdown")
}
