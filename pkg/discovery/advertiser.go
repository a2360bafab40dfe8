package discovery

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/enbility/zeroconf/v3"
)

// Advertiser publishes listener announcements over mDNS. One
// advertiser can carry many instances; each stays published until
// Stop or Close.
type Advertiser struct {
	mu      sync.Mutex
	servers map[string]*zeroconf.Server
	closed  bool
}

// NewAdvertiser returns an advertiser with no active announcements.
func NewAdvertiser() *Advertiser {
	return &Advertiser{servers: make(map[string]*zeroconf.Server)}
}

// Advertise publishes ann. Announcing an instance name that is already
// published replaces the previous announcement, so a listener rebound
// to a new port can re-announce under the same name.
func (a *Advertiser) Advertise(ann Announcement) error {
	if ann.Instance == "" {
		return errors.New("advertise: instance name required")
	}
	if ann.Endpoint.Port == 0 {
		return errors.New("advertise: endpoint port is unresolved")
	}

	ttl := ann.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	opts := []zeroconf.ServerOption{zeroconf.TTL(uint32(ttl.Seconds()))}

	server, err := zeroconf.Register(
		ann.Instance,
		serviceTypeFor(ann.Endpoint.Kind),
		Domain,
		ann.Endpoint.Port,
		encodeTXT(ann),
		interfacesFor(ann.Interface),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("advertise %q: %w", ann.Instance, err)
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		server.Shutdown()
		return errors.New("advertise: advertiser closed")
	}
	if prev, ok := a.servers[ann.Instance]; ok {
		prev.Shutdown()
	}
	a.servers[ann.Instance] = server
	a.mu.Unlock()
	return nil
}

// Stop withdraws one announcement. Unknown instances are a no-op.
func (a *Advertiser) Stop(instance string) {
	a.mu.Lock()
	server, ok := a.servers[instance]
	delete(a.servers, instance)
	a.mu.Unlock()
	if ok {
		server.Shutdown()
	}
}

// Instances returns the names currently published.
func (a *Advertiser) Instances() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	names := make([]string, 0, len(a.servers))
	for name := range a.servers {
		names = append(names, name)
	}
	return names
}

// Close withdraws every announcement. The advertiser cannot be reused.
func (a *Advertiser) Close() {
	a.mu.Lock()
	servers := a.servers
	a.servers = make(map[string]*zeroconf.Server)
	a.closed = true
	a.mu.Unlock()
	for _, server := range servers {
		server.Shutdown()
	}
}

// interfacesFor resolves a named interface. Unknown names fall back to
// all interfaces, matching a config written for hardware that is not
// present.
func interfacesFor(name string) []net.Interface {
	if name == "" {
		return nil
	}
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil
	}
	return []net.Interface{*iface}
}
