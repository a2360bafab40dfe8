package discovery

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/enbility/zeroconf/v3"

	"github.com/uniwire/uniwire-go/pkg/endpoint"
)

// Found is one discovered listener, aggregated across the interfaces
// it was seen on.
type Found struct {
	// Instance is the advertised instance name.
	Instance string

	// Kind is the transport kind behind the endpoint scheme.
	Kind endpoint.Kind

	// Scheme is the advertised endpoint scheme (quic, ws, wss,
	// webrtc, webtransport).
	Scheme string

	// Host is the advertising mDNS hostname.
	Host string

	// Port is the listener's port.
	Port int

	// Addresses are the resolved A and AAAA addresses.
	Addresses []net.IP

	// Protocols lists the advertised application protocol ids.
	Protocols []string

	// Fingerprint is the advertised certificate fingerprint, if any.
	Fingerprint string
}

// Endpoints expands the discovery result into dialable endpoint
// addresses, one per resolved IP.
func (f Found) Endpoints() []string {
	out := make([]string, 0, len(f.Addresses))
	for _, ip := range f.Addresses {
		host := ip.String()
		if ip.To4() == nil {
			host = "[" + host + "]"
		}
		out = append(out, fmt.Sprintf("%s://%s:%d", f.Scheme, host, f.Port))
	}
	return out
}

// Browser finds advertised listeners. The zero value browses on all
// interfaces.
type Browser struct {
	// Interface restricts browsing to one named interface. Empty
	// means all multicast-capable interfaces.
	Interface string
}

// Browse watches both uniwire service types until ctx ends. Each
// discovered instance is delivered once, on first sighting, with the
// addresses known at that moment; the channel closes when browsing
// stops.
func (b *Browser) Browse(ctx context.Context) (<-chan Found, error) {
	var opts []zeroconf.ClientOption
	if b.Interface != "" {
		iface, err := net.InterfaceByName(b.Interface)
		if err != nil {
			return nil, fmt.Errorf("browse: interface %q: %w", b.Interface, err)
		}
		opts = append(opts, zeroconf.SelectIfaces([]net.Interface{*iface}))
	}

	out := make(chan Found)
	var wg sync.WaitGroup

	// Each service type gets its own entry channels; zeroconf closes
	// them when the browse ends.
	for _, service := range []string{ServiceTypeUDP, ServiceTypeTCP} {
		entries := make(chan *zeroconf.ServiceEntry)
		removed := make(chan *zeroconf.ServiceEntry)

		wg.Add(1)
		go func() {
			defer wg.Done()
			aggregate(ctx, entries, removed, out)
		}()
		go func() {
			_ = zeroconf.Browse(ctx, service, Domain, entries, removed, opts...)
		}()
	}

	go func() {
		wg.Wait()
		close(out)
	}()
	return out, nil
}

// aggregate folds per-interface sightings of the same instance into
// one Found and emits it once.
func aggregate(ctx context.Context, entries, removed <-chan *zeroconf.ServiceEntry, out chan<- Found) {
	seen := make(map[string]*Found)

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return
			}
			found := entryToFound(entry)
			if found == nil {
				continue
			}
			if existing, known := seen[found.Instance]; known {
				existing.Addresses = mergeAddresses(existing.Addresses, found.Addresses)
				continue
			}
			seen[found.Instance] = found
			select {
			case out <- *found:
			case <-ctx.Done():
				return
			}

		case entry, ok := <-removed:
			if !ok {
				removed = nil
				continue
			}
			existing, known := seen[entry.Instance]
			if !known {
				continue
			}
			existing.Addresses = dropAddresses(existing.Addresses, entry.AddrIPv4, entry.AddrIPv6)
			if len(existing.Addresses) == 0 {
				delete(seen, entry.Instance)
			}

		case <-ctx.Done():
			return
		}
	}
}

// entryToFound decodes one mDNS entry. Entries without our scheme key
// are foreign records under the same service type.
func entryToFound(entry *zeroconf.ServiceEntry) *Found {
	txt := decodeTXT(entry.Text)
	scheme, ok := txt[TXTKeyScheme]
	if !ok {
		return nil
	}
	kind, ok := endpoint.KindFromScheme(scheme)
	if !ok {
		return nil
	}

	found := &Found{
		Instance:    entry.Instance,
		Kind:        kind,
		Scheme:      scheme,
		Host:        entry.HostName,
		Port:        entry.Port,
		Protocols:   splitProtocols(txt[TXTKeyProtocols]),
		Fingerprint: txt[TXTKeyFingerprint],
	}
	found.Addresses = mergeAddresses(found.Addresses, entry.AddrIPv4)
	found.Addresses = mergeAddresses(found.Addresses, entry.AddrIPv6)
	return found
}

// mergeAddresses appends addresses not already present.
func mergeAddresses(have []net.IP, add []net.IP) []net.IP {
	for _, ip := range add {
		dup := false
		for _, existing := range have {
			if existing.Equal(ip) {
				dup = true
				break
			}
		}
		if !dup {
			have = append(have, ip)
		}
	}
	return have
}

// dropAddresses removes the addresses listed in a removal event.
func dropAddresses(have []net.IP, gone ...[]net.IP) []net.IP {
	kept := have[:0]
	for _, ip := range have {
		removed := false
		for _, set := range gone {
			for _, g := range set {
				if ip.Equal(g) {
					removed = true
					break
				}
			}
			if removed {
				break
			}
		}
		if !removed {
			kept = append(kept, ip)
		}
	}
	return kept
}
