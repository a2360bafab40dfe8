// Package discovery advertises listeners over mDNS and browses them
// back into dialable endpoints.
//
// A listener is published as a service instance under "_uniwire._tcp"
// when the transport under the session runs over TCP (ws, wss) and
// under "_uniwire._udp" for everything else (quic, webtransport,
// webrtc). TXT records carry the endpoint scheme, the offered
// application protocols, and a short fingerprint of the listener
// certificate so browsers can tell listeners apart before dialing.
//
// The advertised port is the listener's resolved port; addresses come
// from mDNS A/AAAA resolution of the advertising host. A browse result
// therefore expands into one candidate endpoint per discovered
// address.
package discovery
