package discovery

import "strings"

// encodeTXT renders an announcement's TXT records as key=value pairs.
func encodeTXT(ann Announcement) []string {
	txt := []string{TXTKeyScheme + "=" + ann.Endpoint.Scheme()}
	if len(ann.Protocols) > 0 {
		txt = append(txt, TXTKeyProtocols+"="+strings.Join(ann.Protocols, ","))
	}
	if ann.Fingerprint != "" {
		txt = append(txt, TXTKeyFingerprint+"="+ann.Fingerprint)
	}
	return txt
}

// decodeTXT parses key=value TXT records into a map. Records without
// an equals sign are dropped; mDNS responders may add padding entries.
func decodeTXT(txt []string) map[string]string {
	m := make(map[string]string, len(txt))
	for _, kv := range txt {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		m[k] = v
	}
	return m
}

// splitProtocols parses the comma-joined protocol list.
func splitProtocols(v string) []string {
	if v == "" {
		return nil
	}
	return strings.Split(v, ",")
}
