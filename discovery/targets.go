package discovery

import (
	"strconv"
	"strings"
)

// Targets builds the probe list: the global broadcast address on every
// port, then for each non-empty host the host itself and, for dotted IPv4
// hosts, its x.y.z.255 broadcast address.
func Targets(hosts []string, ports []int) []Target {
	if len(ports) == 0 {
		ports = Ports
	}
	var out []Target
	add := func(host string) {
		for _, port := range ports {
			out = append(out, Target{Host: host, Port: port})
		}
	}
	add(BroadcastAddr)
	for _, host := range hosts {
		host = strings.TrimSpace(host)
		if host == "" {
			continue
		}
		add(host)
		if bcast, ok := SubnetBroadcast(host); ok {
			add(bcast)
		}
	}
	return out
}

// SubnetBroadcast replaces the last octet of a dotted-decimal IPv4 host
// with 255. Anything else yields ok=false.
func SubnetBroadcast(host string) (string, bool) {
	parts := strings.Split(host, ".")
	if len(parts) != 4 {
		return "", false
	}
	for _, p := range parts {
		if p == "" {
			return "", false
		}
		if _, err := strconv.Atoi(p); err != nil {
			return "", false
		}
	}
	parts[3] = "255"
	return strings.Join(parts, "."), true
}

// ParseReply extracts the service port from a reply such as
// "crosspoint;81" or "name;8080,extra". Missing or malformed ports yield
// DefaultServicePort.
func ParseReply(payload []byte) int {
	text := strings.ToValidUTF8(string(payload), "")
	semi := strings.IndexByte(text, ';')
	if semi < 0 {
		return DefaultServicePort
	}
	field, _, _ := strings.Cut(strings.TrimSpace(text[semi+1:]), ",")
	port, err := strconv.Atoi(strings.TrimSpace(field))
	if err != nil {
		return DefaultServicePort
	}
	return port
}
