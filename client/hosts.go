package client

import (
	"fmt"
	"math/rand"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"
)

const defaultEndpointPort = "8529"

// LoadBalancing selects how the pool picks a host for requests without
// explicit host affinity.
type LoadBalancing string

const (
	// LoadBalancingNone always uses the active host.
	LoadBalancingNone LoadBalancing = "none"
	// LoadBalancingRoundRobin advances the active host after every consistent read.
	LoadBalancingRoundRobin LoadBalancing = "round-robin"
	// LoadBalancingOneRandom picks the active host at random once.
	LoadBalancingOneRandom LoadBalancing = "one-random"
)

// ParseLoadBalancing accepts the dashed, underscored and upper-case spellings
// (round-robin, ROUND_ROBIN, ...). Empty selects LoadBalancingNone.
func ParseLoadBalancing(raw string) (LoadBalancing, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.ReplaceAll(normalized, "_", "-")
	switch normalized {
	case "", "none":
		return LoadBalancingNone, nil
	case "round-robin", "roundrobin":
		return LoadBalancingRoundRobin, nil
	case "one-random", "random":
		return LoadBalancingOneRandom, nil
	default:
		return "", fmt.Errorf("arangox: unknown load balancing strategy %q", raw)
	}
}

// ParseEndpoints splits a comma-separated server list and normalizes each
// endpoint.
func ParseEndpoints(raw string) ([]string, error) {
	return parseEndpointSlice(strings.Split(raw, ","))
}

func parseEndpointSlice(parts []string) ([]string, error) {
	endpoints := make([]string, 0, len(parts))
	for _, part := range parts {
		ep := strings.TrimSpace(part)
		if ep == "" {
			continue
		}
		normalized, err := normalizeEndpoint(ep)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, normalized)
	}
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("arangox: no server endpoints provided")
	}
	return endpoints, nil
}

// normalizeEndpoint maps the server's own endpoint notation onto HTTP URLs:
// tcp:// becomes http://, ssl:// and tls:// become https://, and
// http+unix:// becomes unix://. Bare host[:port] defaults to http.
func normalizeEndpoint(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("arangox: empty endpoint")
	}
	lower := strings.ToLower(trimmed)
	switch {
	case strings.HasPrefix(lower, "unix://"):
		return trimmed, nil
	case strings.HasPrefix(lower, "http+unix://"), strings.HasPrefix(lower, "https+unix://"):
		return "unix://" + trimmed[strings.Index(trimmed, "://")+3:], nil
	case strings.HasPrefix(lower, "tcp://"):
		trimmed = "http://" + trimmed[len("tcp://"):]
	case strings.HasPrefix(lower, "ssl://"):
		trimmed = "https://" + trimmed[len("ssl://"):]
	case strings.HasPrefix(lower, "tls://"):
		trimmed = "https://" + trimmed[len("tls://"):]
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
	default:
		trimmed = "http://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("arangox: parse endpoint %q: %w", raw, err)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("arangox: endpoint %q has no host", raw)
	}
	return ensurePort(u, defaultEndpointPort), nil
}

func ensurePort(u *url.URL, defaultPort string) string {
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = defaultPort
	}
	if strings.Contains(host, ":") {
		u.Host = "[" + strings.Trim(host, "[]") + "]:" + port
	} else {
		u.Host = net.JoinHostPort(host, port)
	}
	return strings.TrimRight(u.String(), "/")
}

// hostPool is the ordered set of known endpoints. It never shrinks; failed
// hosts are not removed.
type hostPool struct {
	mu       sync.Mutex
	hosts    []string
	strategy LoadBalancing
	active   int
	dirty    int
}

func newHostPool(hosts []string, strategy LoadBalancing) (*hostPool, error) {
	if len(hosts) == 0 {
		return nil, fmt.Errorf("arangox: host pool requires at least one endpoint")
	}
	p := &hostPool{
		hosts:    append([]string(nil), hosts...),
		strategy: strategy,
	}
	if strategy == LoadBalancingOneRandom && len(hosts) > 1 {
		r := rand.New(rand.NewSource(time.Now().UnixNano()))
		p.active = r.Intn(len(hosts))
		p.dirty = p.active
	}
	return p, nil
}

// pick returns the host index for a request without affinity. Dirty reads
// rotate a separate index over every host; consistent reads stay on the
// active host unless the strategy is round-robin.
func (p *hostPool) pick(dirtyRead bool) (int, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if dirtyRead {
		idx := p.dirty
		p.dirty = (p.dirty + 1) % len(p.hosts)
		return idx, p.hosts[idx]
	}
	idx := p.active
	if p.strategy == LoadBalancingRoundRobin {
		p.active = (p.active + 1) % len(p.hosts)
	}
	return idx, p.hosts[idx]
}

func (p *hostPool) at(idx int) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if idx < 0 || idx >= len(p.hosts) {
		return "", fmt.Errorf("arangox: host index %d out of range (pool has %d hosts)", idx, len(p.hosts))
	}
	return p.hosts[idx], nil
}

// add appends endpoints not already present and returns how many were new.
func (p *hostPool) add(endpoints []string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	added := 0
	for _, ep := range endpoints {
		dup := false
		for _, existing := range p.hosts {
			if existing == ep {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		p.hosts = append(p.hosts, ep)
		added++
	}
	return added
}

func (p *hostPool) snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.hosts...)
}

func (p *hostPool) activeIndex() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *hostPool) setActive(idx int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if idx < 0 || idx >= len(p.hosts) {
		return fmt.Errorf("arangox: host index %d out of range (pool has %d hosts)", idx, len(p.hosts))
	}
	p.active = idx
	return nil
}
