package endpoint

import (
	"fmt"
	"strings"
)

const dstackPrefix = "dstack+unix://"

// Kind classifies where a VM's quote is fetched from.
type Kind int

const (
	// KindHTTP endpoints point at the VM's attestation-report server
	// (https://host:port or http://host:port).
	KindHTTP Kind = iota
	// KindDstack endpoints point at a local dstack guest-agent socket
	// (dstack+unix:///var/run/dstack.sock).
	KindDstack
)

// Endpoint is a parsed VM endpoint.
//
// Canonical forms:
//
//	https://<host>:<port>
//	http://<host>:<port>
//	dstack+unix://<socket path>
type Endpoint struct {
	Kind Kind
	// URL is the base URL for KindHTTP endpoints, without trailing slash.
	URL string
	// SocketPath is the guest-agent socket path for KindDstack endpoints.
	SocketPath string
	Raw        string
}

// IsDstack returns true if value uses the dstack+unix:// scheme.
func IsDstack(value string) bool {
	return strings.HasPrefix(value, dstackPrefix)
}

// Parse parses and validates a VM endpoint string.
func Parse(value string) (Endpoint, error) {
	if IsDstack(value) {
		path := strings.TrimPrefix(value, dstackPrefix)
		if path == "" {
			return Endpoint{}, fmt.Errorf("invalid dstack endpoint %q: missing socket path", value)
		}
		return Endpoint{
			Kind:       KindDstack,
			SocketPath: path,
			Raw:        value,
		}, nil
	}

	for _, scheme := range []string{"https://", "http://"} {
		if !strings.HasPrefix(value, scheme) {
			continue
		}
		rest := strings.TrimRight(strings.TrimPrefix(value, scheme), "/")
		if rest == "" {
			return Endpoint{}, fmt.Errorf("invalid endpoint %q: missing host", value)
		}
		return Endpoint{
			Kind: KindHTTP,
			URL:  scheme + rest,
			Raw:  value,
		}, nil
	}

	return Endpoint{}, fmt.Errorf("invalid endpoint %q: expected https://, http:// or dstack+unix:// scheme", value)
}

// Host returns the host portion of an HTTP endpoint, without port.
// Returns "" for dstack endpoints.
func (e Endpoint) Host() string {
	if e.Kind != KindHTTP {
		return ""
	}
	rest := e.URL[strings.Index(e.URL, "://")+3:]
	if i := strings.IndexByte(rest, ':'); i >= 0 {
		return rest[:i]
	}
	return rest
}
