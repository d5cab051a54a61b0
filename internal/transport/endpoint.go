package transport

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Endpoint is a parsed bus address: scheme://resource?query, e.g.
// "serial:///dev/ttyUSB0?baud=115200", "tcp://192.168.1.50:23",
// "udp://239.0.0.1:5007?multicast=true",
// "ble://AA:BB:CC:DD:EE:FF?service=180D&char=2A37",
// "modbus+tcp://192.168.1.77:502?slave=1&register=40001&count=2".
// Adapted from the teacher's Endpoint (account/key/SAS parsing), generalized
// from Azure connection-string fields to bus configuration query params.
type Endpoint struct {
	Raw    string
	Scheme string
	Host   string // host:port, or empty for serial/path-only addresses
	Path   string // e.g. "/dev/ttyUSB0" for serial, or a BLE MAC address
	Params url.Values
}

// ParseEndpoint parses a bus address string.
func ParseEndpoint(address string) (*Endpoint, error) {
	u, err := url.Parse(address)
	if err != nil {
		// url.Parse rejects a MAC address in the host position
		// ("ble://AA:BB:CC:DD:EE:FF") as a host with an invalid port. Such an
		// address is parsed again with the MAC moved into the path.
		if scheme, rest, ok := strings.Cut(address, "://"); ok {
			authority, _, _ := strings.Cut(rest, "?")
			if strings.Count(authority, ":") >= 2 && !strings.ContainsAny(authority, "/[") {
				if u2, err2 := url.Parse(scheme + ":///" + rest); err2 == nil {
					u, err = u2, nil
					u.Path = strings.TrimPrefix(u.Path, "/")
				}
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("transport: invalid bus address %q: %w", address, err)
	}
	if u.Scheme == "" {
		return nil, fmt.Errorf("transport: bus address %q has no scheme", address)
	}

	ep := &Endpoint{
		Raw:    address,
		Scheme: u.Scheme,
		Host:   u.Host,
		Path:   u.Path,
		Params: u.Query(),
	}
	// A host with two or more colons and no path is taken as a device
	// address.
	if ep.Path == "" && ep.Host != "" && strings.Count(ep.Host, ":") >= 2 {
		ep.Path = ep.Host
	}
	return ep, nil
}

// ParamString returns a query parameter's value, or def if absent.
func (e *Endpoint) ParamString(key, def string) string {
	if v := e.Params.Get(key); v != "" {
		return v
	}
	return def
}

// ParamInt returns a query parameter parsed as an integer, or def if absent
// or unparseable.
func (e *Endpoint) ParamInt(key string, def int) int {
	v := e.Params.Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// ParamBool returns a query parameter parsed as a bool, or def if absent or
// unparseable.
func (e *Endpoint) ParamBool(key string, def bool) bool {
	v := e.Params.Get(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// ParamDuration returns a query parameter parsed with time.ParseDuration,
// or def if absent or unparseable.
func (e *Endpoint) ParamDuration(key string, def time.Duration) time.Duration {
	v := e.Params.Get(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
