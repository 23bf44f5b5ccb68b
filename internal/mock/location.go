package mock

import (
	"fmt"
	"net"
	"strings"
)

// BackendAddress turns a backend location into a dialable host:port. Both
// "host:port" and libpq keyword/value strings ("host=... port=...") are
// accepted; the port defaults to 5432 in the keyword form.
func BackendAddress(location string) (string, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return "", fmt.Errorf("empty backend location")
	}

	if !strings.Contains(location, "=") {
		host, port, err := net.SplitHostPort(location)
		if err != nil {
			return "", fmt.Errorf("invalid backend location %q: %w", location, err)
		}
		return net.JoinHostPort(host, port), nil
	}

	host, port := "localhost", "5432"
	for _, field := range strings.Fields(location) {
		k, v, ok := strings.Cut(field, "=")
		if !ok {
			return "", fmt.Errorf("invalid backend location %q: malformed %q", location, field)
		}
		v = strings.Trim(v, "'")
		switch k {
		case "host", "hostaddr":
			host = v
		case "port":
			port = v
		}
	}
	return net.JoinHostPort(host, port), nil
}
