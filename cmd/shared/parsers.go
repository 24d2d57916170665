package shared

import (
	"fmt"
	"regexp"
	"strconv"

	"dominicbreuker/gamenet/pkg/listen"
)

var endpointRe = regexp.MustCompile(`^(tcp|udp)://(\[[^\]]*\]|[^:\[\]]*):(\d+)$`)

// ParseEndpoint parses an endpoint flag in the format "protocol://host:port"
// where protocol is tcp or udp. The host can be empty or "*" to bind to all
// interfaces. It returns the transport kind and the "host:port" bind spec.
func ParseEndpoint(s string) (kind listen.Kind, spec string, err error) {
	matches := endpointRe.FindStringSubmatch(s)
	if len(matches) != 4 {
		err = parsingError(s)
		return
	}

	switch matches[1] {
	case "tcp":
		kind = listen.TCP
	case "udp":
		kind = listen.UDP
	}

	host := matches[2]
	if host == "*" { // also counts as all interfaces
		host = ""
	}

	port, convErr := strconv.Atoi(matches[3])
	if convErr != nil || port < 0 || port > 65535 {
		err = parsingError(s)
		return
	}

	spec = host + ":" + strconv.Itoa(port)
	return
}

func parsingError(s string) error {
	return fmt.Errorf("parsing %s: format should be 'protocol://host:port', where protocol = tcp|udp", s)
}
