package multiplex

import (
	"bytes"
)

// Verdict is a predicate's answer for the bytes buffered so far.
type Verdict int

const (
	// NoMatch means the connection is not this protocol.
	NoMatch Verdict = iota
	// NeedMore means the prefix is too short to decide.
	NeedMore
	// Match routes the connection to the protocol's handler.
	Match
)

func (v Verdict) String() string {
	switch v {
	case Match:
		return "match"
	case NeedMore:
		return "need-more"
	default:
		return "no-match"
	}
}

// Predicate classifies a connection by its first bytes. It must not retain
// or modify prefix.
type Predicate func(prefix []byte) Verdict

var httpMethods = [][]byte{
	[]byte("GET "),
	[]byte("POST "),
	[]byte("PUT "),
	[]byte("HEAD "),
	[]byte("DELETE "),
	[]byte("OPTIONS "),
	[]byte("PATCH "),
	[]byte("CONNECT "),
	[]byte("TRACE "),
}

// IsHTTP matches an HTTP/1.x request line.
func IsHTTP(prefix []byte) Verdict {
	return anyPrefix(prefix, httpMethods)
}

// IsYamux matches the header of a yamux session: version 0 followed by a
// message type in [0, 3].
func IsYamux(prefix []byte) Verdict {
	switch {
	case len(prefix) == 0:
		return NeedMore
	case prefix[0] != 0:
		return NoMatch
	case len(prefix) < 2:
		return NeedMore
	case prefix[1] > 3:
		return NoMatch
	default:
		return Match
	}
}

// Prefix matches connections starting with magic.
func Prefix(magic []byte) Predicate {
	candidates := [][]byte{magic}
	return func(prefix []byte) Verdict {
		return anyPrefix(prefix, candidates)
	}
}

func anyPrefix(prefix []byte, candidates [][]byte) Verdict {
	verdict := NoMatch
	for _, c := range candidates {
		if len(prefix) >= len(c) {
			if bytes.HasPrefix(prefix, c) {
				return Match
			}
			continue
		}
		if bytes.HasPrefix(c, prefix) {
			verdict = NeedMore
		}
	}
	return verdict
}
