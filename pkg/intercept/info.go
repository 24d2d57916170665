package intercept

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"dominicbreuker/gamenet/pkg/log"
)

// OOBPrefix marks an out-of-band datagram, one that is not part of any
// reliable session.
var OOBPrefix = []byte{0xFF, 0xFF, 0xFF, 0xFF}

// InfoResponder answers "getinfo <challenge>" out-of-band queries with an
// infoResponse built from the info callback. Every other OOB datagram is
// intercepted and ignored.
type InfoResponder struct {
	interceptor *Interceptor
	logger      *log.Logger
	info        func() map[string]string
}

// NewInfoResponder replies through i.Reply. info is called once per query.
func NewInfoResponder(i *Interceptor, logger *log.Logger, info func() map[string]string) *InfoResponder {
	return &InfoResponder{interceptor: i, logger: logger, info: info}
}

// Observe is the intercept.Observer.
func (r *InfoResponder) Observe(ev *Event) {
	if !bytes.HasPrefix(ev.Data, OOBPrefix) {
		return
	}
	ev.Intercepted = true

	cmd, arg, _ := strings.Cut(strings.TrimSpace(string(ev.Data[len(OOBPrefix):])), " ")
	if cmd != "getinfo" {
		r.logger.VerboseMsg("ignoring OOB command %q from %s", cmd, ev.From)
		return
	}

	reply := append([]byte{}, OOBPrefix...)
	reply = append(reply, "infoResponse\n"...)
	reply = append(reply, encodeInfo(r.info(), arg)...)

	if err := r.interceptor.Reply(ev, reply); err != nil {
		r.logger.ErrorMsg("replying to getinfo from %s: %s", ev.From, err)
	}
}

// encodeInfo renders \key\value pairs sorted by key, challenge last.
func encodeInfo(kv map[string]string, challenge string) string {
	keys := make([]string, 0, len(kv))
	for k := range kv {
		if k != "challenge" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "\\%s\\%s", sanitize(k), sanitize(kv[k]))
	}
	fmt.Fprintf(&sb, "\\challenge\\%s", sanitize(challenge))
	return sb.String()
}

func sanitize(s string) string {
	return strings.NewReplacer("\\", "", "\n", "").Replace(s)
}
