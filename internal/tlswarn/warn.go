// Package tlswarn provides a one-shot warning per host for insecure TLS usage.
package tlswarn

import (
	"log"
	"sync"
)

var warned sync.Map

// LogInsecure warns through the standard logger the first time host is used
// with certificate verification disabled. Later calls for the same host are
// no-ops, so every client built for a profile does not repeat it.
func LogInsecure(host string) {
	if _, loaded := warned.LoadOrStore(host, struct{}{}); loaded {
		return
	}
	log.Printf("[tls] WARNING: certificate and hostname verification is disabled for %s. Do NOT use in production.", host)
}
