// Package certs embeds the LinkPlay client certificate presented during
// mutual TLS. Newer firmware rejects plain HTTPS clients; the platform ships
// one shared certificate across vendors, so it is compiled in rather than
// configured.
package certs

import (
	"crypto/tls"
	_ "embed"
	"fmt"
	"sync"
)

//go:embed client.pem
var clientPEM []byte

var (
	once sync.Once
	pair tls.Certificate
	err  error
)

// Pair returns the embedded client certificate, loading it on first use.
// The material is process-wide and read-only.
func Pair() (tls.Certificate, error) {
	once.Do(func() {
		pair, err = tls.X509KeyPair(clientPEM, clientPEM)
		if err != nil {
			err = fmt.Errorf("load embedded client certificate: %w", err)
		}
	})
	return pair, err
}
