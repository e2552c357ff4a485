package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"os"
	"sync"
)

var (
	once   sync.Once
	cached string
)

// Machine returns a stable per-host fingerprint derived from the hostname
// and the first hardware address. Used in upstream identification headers
// and the desktop refresh User-Agent.
func Machine() string {
	once.Do(func() {
		h := sha256.New()
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "kiro2api"
		}
		h.Write([]byte(host))
		if ifaces, err := net.Interfaces(); err == nil {
			for _, iface := range ifaces {
				if len(iface.HardwareAddr) > 0 {
					h.Write(iface.HardwareAddr)
					break
				}
			}
		}
		cached = hex.EncodeToString(h.Sum(nil))
	})
	return cached
}

// Short returns the first 16 hex characters of the machine fingerprint.
func Short() string {
	fp := Machine()
	if len(fp) > 16 {
		return fp[:16]
	}
	return fp
}
