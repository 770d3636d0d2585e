package mitm

import (
	"container/list"
	"crypto/tls"
	"sync"
	"time"
)

// reissueWindow renews a cached leaf this long before it expires.
const reissueWindow = 24 * time.Hour

// CacheStats tracks certificate cache behavior.
type CacheStats struct {
	Entries   int    // Current number of cached leaves
	Hits      uint64 // Lookups served from the cache
	Misses    uint64 // Lookups that required issuing
	Issues    uint64 // Certificates issued
	Evictions uint64 // LRU evictions
}

// CertCache memoizes issued leaf certificates per host on top of a CA.
// Issuing an RSA leaf is expensive, so handshakes for hosts seen
// before must not pay that cost again.
type CertCache struct {
	mu         sync.Mutex
	ca         *CA
	lruList    *list.List
	items      map[string]*list.Element
	maxEntries int
	stats      CacheStats
}

// certEntry wraps a host and its leaf for storage in the LRU list.
type certEntry struct {
	host string
	cert *tls.Certificate
}

// NewCertCache creates a certificate cache with a maximum number of
// hosts. If maxEntries <= 0, it defaults to 256.
func NewCertCache(ca *CA, maxEntries int) *CertCache {
	if maxEntries <= 0 {
		maxEntries = 256
	}
	return &CertCache{
		ca:         ca,
		lruList:    list.New(),
		items:      make(map[string]*list.Element),
		maxEntries: maxEntries,
	}
}

// CertificateFor returns the leaf for host, issuing and caching a
// fresh one when absent or close to expiry.
func (cache *CertCache) CertificateFor(host string) (*tls.Certificate, error) {
	cache.mu.Lock()
	if element, found := cache.items[host]; found {
		entry := element.Value.(*certEntry)
		if time.Now().Before(entry.cert.Leaf.NotAfter.Add(-reissueWindow)) {
			// Touch the element to mark it as most recently used.
			cache.lruList.MoveToFront(element)
			cache.stats.Hits++
			cert := entry.cert
			cache.mu.Unlock()
			return cert, nil
		}
		// Close to expiry: drop and reissue below.
		cache.removeElement(element)
	}
	cache.stats.Misses++
	cache.mu.Unlock()

	// Issue outside the lock so concurrent handshakes for other hosts
	// are not serialized behind RSA key generation.
	cert, err := cache.ca.IssueLeaf(host)
	if err != nil {
		return nil, err
	}

	cache.mu.Lock()
	defer cache.mu.Unlock()
	if element, found := cache.items[host]; found {
		// A concurrent handshake issued one as well; newest wins.
		cache.removeElement(element)
	}
	element := cache.lruList.PushFront(&certEntry{host: host, cert: cert})
	cache.items[host] = element
	cache.stats.Issues++
	if cache.lruList.Len() > cache.maxEntries {
		cache.removeOldest()
	}
	return cert, nil
}

// TLSConfig builds the server-side TLS configuration for one
// intercepted CONNECT. SNI is preferred; clients that omit it get a
// certificate for the CONNECT authority.
func (cache *CertCache) TLSConfig(fallbackHost string) *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		NextProtos: []string{"http/1.1"},
		GetCertificate: func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
			host := hello.ServerName
			if host == "" {
				host = fallbackHost
			}
			return cache.CertificateFor(host)
		},
	}
}

// Stats returns a snapshot of cache counters.
func (cache *CertCache) Stats() CacheStats {
	cache.mu.Lock()
	defer cache.mu.Unlock()
	stats := cache.stats
	stats.Entries = cache.lruList.Len()
	return stats
}

// removeOldest evicts the least recently used leaf.
func (cache *CertCache) removeOldest() {
	element := cache.lruList.Back()
	if element != nil {
		cache.removeElement(element)
		cache.stats.Evictions++
	}
}

// removeElement removes a specific entry from the LRU and the index.
func (cache *CertCache) removeElement(element *list.Element) {
	cache.lruList.Remove(element)
	entry := element.Value.(*certEntry)
	delete(cache.items, entry.host)
}
