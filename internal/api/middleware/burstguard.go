package middleware

import (
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"coalition/builder/internal/config"
)

// clientBucket stores the token bucket for a specific client.
type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// BurstGuardMiddleware is a process-local token bucket in front of the shared
// Redis window limiter. It exists to shed floods before they reach Redis; the
// 3-per-window submission policy is enforced separately per endpoint.
type BurstGuardMiddleware struct {
	clients map[string]*clientBucket
	mu      sync.Mutex
	cfg     *config.Config
}

// NewBurstGuardMiddleware creates a new BurstGuardMiddleware.
func NewBurstGuardMiddleware(cfg *config.Config) *BurstGuardMiddleware {
	bg := &BurstGuardMiddleware{
		clients: make(map[string]*clientBucket),
		cfg:     cfg,
	}
	// Background goroutine cleans up idle client entries
	go bg.cleanupClients()
	return bg
}

// getClientBucket retrieves or creates the bucket for a client identity.
func (bg *BurstGuardMiddleware) getClientBucket(identity string) *clientBucket {
	bg.mu.Lock()
	defer bg.mu.Unlock()

	bucket, exists := bg.clients[identity]
	if !exists {
		bucket = &clientBucket{
			limiter: rate.NewLimiter(rate.Limit(bg.cfg.BurstGuardRate), bg.cfg.BurstGuardSize),
		}
		bg.clients[identity] = bucket
	}
	bucket.lastSeen = time.Now()
	return bucket
}

// cleanupClients periodically removes old client entries from the map.
func (bg *BurstGuardMiddleware) cleanupClients() {
	for {
		time.Sleep(10 * time.Minute)
		bg.mu.Lock()
		count := 0
		for id, client := range bg.clients {
			if time.Since(client.lastSeen) > 30*time.Minute {
				delete(bg.clients, id)
				count++
			}
		}
		bg.mu.Unlock()
		if count > 0 {
			log.Printf("Burst guard cleanup removed %d old client entries.", count)
		}
	}
}

// Limit creates the Gin middleware handler.
func (bg *BurstGuardMiddleware) Limit() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := ClientIdentity(c)
		if !bg.getClientBucket(identity).limiter.Allow() {
			log.Printf("Burst guard tripped for client %s on %s", identity, c.FullPath())
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// ClientIdentity derives the rate-limit identity from a trusted client IP.
// Proxy-forwarded headers are honored only when the direct peer is a
// private/internal address, so a remote client cannot spoof its way past the
// limiter by sending its own X-Forwarded-For.
func ClientIdentity(c *gin.Context) string {
	peer, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		peer = c.Request.RemoteAddr
	}

	peerIP := net.ParseIP(peer)
	if peerIP == nil || !isInternal(peerIP) {
		return peer
	}

	// Direct peer is our own proxy layer; take the first hop it reports.
	if forwarded := c.GetHeader("X-Forwarded-For"); forwarded != "" {
		first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
		if net.ParseIP(first) != nil {
			return first
		}
	}
	if realIP := strings.TrimSpace(c.GetHeader("X-Real-IP")); realIP != "" {
		if net.ParseIP(realIP) != nil {
			return realIP
		}
	}
	return peer
}

func isInternal(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast()
}
