package infrastructure

import (
	"fmt"
	"sync"

	"github.com/Guna-13/xikolo-android/internal/domain"
)

// ReportedConnectivity holds the network state last reported by the host
type ReportedConnectivity struct {
	mu       sync.RWMutex
	connType domain.ConnectionType
}

// NewReportedConnectivity starts with the configured connection type
func NewReportedConnectivity(initial domain.ConnectionType) *ReportedConnectivity {
	if !domain.ValidateConnectionType(initial) {
		initial = domain.ConnectionNone
	}
	return &ReportedConnectivity{connType: initial}
}

// IsOnline reports whether any connection is available
func (c *ReportedConnectivity) IsOnline() bool {
	return c.ConnectionType() != domain.ConnectionNone
}

// ConnectionType returns the current connection type
func (c *ReportedConnectivity) ConnectionType() domain.ConnectionType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connType
}

// Set records a new connection type
func (c *ReportedConnectivity) Set(connType domain.ConnectionType) error {
	if !domain.ValidateConnectionType(connType) {
		return fmt.Errorf("invalid connection type: %q", connType)
	}
	c.mu.Lock()
	c.connType = connType
	c.mu.Unlock()
	return nil
}
