package policy

import (
	"fmt"
	"sync"
)

// ServiceCatalog resolves named services (e.g. "ssh") to the port/proto
// pairs they cover, for SERVICE_ACCESS messages whose body names services
// instead of raw proto/port pairs (SPEC_FULL.md §C.1, gathered from
// fwknop's gather_service_information/get_service_data_list).
type ServiceCatalog struct {
	mu       sync.RWMutex
	services map[string][]PortProto
}

// NewServiceCatalog builds a catalog from a name-to-entries map.
func NewServiceCatalog(services map[string][]PortProto) *ServiceCatalog {
	return &ServiceCatalog{services: services}
}

// Resolve returns the port/proto list a named service covers.
func (c *ServiceCatalog) Resolve(name string) ([]PortProto, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entries, ok := c.services[name]
	return entries, ok
}

// ErrUnknownService marks a SERVICE_ACCESS body naming an unconfigured service.
var ErrUnknownService = fmt.Errorf("unknown service name")
