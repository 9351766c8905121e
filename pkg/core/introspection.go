package core

import (
	"github.com/aretw0/introspection"
)

// ServiceState exposes internal state for observability.
type ServiceState struct {
	RepositoryType string `json:"repository_type"`
	LockedKeys     int    `json:"locked_keys"`
	Writes         uint64 `json:"writes"`
	Rejected       uint64 `json:"rejected"`
	Observed       uint64 `json:"observed"`
	PendingEchoes  int    `json:"pending_echoes"`
}

// State implements introspection.Introspectable.
func (s *Service) State() any {
	repoType := "unknown"
	if s.repo != nil {
		repoType = "repository"
		// Try to get component type if repository implements introspection.Component
		if comp, ok := s.repo.(introspection.Component); ok {
			repoType = comp.ComponentType()
		}
	}

	return ServiceState{
		RepositoryType: repoType,
		LockedKeys:     s.locks.active(),
		Writes:         s.writes.Load(),
		Rejected:       s.rejected.Load(),
		Observed:       s.observed.Load(),
		PendingEchoes:  s.ledger.len(),
	}
}

// ComponentType implements introspection.Component.
func (s *Service) ComponentType() string {
	return "service"
}

var _ introspection.Introspectable = (*Service)(nil)
var _ introspection.Component = (*Service)(nil)
