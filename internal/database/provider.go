package database

import (
	"context"
	"fmt"
)

var (
	postgresIdentityStore func() IdentityStore
	postgresEventStore    func() EventStore
	postgresDisputeStore  func() DisputeStore
	postgresMirrorStore   func() MirrorStore
	postgresInitialized   bool

	rosterReader      func() RosterReader
	rosterInitialized bool
)

// RegisterPostgresBackend registers the PostgreSQL repository constructors.
// Called by the postgres package after its pool is up, to avoid import
// cycles between the interface layer and the implementation.
func RegisterPostgresBackend(
	identities func() IdentityStore,
	events func() EventStore,
	disputes func() DisputeStore,
	mirror func() MirrorStore,
) {
	postgresIdentityStore = identities
	postgresEventStore = events
	postgresDisputeStore = disputes
	postgresMirrorStore = mirror
	postgresInitialized = true
}

// RegisterRosterBackend registers the student roster constructor. Called by
// the mariadb package.
func RegisterRosterBackend(students func() RosterReader) {
	rosterReader = students
	rosterInitialized = true
}

// IsInitialized returns whether the PostgreSQL backend has been initialized.
// The service runs without it; audit persistence is then disabled.
func IsInitialized() bool {
	return postgresInitialized
}

// IsRosterInitialized returns whether the SIS roster bridge is available.
func IsRosterInitialized() bool {
	return rosterInitialized
}

// GetIdentityStore returns an IdentityStore from the PostgreSQL backend.
func GetIdentityStore(ctx context.Context) (IdentityStore, error) {
	if !postgresInitialized {
		return nil, fmt.Errorf("PostgreSQL backend not initialized: DATABASE_URL is required")
	}
	if postgresIdentityStore == nil {
		return nil, fmt.Errorf("PostgreSQL identity store not registered")
	}
	return postgresIdentityStore(), nil
}

// GetEventStore returns an EventStore from the PostgreSQL backend.
func GetEventStore(ctx context.Context) (EventStore, error) {
	if !postgresInitialized {
		return nil, fmt.Errorf("PostgreSQL backend not initialized: DATABASE_URL is required")
	}
	if postgresEventStore == nil {
		return nil, fmt.Errorf("PostgreSQL event store not registered")
	}
	return postgresEventStore(), nil
}

// GetDisputeStore returns a DisputeStore from the PostgreSQL backend.
func GetDisputeStore(ctx context.Context) (DisputeStore, error) {
	if !postgresInitialized {
		return nil, fmt.Errorf("PostgreSQL backend not initialized: DATABASE_URL is required")
	}
	if postgresDisputeStore == nil {
		return nil, fmt.Errorf("PostgreSQL dispute store not registered")
	}
	return postgresDisputeStore(), nil
}

// GetMirrorStore returns a MirrorStore from the PostgreSQL backend.
func GetMirrorStore(ctx context.Context) (MirrorStore, error) {
	if !postgresInitialized {
		return nil, fmt.Errorf("PostgreSQL backend not initialized: DATABASE_URL is required")
	}
	if postgresMirrorStore == nil {
		return nil, fmt.Errorf("PostgreSQL mirror store not registered")
	}
	return postgresMirrorStore(), nil
}

// GetRosterReader returns the SIS roster reader.
func GetRosterReader(ctx context.Context) (RosterReader, error) {
	if !rosterInitialized {
		return nil, fmt.Errorf("SIS roster backend not initialized: SIS_DATABASE_URL is required")
	}
	if rosterReader == nil {
		return nil, fmt.Errorf("SIS roster reader not registered")
	}
	return rosterReader(), nil
}
