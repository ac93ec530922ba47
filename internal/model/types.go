package model

import "time"

// Core domain types for provider tours and optimized delivery sequences.

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// DeliveryState is the provider-reported state of a package.
type DeliveryState string

const (
	StatePending   DeliveryState = "pending"
	StateDelivered DeliveryState = "delivered"
	StateFailed    DeliveryState = "failed"
)

// Credentials identify a tenant against the provider SSO endpoint.
// Societe is the provider-side company code required alongside the login.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Societe  string `json:"societe"`
}

// ProviderSession is an authenticated provider token for one tenant.
// Sessions are replaced, never mutated: a refresh writes a new session
// under the same tenant key.
type ProviderSession struct {
	TenantID  string    `json:"tenantId"`
	Token     string    `json:"token"`
	Matricule string    `json:"matricule,omitempty"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Valid reports whether the session token is still usable, with a small
// safety margin so a token is not presented right at its expiry instant.
func (s ProviderSession) Valid(now time.Time) bool {
	return s.Token != "" && now.Add(30*time.Second).Before(s.ExpiresAt)
}

type PackageRecord struct {
	TrackingNumber string        `json:"trackingNumber"`
	RecipientName  string        `json:"recipientName,omitempty"`
	RawAddress     string        `json:"rawAddress"`
	Instructions   string        `json:"instructions,omitempty"`
	Phone          string        `json:"phone,omitempty"`
	Coordinates    *GeoPoint     `json:"coordinates,omitempty"`
	SequenceIndex  int           `json:"sequenceIndex"`
	DeliveryState  DeliveryState `json:"deliveryState"`
	// Unlocated is set once geocoding has been attempted and exhausted;
	// such packages ride at the end of the sequence in provider order.
	Unlocated bool `json:"unlocated,omitempty"`
}

// TourManifest is a driver's full package set for one day, in provider order.
// Immutable once fetched; a fresh fetch supersedes it wholesale.
type TourManifest struct {
	ID          string          `json:"id"`
	TenantID    string          `json:"tenantId"`
	TourDate    string          `json:"tourDate"` // YYYY-MM-DD
	DriverRef   string          `json:"driverRef,omitempty"`
	Packages    []PackageRecord `json:"packages"`
	Partial     bool            `json:"partial,omitempty"`
	FetchErrors []string        `json:"fetchErrors,omitempty"`
	FetchedAt   time.Time       `json:"fetchedAt"`
}

// OptimizedRoute is the derived delivery sequence for a tour. Ordered holds
// tracking numbers; Score is the estimated travel distance in meters over
// the movable+unresolved segment (delivered anchors excluded).
type OptimizedRoute struct {
	TourID      string    `json:"tourId"`
	TenantID    string    `json:"tenantId"`
	TourDate    string    `json:"tourDate"`
	Ordered     []string  `json:"ordered"`
	Score       float64   `json:"score"`
	GeneratedAt time.Time `json:"generatedAt"`
	IssuedBy    string    `json:"issuedBy,omitempty"` // set when a dispatcher reorder is authoritative
}

// ReorderRequest is a dispatcher-issued manual sequence change.
type ReorderRequest struct {
	TourID      string    `json:"tourId"`
	NewSequence []string  `json:"newSequence"`
	IssuedBy    string    `json:"issuedBy"`
	IssuedAt    time.Time `json:"issuedAt"`
}

// ReorderAudit records reorder provenance for persistence.
type ReorderAudit struct {
	ID       string    `json:"id"`
	TenantID string    `json:"tenantId"`
	TourID   string    `json:"tourId"`
	IssuedBy string    `json:"issuedBy"`
	IssuedAt time.Time `json:"issuedAt"`
	Sequence []string  `json:"sequence"`
}

// Reference records read from persistence (CRUD for these lives elsewhere).

type Company struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Societe string `json:"societe"`
}

type Driver struct {
	TenantID string `json:"tenantId"`
	Ref      string `json:"ref"` // provider matricule
	Name     string `json:"name,omitempty"`
}
