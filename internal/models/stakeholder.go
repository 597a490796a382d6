package models

import (
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// StakeholderType classifies who is endorsing.
type StakeholderType string

const (
	StakeholderTypeFarmer     StakeholderType = "farmer"
	StakeholderTypeWaterman   StakeholderType = "waterman"
	StakeholderTypeBusiness   StakeholderType = "business"
	StakeholderTypeNonprofit  StakeholderType = "nonprofit"
	StakeholderTypeIndividual StakeholderType = "individual"
	StakeholderTypeGovernment StakeholderType = "government"
	StakeholderTypeOther      StakeholderType = "other"
)

// ValidStakeholderType reports whether t is one of the known enum values.
func ValidStakeholderType(t StakeholderType) bool {
	switch t {
	case StakeholderTypeFarmer, StakeholderTypeWaterman, StakeholderTypeBusiness,
		StakeholderTypeNonprofit, StakeholderTypeIndividual, StakeholderTypeGovernment,
		StakeholderTypeOther:
		return true
	}
	return false
}

// GeoPoint is a derived coordinate from the geocoding collaborator.
type GeoPoint struct {
	Latitude  float64 `bson:"lat" json:"lat"`
	Longitude float64 `bson:"lng" json:"lng"`
}

// Stakeholder represents a person or organization that can endorse campaigns.
// The normalized email is the sole deduplication key.
type Stakeholder struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	Email        string             `bson:"email" json:"email"` // lowercased, trimmed; unique index
	Name         string             `bson:"name" json:"name"`
	Organization string             `bson:"organization,omitempty" json:"organization,omitempty"`
	Role         string             `bson:"role,omitempty" json:"role,omitempty"`
	Type         StakeholderType    `bson:"type" json:"type"`
	Street       string             `bson:"street,omitempty" json:"street,omitempty"`
	City         string             `bson:"city,omitempty" json:"city,omitempty"`
	State        string             `bson:"state,omitempty" json:"state,omitempty"`
	County       string             `bson:"county,omitempty" json:"county,omitempty"`
	ZipCode      string             `bson:"zip_code,omitempty" json:"zip_code,omitempty"`
	District     string             `bson:"district,omitempty" json:"district,omitempty"` // set by geocoding, best effort
	Location     *GeoPoint          `bson:"location,omitempty" json:"location,omitempty"`
	CreatedAt    time.Time          `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time          `bson:"updated_at" json:"updated_at"`
}

// NormalizeEmail lowers and trims an email address for use as the dedup key.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// HasAddress reports whether there is anything for the geocoder to work with.
func (s *Stakeholder) HasAddress() bool {
	return s.Street != "" || s.City != "" || s.State != "" || s.ZipCode != ""
}

// IdentityFields returns the fields protected against divergent overwrite,
// in a stable order, for case-insensitive comparison.
func (s *Stakeholder) IdentityFields() []string {
	return []string{
		s.Name, s.Organization, s.Role, string(s.Type),
		s.Street, s.City, s.State, s.County, s.ZipCode,
	}
}
