package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// EndorsementStatus is the lifecycle state of an endorsement.
// Transitions only move forward: pending -> verified -> approved|rejected,
// or pending -> approved when auto-approval is configured.
type EndorsementStatus string

const (
	StatusPending  EndorsementStatus = "pending"
	StatusVerified EndorsementStatus = "verified"
	StatusApproved EndorsementStatus = "approved"
	StatusRejected EndorsementStatus = "rejected"
)

// VerificationToken is the single-use credential embedded 1:1 in its endorsement.
type VerificationToken struct {
	Value      string     `bson:"value" json:"-"` // opaque random hex; unique index
	IssuedAt   time.Time  `bson:"issued_at" json:"issued_at"`
	ExpiresAt  time.Time  `bson:"expires_at" json:"expires_at"`
	ConsumedAt *time.Time `bson:"consumed_at,omitempty" json:"consumed_at,omitempty"`
}

// SubmissionMeta captures request context used for spam scoring and audit.
type SubmissionMeta struct {
	SubmissionID   string    `bson:"submission_id" json:"submission_id"`
	IPAddress      string    `bson:"ip_address" json:"-"`
	UserAgent      string    `bson:"user_agent" json:"-"`
	FormRenderedAt time.Time `bson:"form_rendered_at" json:"-"`
	SubmittedAt    time.Time `bson:"submitted_at" json:"-"`
	SpamScore      float64   `bson:"spam_score" json:"-"`
	SpamReasons    []string  `bson:"spam_reasons,omitempty" json:"-"`
}

// Endorsement links one Stakeholder to one PolicyCampaign.
// Exactly one exists per (stakeholder, campaign) pair, enforced by a unique index.
type Endorsement struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	StakeholderID primitive.ObjectID `bson:"stakeholder_id" json:"stakeholder_id"`
	CampaignID    primitive.ObjectID `bson:"campaign_id" json:"campaign_id"`
	Statement     string             `bson:"statement,omitempty" json:"statement,omitempty"`
	PublicDisplay bool               `bson:"public_display" json:"public_display"`
	Status        EndorsementStatus  `bson:"status" json:"status"`
	EmailVerified bool               `bson:"email_verified" json:"email_verified"`

	Token *VerificationToken `bson:"verification_token,omitempty" json:"-"`

	ReviewedBy  string     `bson:"reviewed_by,omitempty" json:"reviewed_by,omitempty"`
	ReviewNotes string     `bson:"review_notes,omitempty" json:"-"`
	ReviewedAt  *time.Time `bson:"reviewed_at,omitempty" json:"reviewed_at,omitempty"`

	Meta SubmissionMeta `bson:"meta" json:"-"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// PubliclyVisible is the display predicate: consent, proven email, approved.
func (e *Endorsement) PubliclyVisible() bool {
	return e.PublicDisplay && e.EmailVerified && e.Status == StatusApproved
}
