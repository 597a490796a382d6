package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// PolicyCampaign is the minimal campaign surface the endorsement pipeline needs.
// Full campaign content management lives elsewhere.
type PolicyCampaign struct {
	ID                primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	Name              string             `bson:"name" json:"name"`
	Slug              string             `bson:"slug" json:"slug"` // unique index
	Summary           string             `bson:"summary,omitempty" json:"summary,omitempty"`
	AllowEndorsements bool               `bson:"allow_endorsements" json:"allow_endorsements"`
	// AutoApprove overrides the global default when set: verified endorsements
	// go straight to approved without the moderation queue.
	AutoApprove *bool     `bson:"auto_approve,omitempty" json:"auto_approve,omitempty"`
	CreatedAt   time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at" json:"updated_at"`
}

// EffectiveAutoApprove resolves the campaign setting against the global default.
func (c *PolicyCampaign) EffectiveAutoApprove(globalDefault bool) bool {
	if c.AutoApprove != nil {
		return *c.AutoApprove
	}
	return globalDefault
}
