package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"coalition/builder/internal/config"
	"coalition/builder/internal/db"
	"coalition/builder/internal/models"
)

// ITokenService issues, validates and reissues the single-use tokens binding
// an endorsement to a proof-of-email-ownership step.
type ITokenService interface {
	// Issue attaches a fresh token to the endorsement and queues the
	// verification email. Any previously outstanding token is replaced.
	Issue(ctx context.Context, endorsement *models.Endorsement) (string, error)

	// Validate consumes the token and drives the verify transition in a single
	// atomic update. Returns the endorsement after transition, ErrTokenExpired
	// past the 24h lifetime without side effects, or ErrTokenInvalid for
	// unknown, consumed or concurrently-consumed tokens.
	Validate(ctx context.Context, tokenValue string) (*models.Endorsement, error)

	// Resend reissues a token for a matching unverified endorsement. It never
	// reports whether such an endorsement exists: every expected path returns
	// nil and callers answer with one uniform message.
	Resend(ctx context.Context, email, campaignSlug string) error
}

// tokenService implements ITokenService.
type tokenService struct {
	db          *mongo.Database
	cfg         *config.Config
	campaigns   ICampaignService
	stakeholder IStakeholderService
	dispatcher  IDispatcher
	now         func() time.Time // test hook
}

// NewTokenService creates a new TokenService.
func NewTokenService(database *mongo.Database, cfg *config.Config, campaigns ICampaignService, stakeholder IStakeholderService, dispatcher IDispatcher) ITokenService {
	return &tokenService{
		db:          database,
		cfg:         cfg,
		campaigns:   campaigns,
		stakeholder: stakeholder,
		dispatcher:  dispatcher,
		now:         time.Now,
	}
}

// newTokenValue returns an opaque unguessable token: 32 random bytes, hex.
func newTokenValue() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token value: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func (s *tokenService) Issue(ctx context.Context, endorsement *models.Endorsement) (string, error) {
	var value string

	// Retry covers the astronomically unlikely value collision on the unique
	// token index; a fresh value is drawn each attempt.
	err := db.Try(func() error {
		v, err := newTokenValue()
		if err != nil {
			return err
		}
		now := s.now().UTC()
		token := models.VerificationToken{
			Value:     v,
			IssuedAt:  now,
			ExpiresAt: now.Add(s.cfg.TokenLifetime),
		}
		res, err := s.db.Collection(endorsementsCollection).UpdateOne(ctx,
			bson.M{"_id": endorsement.ID, "email_verified": false},
			bson.M{"$set": bson.M{"verification_token": token, "updated_at": now}},
		)
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			return ErrInvalidTransition
		}
		value = v
		endorsement.Token = &token
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return "", ErrInvalidTransition
		}
		return "", fmt.Errorf("failed to issue verification token for endorsement %s: %w", endorsement.ID.Hex(), err)
	}

	s.sendVerificationEmail(ctx, endorsement, value)
	return value, nil
}

func (s *tokenService) Validate(ctx context.Context, tokenValue string) (*models.Endorsement, error) {
	collection := s.db.Collection(endorsementsCollection)
	now := s.now().UTC()

	var current models.Endorsement
	err := collection.FindOne(ctx, bson.M{"verification_token.value": tokenValue}).Decode(&current)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("db error looking up token: %w", err)
	}
	if current.Token == nil || current.Token.ConsumedAt != nil {
		return nil, ErrTokenInvalid
	}
	if now.After(current.Token.ExpiresAt) {
		return nil, ErrTokenExpired
	}

	autoApprove := s.resolveAutoApprove(ctx, &current)
	return s.consumeAndVerify(ctx, tokenValue, now, autoApprove)
}

// resolveAutoApprove computes the explicit auto-approval parameter for the
// verify transition from the campaign's setting and the global default.
func (s *tokenService) resolveAutoApprove(ctx context.Context, endorsement *models.Endorsement) bool {
	campaign, err := s.campaigns.FindByID(ctx, endorsement.CampaignID)
	if err != nil {
		log.Printf("WARN: campaign lookup failed for endorsement %s, using global auto-approve default: %v",
			endorsement.ID.Hex(), err)
		return s.cfg.AutoApprove
	}
	return campaign.EffectiveAutoApprove(s.cfg.AutoApprove)
}

// consumeAndVerify closes the double-click race at the storage layer: one
// conditional update both consumes the token and applies the verify
// transition, so a token never validates twice even under concurrent requests.
func (s *tokenService) consumeAndVerify(ctx context.Context, tokenValue string, now time.Time, autoApprove bool) (*models.Endorsement, error) {
	target := models.StatusVerified
	if autoApprove {
		target = models.StatusApproved
	}

	var updated models.Endorsement
	err := s.db.Collection(endorsementsCollection).FindOneAndUpdate(ctx,
		bson.M{
			"verification_token.value":       tokenValue,
			"verification_token.consumed_at": nil,
			"verification_token.expires_at":  bson.M{"$gt": now},
			"status":                         bson.M{"$in": bson.A{models.StatusPending, models.StatusVerified}},
		},
		bson.M{"$set": bson.M{
			"verification_token.consumed_at": now,
			"email_verified":                 true,
			"status":                         target,
			"updated_at":                     now,
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			// Raced with another click or a concurrent resend.
			return nil, ErrTokenInvalid
		}
		return nil, fmt.Errorf("db error consuming token: %w", err)
	}
	return &updated, nil
}

func (s *tokenService) Resend(ctx context.Context, email, campaignSlug string) error {
	// The token value is drawn before any lookup so the found and not-found
	// paths do comparable work, resisting timing-based enumeration.
	value, err := newTokenValue()
	if err != nil {
		return err
	}
	normalized := models.NormalizeEmail(email)

	campaign, err := s.campaigns.FindBySlug(ctx, campaignSlug)
	if err != nil {
		logResendMiss(normalized, campaignSlug, "campaign")
		return nil
	}

	var stakeholder models.Stakeholder
	err = s.db.Collection(stakeholdersCollection).FindOne(ctx, bson.M{"email": normalized}).Decode(&stakeholder)
	if err != nil {
		logResendMiss(normalized, campaignSlug, "stakeholder")
		return nil
	}

	now := s.now().UTC()
	token := models.VerificationToken{
		Value:     value,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.cfg.TokenLifetime),
	}

	// Replacing the embedded token invalidates any outstanding unconsumed one.
	var endorsement models.Endorsement
	err = s.db.Collection(endorsementsCollection).FindOneAndUpdate(ctx,
		bson.M{
			"stakeholder_id": stakeholder.ID,
			"campaign_id":    campaign.ID,
			"email_verified": false,
			"status":         models.StatusPending,
		},
		bson.M{"$set": bson.M{"verification_token": token, "updated_at": now}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&endorsement)
	if err != nil {
		logResendMiss(normalized, campaignSlug, "endorsement")
		return nil
	}

	s.sendVerificationEmail(ctx, &endorsement, value)
	return nil
}

func logResendMiss(email, campaignSlug, what string) {
	log.Printf("Resend request with no matching %s (email=%s campaign=%s); uniform response returned", what, email, campaignSlug)
}

// sendVerificationEmail queues the verification email. Delivery failure is
// non-fatal: the pending endorsement stays valid and resend can recover.
func (s *tokenService) sendVerificationEmail(ctx context.Context, endorsement *models.Endorsement, tokenValue string) {
	stakeholder, err := s.stakeholder.FindByID(ctx, endorsement.StakeholderID)
	if err != nil {
		log.Printf("WARN: could not load stakeholder %s for verification email: %v", endorsement.StakeholderID.Hex(), err)
		return
	}
	job := EmailJob{
		To:       stakeholder.Email,
		Subject:  fmt.Sprintf("Confirm your endorsement (%s)", s.cfg.AppName),
		Template: TemplateVerification,
		Data: map[string]string{
			"name":       stakeholder.Name,
			"verify_url": fmt.Sprintf("%s/v1/endorsements/verify/%s", s.cfg.BaseURL, tokenValue),
			"expires_at": endorsement.Token.ExpiresAt.UTC().Format(time.RFC1123),
		},
	}
	if err := s.dispatcher.DispatchEmail(ctx, job); err != nil {
		log.Printf("WARN: failed to enqueue verification email for endorsement %s: %v", endorsement.ID.Hex(), err)
	}
}
