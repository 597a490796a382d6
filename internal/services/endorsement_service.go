package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"coalition/builder/internal/db"
	"coalition/builder/internal/models"
	"coalition/builder/internal/utils"
)

// ExportRow is one endorsement flattened with its stakeholder for staff export.
type ExportRow struct {
	Email        string `json:"email"`
	Name         string `json:"name"`
	Organization string `json:"organization"`
	Type         string `json:"type"`
	State        string `json:"state"`
	District     string `json:"district"`
	CampaignID   string `json:"campaign_id"`
	Statement    string `json:"statement"`
	Status       string `json:"status"`
	Verified     bool   `json:"email_verified"`
	CreatedAt    string `json:"created_at"`
}

// IEndorsementService owns the endorsement lifecycle: creation, forward-only
// state transitions, the mutation guard and the public display query.
type IEndorsementService interface {
	Create(ctx context.Context, stakeholderID, campaignID primitive.ObjectID, statement string, publicDisplay bool, meta models.SubmissionMeta) (*models.Endorsement, error)
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.Endorsement, error)
	Approve(ctx context.Context, id primitive.ObjectID, reviewer string) (*models.Endorsement, error)
	Reject(ctx context.Context, id primitive.ObjectID, reviewer, notes string) (*models.Endorsement, error)
	ListPublic(ctx context.Context, campaignID *primitive.ObjectID) ([]models.Endorsement, error)
	ListPending(ctx context.Context) ([]models.Endorsement, error)
	Export(ctx context.Context) ([]ExportRow, error)
}

const endorsementsCollection = "endorsements"

// endorsementService implements IEndorsementService.
type endorsementService struct {
	db          *mongo.Database
	dispatcher  IDispatcher
	stakeholder IStakeholderService
}

// NewEndorsementService creates a new EndorsementService.
func NewEndorsementService(database *mongo.Database, dispatcher IDispatcher, stakeholder IStakeholderService) IEndorsementService {
	return &endorsementService{db: database, dispatcher: dispatcher, stakeholder: stakeholder}
}

// Create inserts a pending endorsement. Invoked only after the spam scorer
// clears the submission and the stakeholder resolver succeeds. The unique
// (stakeholder_id, campaign_id) index serializes concurrent duplicates at the
// storage layer: exactly one insert wins.
func (s *endorsementService) Create(ctx context.Context, stakeholderID, campaignID primitive.ObjectID, statement string, publicDisplay bool, meta models.SubmissionMeta) (*models.Endorsement, error) {
	now := time.Now().UTC()
	endorsement := &models.Endorsement{
		StakeholderID: stakeholderID,
		CampaignID:    campaignID,
		Statement:     utils.SanitizeText(statement),
		PublicDisplay: publicDisplay,
		Status:        models.StatusPending,
		EmailVerified: false,
		Meta:          meta,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	res, err := s.db.Collection(endorsementsCollection).InsertOne(ctx, endorsement)
	if err != nil {
		if db.IsMongoDuplicateKeyError(err) {
			return nil, s.classifyDuplicate(ctx, stakeholderID, campaignID, endorsement.Statement, meta.IPAddress)
		}
		return nil, fmt.Errorf("failed to create endorsement: %w", err)
	}
	endorsement.ID = res.InsertedID.(primitive.ObjectID)
	return endorsement, nil
}

// classifyDuplicate distinguishes a plain duplicate from a tampering attempt
// against a verified record.
func (s *endorsementService) classifyDuplicate(ctx context.Context, stakeholderID, campaignID primitive.ObjectID, statement, requestIP string) error {
	var existing models.Endorsement
	err := s.db.Collection(endorsementsCollection).
		FindOne(ctx, bson.M{"stakeholder_id": stakeholderID, "campaign_id": campaignID}).
		Decode(&existing)
	if err != nil {
		// The duplicate that blocked us should exist; report the duplicate
		// regardless so the caller message stays stable.
		return ErrDuplicateEndorsement
	}
	if existing.EmailVerified && existing.Statement != statement {
		log.Printf("SECURITY: post-verification mutation attempt on endorsement %s from IP %s", existing.ID.Hex(), requestIP)
		return ErrImmutableRecord
	}
	return ErrDuplicateEndorsement
}

// FindByID retrieves an endorsement by its ID.
func (s *endorsementService) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Endorsement, error) {
	var endorsement models.Endorsement
	err := s.db.Collection(endorsementsCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&endorsement)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error finding endorsement %s: %w", id.Hex(), err)
	}
	return &endorsement, nil
}

// Approve transitions verified -> approved, recording the reviewer. The filter
// carries the required source state so a retry of an already-applied transition
// fails loudly instead of double-firing the notification.
func (s *endorsementService) Approve(ctx context.Context, id primitive.ObjectID, reviewer string) (*models.Endorsement, error) {
	endorsement, err := s.transition(ctx, id, models.StatusVerified, bson.M{
		"status":      models.StatusApproved,
		"reviewed_by": reviewer,
		"reviewed_at": time.Now().UTC(),
		"updated_at":  time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	s.notifyReviewOutcome(ctx, endorsement, TemplateApproved)
	return endorsement, nil
}

// Reject transitions verified -> rejected with optional reviewer notes.
// Rejected endorsements are retained as internal records, never displayed.
func (s *endorsementService) Reject(ctx context.Context, id primitive.ObjectID, reviewer, notes string) (*models.Endorsement, error) {
	endorsement, err := s.transition(ctx, id, models.StatusVerified, bson.M{
		"status":       models.StatusRejected,
		"reviewed_by":  reviewer,
		"review_notes": utils.SanitizeText(notes),
		"reviewed_at":  time.Now().UTC(),
		"updated_at":   time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	s.notifyReviewOutcome(ctx, endorsement, TemplateRejected)
	return endorsement, nil
}

// transition applies a conditional update gated on the current status. A
// MatchedCount of zero means the endorsement is missing or not in the required
// state; the follow-up read disambiguates for the caller.
func (s *endorsementService) transition(ctx context.Context, id primitive.ObjectID, from models.EndorsementStatus, set bson.M) (*models.Endorsement, error) {
	collection := s.db.Collection(endorsementsCollection)

	var updated models.Endorsement
	err := collection.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": from},
		bson.M{"$set": set},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&updated)
	if err == nil {
		return &updated, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("db error transitioning endorsement %s: %w", id.Hex(), err)
	}

	if _, ferr := s.FindByID(ctx, id); errors.Is(ferr, ErrNotFound) {
		return nil, ErrNotFound
	}
	log.Printf("Invalid transition attempt on endorsement %s (required state %s)", id.Hex(), from)
	return nil, ErrInvalidTransition
}

// notifyReviewOutcome queues the approval/rejection email. Failures are logged
// and swallowed: notification delivery never blocks a moderation decision.
func (s *endorsementService) notifyReviewOutcome(ctx context.Context, endorsement *models.Endorsement, template string) {
	stakeholder, err := s.stakeholder.FindByID(ctx, endorsement.StakeholderID)
	if err != nil {
		log.Printf("WARN: could not load stakeholder %s for notification: %v", endorsement.StakeholderID.Hex(), err)
		return
	}
	subject := "Your endorsement has been approved"
	if template == TemplateRejected {
		subject = "An update on your endorsement"
	}
	job := EmailJob{
		To:       stakeholder.Email,
		Subject:  subject,
		Template: template,
		Data: map[string]string{
			"name":           stakeholder.Name,
			"endorsement_id": endorsement.ID.Hex(),
		},
	}
	if err := s.dispatcher.DispatchEmail(ctx, job); err != nil {
		log.Printf("WARN: failed to enqueue %s notification for endorsement %s: %v", template, endorsement.ID.Hex(), err)
	}
}

// ListPublic returns endorsements satisfying the display predicate:
// public consent, verified email, approved status.
func (s *endorsementService) ListPublic(ctx context.Context, campaignID *primitive.ObjectID) ([]models.Endorsement, error) {
	filter := bson.M{
		"public_display": true,
		"email_verified": true,
		"status":         models.StatusApproved,
	}
	if campaignID != nil {
		filter["campaign_id"] = *campaignID
	}
	return s.list(ctx, filter)
}

// ListPending returns the staff moderation queue: verified, awaiting review.
func (s *endorsementService) ListPending(ctx context.Context) ([]models.Endorsement, error) {
	return s.list(ctx, bson.M{"status": models.StatusVerified})
}

func (s *endorsementService) list(ctx context.Context, filter bson.M) ([]models.Endorsement, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := s.db.Collection(endorsementsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query endorsements: %w", err)
	}
	defer cursor.Close(ctx)

	var endorsements []models.Endorsement
	if err := cursor.All(ctx, &endorsements); err != nil {
		return nil, fmt.Errorf("failed to decode endorsements: %w", err)
	}
	return endorsements, nil
}

// Export flattens every endorsement with its stakeholder for staff export.
func (s *endorsementService) Export(ctx context.Context) ([]ExportRow, error) {
	endorsements, err := s.list(ctx, bson.M{})
	if err != nil {
		return nil, err
	}

	rows := make([]ExportRow, 0, len(endorsements))
	stakeholders := make(map[primitive.ObjectID]*models.Stakeholder)
	for i := range endorsements {
		e := &endorsements[i]
		stakeholder, ok := stakeholders[e.StakeholderID]
		if !ok {
			stakeholder, err = s.stakeholder.FindByID(ctx, e.StakeholderID)
			if err != nil {
				log.Printf("WARN: export skipping endorsement %s, stakeholder lookup failed: %v", e.ID.Hex(), err)
				continue
			}
			stakeholders[e.StakeholderID] = stakeholder
		}
		rows = append(rows, ExportRow{
			Email:        stakeholder.Email,
			Name:         stakeholder.Name,
			Organization: stakeholder.Organization,
			Type:         string(stakeholder.Type),
			State:        stakeholder.State,
			District:     stakeholder.District,
			CampaignID:   e.CampaignID.Hex(),
			Statement:    e.Statement,
			Status:       string(e.Status),
			Verified:     e.EmailVerified,
			CreatedAt:    e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return rows, nil
}
