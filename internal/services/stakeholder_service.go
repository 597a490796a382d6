package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"coalition/builder/internal/db"
	"coalition/builder/internal/models"
	"coalition/builder/internal/utils"
)

// SubmittedIdentity is the identity portion of a public endorsement submission.
type SubmittedIdentity struct {
	Email        string
	Name         string
	Organization string
	Role         string
	Type         models.StakeholderType
	Street       string
	City         string
	State        string
	County       string
	ZipCode      string
}

// IStakeholderService deduplicates submitter identity by normalized email.
type IStakeholderService interface {
	// Resolve loads the stakeholder matching the submitted identity or creates
	// one. Any identity-field mismatch against an existing record returns
	// ErrDataConflict; existing records are never silently overwritten.
	// requestIP is used only for security logging.
	Resolve(ctx context.Context, identity SubmittedIdentity, requestIP string) (*models.Stakeholder, bool, error)
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.Stakeholder, error)
	// AssignDistrict records the geocoder's district/point result. Called by
	// the background geocoding task; never fails the enclosing flow.
	AssignDistrict(ctx context.Context, id primitive.ObjectID, district string, point *models.GeoPoint) error
}

const stakeholdersCollection = "stakeholders"

// stakeholderService implements IStakeholderService.
type stakeholderService struct {
	db         *mongo.Database
	dispatcher IDispatcher
}

// NewStakeholderService creates a new StakeholderService.
func NewStakeholderService(database *mongo.Database, dispatcher IDispatcher) IStakeholderService {
	return &stakeholderService{db: database, dispatcher: dispatcher}
}

func (s *stakeholderService) Resolve(ctx context.Context, identity SubmittedIdentity, requestIP string) (*models.Stakeholder, bool, error) {
	email := models.NormalizeEmail(identity.Email)
	if email == "" {
		return nil, false, fmt.Errorf("stakeholder email is required")
	}
	if !models.ValidStakeholderType(identity.Type) {
		identity.Type = models.StakeholderTypeOther
	}

	collection := s.db.Collection(stakeholdersCollection)

	var existing models.Stakeholder
	err := collection.FindOne(ctx, bson.M{"email": email}).Decode(&existing)
	if err == nil {
		if !identityMatches(&existing, identity) {
			// Core defense against identity takeover via resubmission: the
			// write is refused, the caller gets a generic message, and the
			// attempt is logged with enough context to investigate.
			log.Printf("SECURITY: stakeholder identity mismatch for %s from IP %s, write refused", email, requestIP)
			return nil, false, ErrDataConflict
		}
		return &existing, false, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, fmt.Errorf("error finding stakeholder by email %s: %w", email, err)
	}

	now := time.Now().UTC()
	newStakeholder := &models.Stakeholder{
		Email:        email,
		Name:         utils.SanitizeText(identity.Name),
		Organization: utils.SanitizeText(identity.Organization),
		Role:         utils.SanitizeText(identity.Role),
		Type:         identity.Type,
		Street:       utils.SanitizeText(identity.Street),
		City:         utils.SanitizeText(identity.City),
		State:        utils.SanitizeText(identity.State),
		County:       utils.SanitizeText(identity.County),
		ZipCode:      utils.SanitizeText(identity.ZipCode),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	res, err := collection.InsertOne(ctx, newStakeholder)
	if err != nil {
		if db.IsMongoDuplicateKeyError(err) {
			// Lost a concurrent-create race on the unique email index. The
			// winner's record is authoritative; re-run the match against it.
			if ferr := collection.FindOne(ctx, bson.M{"email": email}).Decode(&existing); ferr == nil {
				if !identityMatches(&existing, identity) {
					log.Printf("SECURITY: stakeholder identity mismatch for %s from IP %s after concurrent create", email, requestIP)
					return nil, false, ErrDataConflict
				}
				return &existing, false, nil
			}
		}
		return nil, false, fmt.Errorf("failed to create stakeholder %s: %w", email, err)
	}
	newStakeholder.ID = res.InsertedID.(primitive.ObjectID)

	// District assignment is best effort; a geocoder outage must not fail
	// stakeholder creation.
	if newStakeholder.HasAddress() {
		if err := s.dispatcher.DispatchGeocode(ctx, newStakeholder.ID); err != nil {
			log.Printf("WARN: failed to enqueue geocoding for stakeholder %s: %v", newStakeholder.ID.Hex(), err)
		}
	}

	return newStakeholder, true, nil
}

// FindByID retrieves a stakeholder by its ID.
func (s *stakeholderService) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Stakeholder, error) {
	var stakeholder models.Stakeholder
	err := s.db.Collection(stakeholdersCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&stakeholder)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error finding stakeholder %s: %w", id.Hex(), err)
	}
	return &stakeholder, nil
}

// AssignDistrict stores the geocoding result on the stakeholder.
func (s *stakeholderService) AssignDistrict(ctx context.Context, id primitive.ObjectID, district string, point *models.GeoPoint) error {
	update := bson.M{"$set": bson.M{
		"district":   district,
		"updated_at": time.Now().UTC(),
	}}
	if point != nil {
		update["$set"].(bson.M)["location"] = point
	}
	_, err := s.db.Collection(stakeholdersCollection).UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("failed to assign district to stakeholder %s: %w", id.Hex(), err)
	}
	return nil
}

// identityMatches compares every submitted identity field against the stored
// record, case-insensitively. Sanitization is applied to the submitted side so
// a previously-sanitized stored value compares equal to its raw resubmission.
func identityMatches(stored *models.Stakeholder, identity SubmittedIdentity) bool {
	submitted := []string{
		utils.SanitizeText(identity.Name),
		utils.SanitizeText(identity.Organization),
		utils.SanitizeText(identity.Role),
		string(identity.Type),
		utils.SanitizeText(identity.Street),
		utils.SanitizeText(identity.City),
		utils.SanitizeText(identity.State),
		utils.SanitizeText(identity.County),
		utils.SanitizeText(identity.ZipCode),
	}
	storedFields := stored.IdentityFields()
	for i := range storedFields {
		if !strings.EqualFold(strings.TrimSpace(storedFields[i]), strings.TrimSpace(submitted[i])) {
			return false
		}
	}
	return true
}
