package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"coalition/builder/internal/models"
)

// ICampaignService is the read surface the pipeline needs from campaigns.
// Campaign content management is handled elsewhere.
type ICampaignService interface {
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.PolicyCampaign, error)
	FindBySlug(ctx context.Context, slug string) (*models.PolicyCampaign, error)
	Create(ctx context.Context, campaign *models.PolicyCampaign) (*models.PolicyCampaign, error)
}

const campaignsCollection = "campaigns"

type campaignService struct {
	db *mongo.Database
}

// NewCampaignService creates a new CampaignService.
func NewCampaignService(database *mongo.Database) ICampaignService {
	return &campaignService{db: database}
}

func (s *campaignService) FindByID(ctx context.Context, id primitive.ObjectID) (*models.PolicyCampaign, error) {
	var campaign models.PolicyCampaign
	err := s.db.Collection(campaignsCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&campaign)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error finding campaign %s: %w", id.Hex(), err)
	}
	return &campaign, nil
}

func (s *campaignService) FindBySlug(ctx context.Context, slug string) (*models.PolicyCampaign, error) {
	var campaign models.PolicyCampaign
	err := s.db.Collection(campaignsCollection).FindOne(ctx, bson.M{"slug": slug}).Decode(&campaign)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("error finding campaign %q: %w", slug, err)
	}
	return &campaign, nil
}

// Create inserts a campaign. Used by seeding and tests; public campaign CRUD
// is out of scope for this service.
func (s *campaignService) Create(ctx context.Context, campaign *models.PolicyCampaign) (*models.PolicyCampaign, error) {
	now := time.Now().UTC()
	campaign.CreatedAt = now
	campaign.UpdatedAt = now
	res, err := s.db.Collection(campaignsCollection).InsertOne(ctx, campaign)
	if err != nil {
		return nil, fmt.Errorf("failed to create campaign %q: %w", campaign.Slug, err)
	}
	campaign.ID = res.InsertedID.(primitive.ObjectID)
	return campaign, nil
}
