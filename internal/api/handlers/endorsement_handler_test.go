package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"coalition/builder/internal/config"
	"coalition/builder/internal/models"
	"coalition/builder/internal/services"
)

type mockRateLimitService struct{ mock.Mock }

func (m *mockRateLimitService) Check(ctx context.Context, identity string, maxAttempts, windowSeconds int) services.RateLimitResult {
	args := m.Called(ctx, identity, maxAttempts, windowSeconds)
	return args.Get(0).(services.RateLimitResult)
}

type mockSpamService struct{ mock.Mock }

func (m *mockSpamService) Evaluate(ctx context.Context, input services.SpamInput) models.SpamDecision {
	args := m.Called(ctx, input)
	return args.Get(0).(models.SpamDecision)
}

type mockStakeholderService struct{ mock.Mock }

func (m *mockStakeholderService) Resolve(ctx context.Context, identity services.SubmittedIdentity, requestIP string) (*models.Stakeholder, bool, error) {
	args := m.Called(ctx, identity, requestIP)
	var stakeholder *models.Stakeholder
	if args.Get(0) != nil {
		stakeholder = args.Get(0).(*models.Stakeholder)
	}
	return stakeholder, args.Bool(1), args.Error(2)
}

func (m *mockStakeholderService) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Stakeholder, error) {
	args := m.Called(ctx, id)
	var stakeholder *models.Stakeholder
	if args.Get(0) != nil {
		stakeholder = args.Get(0).(*models.Stakeholder)
	}
	return stakeholder, args.Error(1)
}

func (m *mockStakeholderService) AssignDistrict(ctx context.Context, id primitive.ObjectID, district string, point *models.GeoPoint) error {
	args := m.Called(ctx, id, district, point)
	return args.Error(0)
}

type mockEndorsementService struct{ mock.Mock }

func (m *mockEndorsementService) Create(ctx context.Context, stakeholderID, campaignID primitive.ObjectID, statement string, publicDisplay bool, meta models.SubmissionMeta) (*models.Endorsement, error) {
	args := m.Called(ctx, stakeholderID, campaignID, statement, publicDisplay, meta)
	var endorsement *models.Endorsement
	if args.Get(0) != nil {
		endorsement = args.Get(0).(*models.Endorsement)
	}
	return endorsement, args.Error(1)
}

func (m *mockEndorsementService) FindByID(ctx context.Context, id primitive.ObjectID) (*models.Endorsement, error) {
	args := m.Called(ctx, id)
	var endorsement *models.Endorsement
	if args.Get(0) != nil {
		endorsement = args.Get(0).(*models.Endorsement)
	}
	return endorsement, args.Error(1)
}

func (m *mockEndorsementService) Approve(ctx context.Context, id primitive.ObjectID, reviewer string) (*models.Endorsement, error) {
	args := m.Called(ctx, id, reviewer)
	var endorsement *models.Endorsement
	if args.Get(0) != nil {
		endorsement = args.Get(0).(*models.Endorsement)
	}
	return endorsement, args.Error(1)
}

func (m *mockEndorsementService) Reject(ctx context.Context, id primitive.ObjectID, reviewer, notes string) (*models.Endorsement, error) {
	args := m.Called(ctx, id, reviewer, notes)
	var endorsement *models.Endorsement
	if args.Get(0) != nil {
		endorsement = args.Get(0).(*models.Endorsement)
	}
	return endorsement, args.Error(1)
}

func (m *mockEndorsementService) ListPublic(ctx context.Context, campaignID *primitive.ObjectID) ([]models.Endorsement, error) {
	args := m.Called(ctx, campaignID)
	var endorsements []models.Endorsement
	if args.Get(0) != nil {
		endorsements = args.Get(0).([]models.Endorsement)
	}
	return endorsements, args.Error(1)
}

func (m *mockEndorsementService) ListPending(ctx context.Context) ([]models.Endorsement, error) {
	args := m.Called(ctx)
	var endorsements []models.Endorsement
	if args.Get(0) != nil {
		endorsements = args.Get(0).([]models.Endorsement)
	}
	return endorsements, args.Error(1)
}

func (m *mockEndorsementService) Export(ctx context.Context) ([]services.ExportRow, error) {
	args := m.Called(ctx)
	var rows []services.ExportRow
	if args.Get(0) != nil {
		rows = args.Get(0).([]services.ExportRow)
	}
	return rows, args.Error(1)
}

type mockTokenService struct{ mock.Mock }

func (m *mockTokenService) Issue(ctx context.Context, endorsement *models.Endorsement) (string, error) {
	args := m.Called(ctx, endorsement)
	return args.String(0), args.Error(1)
}

func (m *mockTokenService) Validate(ctx context.Context, tokenValue string) (*models.Endorsement, error) {
	args := m.Called(ctx, tokenValue)
	var endorsement *models.Endorsement
	if args.Get(0) != nil {
		endorsement = args.Get(0).(*models.Endorsement)
	}
	return endorsement, args.Error(1)
}

func (m *mockTokenService) Resend(ctx context.Context, email, campaignSlug string) error {
	args := m.Called(ctx, email, campaignSlug)
	return args.Error(0)
}

type mockCampaignService struct{ mock.Mock }

func (m *mockCampaignService) FindByID(ctx context.Context, id primitive.ObjectID) (*models.PolicyCampaign, error) {
	args := m.Called(ctx, id)
	var campaign *models.PolicyCampaign
	if args.Get(0) != nil {
		campaign = args.Get(0).(*models.PolicyCampaign)
	}
	return campaign, args.Error(1)
}

func (m *mockCampaignService) FindBySlug(ctx context.Context, slug string) (*models.PolicyCampaign, error) {
	args := m.Called(ctx, slug)
	var campaign *models.PolicyCampaign
	if args.Get(0) != nil {
		campaign = args.Get(0).(*models.PolicyCampaign)
	}
	return campaign, args.Error(1)
}

func (m *mockCampaignService) Create(ctx context.Context, campaign *models.PolicyCampaign) (*models.PolicyCampaign, error) {
	args := m.Called(ctx, campaign)
	var created *models.PolicyCampaign
	if args.Get(0) != nil {
		created = args.Get(0).(*models.PolicyCampaign)
	}
	return created, args.Error(1)
}

type handlerMocks struct {
	rateLimit    *mockRateLimitService
	spam         *mockSpamService
	stakeholders *mockStakeholderService
	endorsements *mockEndorsementService
	tokens       *mockTokenService
	campaigns    *mockCampaignService
}

func setupHandlerTest(t *testing.T) (*gin.Engine, *handlerMocks) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mocks := &handlerMocks{
		rateLimit:    new(mockRateLimitService),
		spam:         new(mockSpamService),
		stakeholders: new(mockStakeholderService),
		endorsements: new(mockEndorsementService),
		tokens:       new(mockTokenService),
		campaigns:    new(mockCampaignService),
	}

	cfg := &config.Config{
		RateLimitMaxAttempts:   3,
		RateLimitWindowSeconds: 300,
	}
	handler := NewEndorsementHandler(cfg,
		mocks.rateLimit, mocks.spam, mocks.stakeholders,
		mocks.endorsements, mocks.tokens, mocks.campaigns)

	router := gin.New()
	v1 := router.Group("/v1")
	v1.POST("/endorsements", handler.Submit)
	v1.POST("/endorsements/verify/:token", handler.Verify)
	v1.POST("/endorsements/resend-verification", handler.Resend)
	v1.GET("/endorsements", handler.ListPublic)
	v1.GET("/endorsements/admin/pending", handler.ListPending)
	v1.POST("/endorsements/admin/approve/:id", handler.Approve)
	v1.POST("/endorsements/admin/reject/:id", handler.Reject)
	v1.GET("/endorsements/export/csv", handler.ExportCSV)
	return router, mocks
}

func (m *handlerMocks) allowRate() {
	m.rateLimit.On("Check", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(services.RateLimitResult{Allowed: true, Remaining: 2})
}

func (m *handlerMocks) openCampaign() *models.PolicyCampaign {
	campaign := &models.PolicyCampaign{
		ID:                primitive.NewObjectID(),
		Slug:              "oyster-restoration",
		AllowEndorsements: true,
	}
	m.campaigns.On("FindBySlug", mock.Anything, "oyster-restoration").Return(campaign, nil)
	return campaign
}

func validSubmitBody() map[string]interface{} {
	return map[string]interface{}{
		"campaign":         "oyster-restoration",
		"email":            "jane@example.com",
		"name":             "Jane Doe",
		"organization":     "Chesapeake Oyster Co.",
		"type":             "business",
		"statement":        "Clean water matters.",
		"public_display":   true,
		"form_rendered_at": time.Now().Add(-time.Minute).Format(time.RFC3339),
	}
}

func performJSON(router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestSubmitHappyPath(t *testing.T) {
	router, mocks := setupHandlerTest(t)
	mocks.allowRate()
	campaign := mocks.openCampaign()

	stakeholder := &models.Stakeholder{ID: primitive.NewObjectID(), Email: "jane@example.com"}
	endorsement := &models.Endorsement{ID: primitive.NewObjectID(), Status: models.StatusPending}

	mocks.spam.On("Evaluate", mock.Anything, mock.Anything).Return(models.SpamDecision{})
	mocks.stakeholders.On("Resolve", mock.Anything, mock.Anything, mock.Anything).Return(stakeholder, true, nil)
	mocks.endorsements.On("Create", mock.Anything, stakeholder.ID, campaign.ID, "Clean water matters.", true, mock.Anything).
		Return(endorsement, nil)
	mocks.tokens.On("Issue", mock.Anything, endorsement).Return("tok", nil)

	w := performJSON(router, http.MethodPost, "/v1/endorsements", validSubmitBody())

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), "check your email")
	mocks.tokens.AssertCalled(t, "Issue", mock.Anything, endorsement)
}

func TestSubmitRateLimited(t *testing.T) {
	router, mocks := setupHandlerTest(t)
	mocks.rateLimit.On("Check", mock.Anything, mock.Anything, 3, 300).
		Return(services.RateLimitResult{Allowed: false, ResetIn: 120})

	w := performJSON(router, http.MethodPost, "/v1/endorsements", validSubmitBody())

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "300", w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), `"retry_in":120`)
	mocks.campaigns.AssertNotCalled(t, "FindBySlug", mock.Anything, mock.Anything)
}

func TestSubmitSpamBlockedIsGenericAndSkipsPersistence(t *testing.T) {
	router, mocks := setupHandlerTest(t)
	mocks.allowRate()
	mocks.openCampaign()
	mocks.spam.On("Evaluate", mock.Anything, mock.Anything).Return(models.SpamDecision{
		Confidence: 1.0,
		Reasons:    []string{models.ReasonHoneypot},
		Blocked:    true,
	})

	body := validSubmitBody()
	body["website"] = "http://spam.example"
	w := performJSON(router, http.MethodPost, "/v1/endorsements", body)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), genericRejection)
	assert.NotContains(t, w.Body.String(), "honeypot")
	mocks.stakeholders.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything, mock.Anything)
	mocks.endorsements.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSubmitClosedCampaign(t *testing.T) {
	router, mocks := setupHandlerTest(t)
	mocks.allowRate()
	mocks.campaigns.On("FindBySlug", mock.Anything, "oyster-restoration").
		Return(&models.PolicyCampaign{ID: primitive.NewObjectID(), Slug: "oyster-restoration"}, nil)

	w := performJSON(router, http.MethodPost, "/v1/endorsements", validSubmitBody())

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSubmitUnknownCampaign(t *testing.T) {
	router, mocks := setupHandlerTest(t)
	mocks.allowRate()
	mocks.campaigns.On("FindBySlug", mock.Anything, "oyster-restoration").
		Return(nil, services.ErrNotFound)

	w := performJSON(router, http.MethodPost, "/v1/endorsements", validSubmitBody())

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubmitIdentityConflictIsGeneric(t *testing.T) {
	router, mocks := setupHandlerTest(t)
	mocks.allowRate()
	mocks.openCampaign()
	mocks.spam.On("Evaluate", mock.Anything, mock.Anything).Return(models.SpamDecision{})
	mocks.stakeholders.On("Resolve", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, false, services.ErrDataConflict)

	w := performJSON(router, http.MethodPost, "/v1/endorsements", validSubmitBody())

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), genericRejection)
}

func TestSubmitDuplicateEndorsement(t *testing.T) {
	router, mocks := setupHandlerTest(t)
	mocks.allowRate()
	mocks.openCampaign()
	mocks.spam.On("Evaluate", mock.Anything, mock.Anything).Return(models.SpamDecision{})
	mocks.stakeholders.On("Resolve", mock.Anything, mock.Anything, mock.Anything).
		Return(&models.Stakeholder{ID: primitive.NewObjectID()}, false, nil)
	mocks.endorsements.On("Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, services.ErrDuplicateEndorsement)

	w := performJSON(router, http.MethodPost, "/v1/endorsements", validSubmitBody())

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "already endorsed")
}

func TestSubmitTamperingAttemptIsGeneric(t *testing.T) {
	router, mocks := setupHandlerTest(t)
	mocks.allowRate()
	mocks.openCampaign()
	mocks.spam.On("Evaluate", mock.Anything, mock.Anything).Return(models.SpamDecision{})
	mocks.stakeholders.On("Resolve", mock.Anything, mock.Anything, mock.Anything).
		Return(&models.Stakeholder{ID: primitive.NewObjectID()}, false, nil)
	mocks.endorsements.On("Create", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, services.ErrImmutableRecord)

	w := performJSON(router, http.MethodPost, "/v1/endorsements", validSubmitBody())

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), genericRejection)
	assert.NotContains(t, w.Body.String(), "verified")
}

func TestSubmitSucceedsWhenTokenIssueFails(t *testing.T) {
	router, mocks := setupHandlerTest(t)
	mocks.allowRate()
	campaign := mocks.openCampaign()
	stakeholder := &models.Stakeholder{ID: primitive.NewObjectID()}
	endorsement := &models.Endorsement{ID: primitive.NewObjectID(), Status: models.StatusPending}

	mocks.spam.On("Evaluate", mock.Anything, mock.Anything).Return(models.SpamDecision{})
	mocks.stakeholders.On("Resolve", mock.Anything, mock.Anything, mock.Anything).Return(stakeholder, true, nil)
	mocks.endorsements.On("Create", mock.Anything, stakeholder.ID, campaign.ID, mock.Anything, mock.Anything, mock.Anything).
		Return(endorsement, nil)
	mocks.tokens.On("Issue", mock.Anything, endorsement).Return("", assert.AnError)

	w := performJSON(router, http.MethodPost, "/v1/endorsements", validSubmitBody())

	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestSubmitInvalidBody(t *testing.T) {
	router, mocks := setupHandlerTest(t)
	mocks.allowRate()

	w := performJSON(router, http.MethodPost, "/v1/endorsements", map[string]interface{}{
		"campaign": "oyster-restoration",
		"email":    "not-an-email",
		"name":     "Jane",
	})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestVerifyStatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"expired", services.ErrTokenExpired, http.StatusGone, "token_expired"},
		{"invalid", services.ErrTokenInvalid, http.StatusBadRequest, "token_invalid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, mocks := setupHandlerTest(t)
			mocks.allowRate()
			mocks.tokens.On("Validate", mock.Anything, "sometoken").Return(nil, tt.err)

			w := performJSON(router, http.MethodPost, "/v1/endorsements/verify/sometoken", nil)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Contains(t, w.Body.String(), tt.wantCode)
		})
	}
}

func TestVerifySuccess(t *testing.T) {
	router, mocks := setupHandlerTest(t)
	mocks.allowRate()
	endorsement := &models.Endorsement{ID: primitive.NewObjectID(), Status: models.StatusVerified, EmailVerified: true}
	mocks.tokens.On("Validate", mock.Anything, "goodtoken").Return(endorsement, nil)

	w := performJSON(router, http.MethodPost, "/v1/endorsements/verify/goodtoken", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "verified")
}

func TestResendResponseIsUniform(t *testing.T) {
	router, mocks := setupHandlerTest(t)
	mocks.allowRate()
	mocks.tokens.On("Resend", mock.Anything, "found@example.com", "oyster-restoration").Return(nil)
	mocks.tokens.On("Resend", mock.Anything, "missing@example.com", "oyster-restoration").Return(assert.AnError)

	bodies := make([]string, 0, 2)
	for _, email := range []string{"found@example.com", "missing@example.com"} {
		w := performJSON(router, http.MethodPost, "/v1/endorsements/resend-verification", map[string]interface{}{
			"email":    email,
			"campaign": "oyster-restoration",
		})
		assert.Equal(t, http.StatusOK, w.Code)
		bodies = append(bodies, w.Body.String())
	}
	assert.Equal(t, bodies[0], bodies[1])
	assert.Contains(t, bodies[0], resendMessage)
}

func TestListPublicFiltersByCampaign(t *testing.T) {
	router, mocks := setupHandlerTest(t)
	campaign := mocks.openCampaign()
	mocks.endorsements.On("ListPublic", mock.Anything, &campaign.ID).Return([]models.Endorsement{}, nil)

	w := performJSON(router, http.MethodGet, "/v1/endorsements?campaign=oyster-restoration", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	mocks.endorsements.AssertCalled(t, "ListPublic", mock.Anything, &campaign.ID)
}

func TestApproveNotAwaitingModeration(t *testing.T) {
	router, mocks := setupHandlerTest(t)
	id := primitive.NewObjectID()
	mocks.endorsements.On("Approve", mock.Anything, id, mock.Anything).Return(nil, services.ErrInvalidTransition)

	w := performJSON(router, http.MethodPost, "/v1/endorsements/admin/approve/"+id.Hex(), nil)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestApproveInvalidID(t *testing.T) {
	router, _ := setupHandlerTest(t)

	w := performJSON(router, http.MethodPost, "/v1/endorsements/admin/approve/not-an-id", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRejectPassesNotes(t *testing.T) {
	router, mocks := setupHandlerTest(t)
	id := primitive.NewObjectID()
	rejected := &models.Endorsement{ID: id, Status: models.StatusRejected}
	mocks.endorsements.On("Reject", mock.Anything, id, mock.Anything, "Off topic").Return(rejected, nil)

	w := performJSON(router, http.MethodPost, "/v1/endorsements/admin/reject/"+id.Hex(), map[string]interface{}{
		"notes": "Off topic",
	})

	assert.Equal(t, http.StatusOK, w.Code)
	mocks.endorsements.AssertCalled(t, "Reject", mock.Anything, id, mock.Anything, "Off topic")
}

func TestExportCSVNeutralizesFormulas(t *testing.T) {
	router, mocks := setupHandlerTest(t)
	mocks.endorsements.On("Export", mock.Anything).Return([]services.ExportRow{
		{
			Email:     "jane@example.com",
			Name:      "=cmd|' /C calc'!A0",
			Statement: "+SUM(A1:A9)",
			Status:    "approved",
		},
	}, nil)

	w := performJSON(router, http.MethodGet, "/v1/endorsements/export/csv", nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "'=cmd")
	assert.Contains(t, body, "'+SUM")
	assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")
}

func TestNeutralizeCSVField(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"=1+1", "'=1+1"},
		{"+1", "'+1"},
		{"-1", "'-1"},
		{"@cell", "'@cell"},
		{"|cmd", "'|cmd"},
		{"plain text", "plain text"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NeutralizeCSVField(tt.in))
	}
}
