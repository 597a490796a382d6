package handlers

import (
	"encoding/csv"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"coalition/builder/internal/api/middleware"
	"coalition/builder/internal/config"
	"coalition/builder/internal/models"
	"coalition/builder/internal/services"
)

// genericRejection is the non-disclosing message for spam, conflict and
// tampering outcomes. Deliberately identical across those paths.
const genericRejection = "Your submission could not be processed."

// resendMessage is the uniform resend response, identical whether or not a
// matching endorsement exists.
const resendMessage = "If a matching pending endorsement exists, a new verification email has been sent."

// EndorsementHandler serves the endorsement pipeline's REST surface.
type EndorsementHandler struct {
	cfg          *config.Config
	rateLimit    services.IRateLimitService
	spam         services.ISpamService
	stakeholders services.IStakeholderService
	endorsements services.IEndorsementService
	tokens       services.ITokenService
	campaigns    services.ICampaignService
}

// NewEndorsementHandler creates a new EndorsementHandler.
func NewEndorsementHandler(
	cfg *config.Config,
	rateLimit services.IRateLimitService,
	spam services.ISpamService,
	stakeholders services.IStakeholderService,
	endorsements services.IEndorsementService,
	tokens services.ITokenService,
	campaigns services.ICampaignService,
) *EndorsementHandler {
	return &EndorsementHandler{
		cfg:          cfg,
		rateLimit:    rateLimit,
		spam:         spam,
		stakeholders: stakeholders,
		endorsements: endorsements,
		tokens:       tokens,
		campaigns:    campaigns,
	}
}

// submitRequest is the public endorsement submission payload.
type submitRequest struct {
	Campaign      string `json:"campaign" binding:"required"`
	Email         string `json:"email" binding:"required,email"`
	Name          string `json:"name" binding:"required"`
	Organization  string `json:"organization"`
	Role          string `json:"role"`
	Type          string `json:"type"`
	Street        string `json:"street"`
	City          string `json:"city"`
	State         string `json:"state"`
	County        string `json:"county"`
	ZipCode       string `json:"zip_code"`
	Statement     string `json:"statement"`
	PublicDisplay bool   `json:"public_display"`

	// FormRenderedAt is set by the frontend when the form is shown; the
	// elapsed time feeds the spam scorer's timing signal.
	FormRenderedAt time.Time `json:"form_rendered_at"`

	// Honeypot fields. Hidden in the frontend; humans never fill them.
	Website      string `json:"website"`
	ConfirmEmail string `json:"confirm_email"`
}

// checkRate applies the shared attempt window and answers 429 when exceeded.
// Returns false when the request has been aborted.
func (h *EndorsementHandler) checkRate(c *gin.Context) bool {
	identity := middleware.ClientIdentity(c)
	result := h.rateLimit.Check(c.Request.Context(), identity, h.cfg.RateLimitMaxAttempts, h.cfg.RateLimitWindowSeconds)
	if !result.Allowed {
		c.Header("Retry-After", "300")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":    "Too many attempts. Please try again later.",
			"retry_in": result.ResetIn,
		})
		return false
	}
	return true
}

// Submit runs the full pipeline: rate limit, spam scoring, stakeholder
// resolution, endorsement creation, token issuance.
func (h *EndorsementHandler) Submit(c *gin.Context) {
	if !h.checkRate(c) {
		return
	}

	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	campaign, err := h.campaigns.FindBySlug(c.Request.Context(), req.Campaign)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Campaign not found"})
			return
		}
		h.internalError(c, err)
		return
	}
	if !campaign.AllowEndorsements {
		c.JSON(http.StatusForbidden, gin.H{"error": "This campaign is not accepting endorsements."})
		return
	}

	clientIP := middleware.ClientIdentity(c)
	submittedAt := time.Now().UTC()

	decision := h.spam.Evaluate(c.Request.Context(), services.SpamInput{
		HoneypotValues: []string{req.Website, req.ConfirmEmail},
		FormRenderedAt: req.FormRenderedAt,
		SubmittedAt:    submittedAt,
		Email:          req.Email,
		Name:           req.Name,
		Organization:   req.Organization,
		Statement:      req.Statement,
	})
	if decision.Blocked {
		// No detail on which signal fired; the full reason list is server-side.
		log.Printf("Spam-blocked submission from IP %s for campaign %s: confidence=%.2f reasons=%v",
			clientIP, campaign.Slug, decision.Confidence, decision.Reasons)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": genericRejection})
		return
	}

	stakeholder, _, err := h.stakeholders.Resolve(c.Request.Context(), services.SubmittedIdentity{
		Email:        req.Email,
		Name:         req.Name,
		Organization: req.Organization,
		Role:         req.Role,
		Type:         models.StakeholderType(req.Type),
		Street:       req.Street,
		City:         req.City,
		State:        req.State,
		County:       req.County,
		ZipCode:      req.ZipCode,
	}, clientIP)
	if err != nil {
		if errors.Is(err, services.ErrDataConflict) {
			c.JSON(http.StatusConflict, gin.H{"error": genericRejection})
			return
		}
		h.internalError(c, err)
		return
	}

	meta := models.SubmissionMeta{
		SubmissionID:   uuid.NewString(),
		IPAddress:      clientIP,
		UserAgent:      c.Request.UserAgent(),
		FormRenderedAt: req.FormRenderedAt,
		SubmittedAt:    submittedAt,
		SpamScore:      decision.Confidence,
		SpamReasons:    decision.Reasons,
	}

	endorsement, err := h.endorsements.Create(c.Request.Context(), stakeholder.ID, campaign.ID, req.Statement, req.PublicDisplay, meta)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrDuplicateEndorsement):
			c.JSON(http.StatusConflict, gin.H{"error": "You have already endorsed this campaign."})
		case errors.Is(err, services.ErrImmutableRecord):
			c.JSON(http.StatusConflict, gin.H{"error": genericRejection})
		default:
			h.internalError(c, err)
		}
		return
	}

	if _, err := h.tokens.Issue(c.Request.Context(), endorsement); err != nil {
		// The endorsement exists; the resend flow can recover a failed issue.
		log.Printf("WARN: token issuance failed for endorsement %s: %v", endorsement.ID.Hex(), err)
	}

	c.JSON(http.StatusCreated, gin.H{
		"endorsement": endorsement,
		"message":     "Please check your email to confirm your endorsement.",
	})
}

// Verify consumes a verification token and applies the verify transition.
func (h *EndorsementHandler) Verify(c *gin.Context) {
	if !h.checkRate(c) {
		return
	}

	tokenValue := c.Param("token")
	endorsement, err := h.tokens.Validate(c.Request.Context(), tokenValue)
	if err != nil {
		// Invalid and expired are surfaced distinctly so the UI can offer a
		// resend action for the latter.
		switch {
		case errors.Is(err, services.ErrTokenExpired):
			c.JSON(http.StatusGone, gin.H{"error": "This verification link has expired.", "code": "token_expired"})
		case errors.Is(err, services.ErrTokenInvalid):
			c.JSON(http.StatusBadRequest, gin.H{"error": "This verification link is not valid.", "code": "token_invalid"})
		default:
			h.internalError(c, err)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"endorsement": endorsement,
		"message":     "Your email has been verified. Thank you for your endorsement.",
	})
}

// resendRequest identifies the endorsement to reissue a token for.
type resendRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Campaign string `json:"campaign" binding:"required"`
}

// Resend reissues a verification token. The response never discloses whether
// a matching endorsement exists.
func (h *EndorsementHandler) Resend(c *gin.Context) {
	if !h.checkRate(c) {
		return
	}

	var req resendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	if err := h.tokens.Resend(c.Request.Context(), req.Email, req.Campaign); err != nil {
		// Unexpected failure only; expected misses already return nil.
		log.Printf("WARN: resend failed for %s: %v", models.NormalizeEmail(req.Email), err)
	}
	c.JSON(http.StatusOK, gin.H{"message": resendMessage})
}

// ListPublic returns endorsements satisfying the public display predicate.
func (h *EndorsementHandler) ListPublic(c *gin.Context) {
	var campaignID *primitive.ObjectID
	if slug := c.Query("campaign"); slug != "" {
		campaign, err := h.campaigns.FindBySlug(c.Request.Context(), slug)
		if err != nil {
			if errors.Is(err, services.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Campaign not found"})
				return
			}
			h.internalError(c, err)
			return
		}
		campaignID = &campaign.ID
	}

	endorsements, err := h.endorsements.ListPublic(c.Request.Context(), campaignID)
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"endorsements": endorsements})
}

// ListPending returns the staff moderation queue.
func (h *EndorsementHandler) ListPending(c *gin.Context) {
	endorsements, err := h.endorsements.ListPending(c.Request.Context())
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"endorsements": endorsements})
}

// Approve applies the verified -> approved moderation transition.
func (h *EndorsementHandler) Approve(c *gin.Context) {
	h.moderate(c, func(id primitive.ObjectID, reviewer string) (*models.Endorsement, error) {
		return h.endorsements.Approve(c.Request.Context(), id, reviewer)
	})
}

// rejectRequest carries optional reviewer notes.
type rejectRequest struct {
	Notes string `json:"notes"`
}

// Reject applies the verified -> rejected moderation transition.
func (h *EndorsementHandler) Reject(c *gin.Context) {
	var req rejectRequest
	// Body is optional for reject
	_ = c.ShouldBindJSON(&req)

	h.moderate(c, func(id primitive.ObjectID, reviewer string) (*models.Endorsement, error) {
		return h.endorsements.Reject(c.Request.Context(), id, reviewer, req.Notes)
	})
}

func (h *EndorsementHandler) moderate(c *gin.Context, apply func(primitive.ObjectID, string) (*models.Endorsement, error)) {
	id, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid endorsement ID"})
		return
	}
	reviewer := c.GetString(middleware.ContextKeyReviewer)

	endorsement, err := apply(id, reviewer)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "Endorsement not found"})
		case errors.Is(err, services.ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{"error": "Endorsement is not awaiting moderation."})
		default:
			h.internalError(c, err)
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"endorsement": endorsement})
}

// ExportCSV streams all endorsements as CSV. Field values that could be
// interpreted as spreadsheet formulas are neutralized with a leading quote.
func (h *EndorsementHandler) ExportCSV(c *gin.Context) {
	rows, err := h.endorsements.Export(c.Request.Context())
	if err != nil {
		h.internalError(c, err)
		return
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", "attachment; filename=endorsements.csv")

	w := csv.NewWriter(c.Writer)
	_ = w.Write([]string{"email", "name", "organization", "type", "state", "district", "campaign_id", "statement", "status", "email_verified", "created_at"})
	for _, row := range rows {
		verified := "false"
		if row.Verified {
			verified = "true"
		}
		record := []string{
			row.Email, row.Name, row.Organization, row.Type, row.State,
			row.District, row.CampaignID, row.Statement, row.Status,
			verified, row.CreatedAt,
		}
		for i := range record {
			record[i] = NeutralizeCSVField(record[i])
		}
		_ = w.Write(record)
	}
	w.Flush()
}

// ExportJSON streams all endorsements as JSON.
func (h *EndorsementHandler) ExportJSON(c *gin.Context) {
	rows, err := h.endorsements.Export(c.Request.Context())
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename=endorsements.json")
	c.JSON(http.StatusOK, gin.H{"endorsements": rows})
}

// NeutralizeCSVField prefixes values starting with a formula trigger character
// so exported cells are never executed by spreadsheet software.
func NeutralizeCSVField(value string) string {
	if value == "" {
		return value
	}
	if strings.ContainsRune("=+-@|", rune(value[0])) {
		return "'" + value
	}
	return value
}

// internalError logs the full error server-side and answers with a generic
// message; diagnostics never leak to callers.
func (h *EndorsementHandler) internalError(c *gin.Context, err error) {
	log.Printf("ERROR: %s %s: %v", c.Request.Method, c.FullPath(), err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}
