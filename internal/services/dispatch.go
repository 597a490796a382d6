package services

import (
	"context"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// EmailJob describes a templated email to deliver out of band.
type EmailJob struct {
	To       string            `json:"to"`
	Subject  string            `json:"subject"`
	Template string            `json:"template"`
	Data     map[string]string `json:"data"`
}

// Email template identifiers.
const (
	TemplateVerification = "endorsement_verification"
	TemplateApproved     = "endorsement_approved"
	TemplateRejected     = "endorsement_rejected"
)

// IDispatcher hands side effects (email delivery, geocoding) to the background
// queue. Implemented by the tasks package; mocked in tests. Dispatch failures
// are non-fatal to the transition that triggered them: callers log and move on.
type IDispatcher interface {
	DispatchEmail(ctx context.Context, job EmailJob) error
	DispatchGeocode(ctx context.Context, stakeholderID primitive.ObjectID) error
}
