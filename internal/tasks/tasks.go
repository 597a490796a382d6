package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"coalition/builder/internal/config"
	"coalition/builder/internal/email"
	"coalition/builder/internal/geocode"
	"coalition/builder/internal/services"
)

// Task types.
const (
	TypeEmailDelivery      = "email:deliver"
	TypeGeocodeStakeholder = "stakeholder:geocode"
)

// geocodePayload carries the stakeholder to geocode.
type geocodePayload struct {
	StakeholderID string `json:"stakeholder_id"`
}

// NewClient builds an asynq client on the shared Redis connection.
func NewClient(rdb *redis.Client) *asynq.Client {
	clientOpt := asynq.RedisClientOpt{
		Addr:     rdb.Options().Addr,
		Password: rdb.Options().Password,
		DB:       rdb.Options().DB,
	}
	return asynq.NewClient(clientOpt)
}

// Dispatcher implements services.IDispatcher by enqueuing asynq tasks.
type Dispatcher struct {
	client *asynq.Client
}

// NewDispatcher creates a Dispatcher around an asynq client.
func NewDispatcher(client *asynq.Client) *Dispatcher {
	return &Dispatcher{client: client}
}

// DispatchEmail enqueues an email delivery task with a few retries; a mail
// relay hiccup should not lose a verification link.
func (d *Dispatcher) DispatchEmail(ctx context.Context, job services.EmailJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal email job: %w", err)
	}
	task := asynq.NewTask(TypeEmailDelivery, payload)
	if _, err := d.client.EnqueueContext(ctx, task, asynq.MaxRetry(5), asynq.Timeout(30*time.Second)); err != nil {
		return fmt.Errorf("failed to enqueue email delivery: %w", err)
	}
	return nil
}

// DispatchGeocode enqueues a geocoding task for a stakeholder.
func (d *Dispatcher) DispatchGeocode(ctx context.Context, stakeholderID primitive.ObjectID) error {
	payload, err := json.Marshal(geocodePayload{StakeholderID: stakeholderID.Hex()})
	if err != nil {
		return fmt.Errorf("failed to marshal geocode payload: %w", err)
	}
	task := asynq.NewTask(TypeGeocodeStakeholder, payload)
	if _, err := d.client.EnqueueContext(ctx, task, asynq.MaxRetry(3), asynq.Timeout(30*time.Second)); err != nil {
		return fmt.Errorf("failed to enqueue geocoding: %w", err)
	}
	return nil
}

// TaskProcessor handles the processing of background tasks.
type TaskProcessor struct {
	cfg         *config.Config
	emailSender email.Sender
	geocoder    geocode.IGeocoder
	stakeholder services.IStakeholderService
}

// NewTaskProcessor creates a TaskProcessor with its collaborator dependencies.
func NewTaskProcessor(cfg *config.Config, emailSender email.Sender, geocoder geocode.IGeocoder, stakeholder services.IStakeholderService) *TaskProcessor {
	return &TaskProcessor{
		cfg:         cfg,
		emailSender: emailSender,
		geocoder:    geocoder,
		stakeholder: stakeholder,
	}
}

// NewServer builds the asynq server consuming from the shared Redis.
func NewServer(rdb *redis.Client) *asynq.Server {
	return asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     rdb.Options().Addr,
			Password: rdb.Options().Password,
			DB:       rdb.Options().DB,
		},
		asynq.Config{
			Concurrency: 5,
		},
	)
}

// Mux registers the task handlers.
func (p *TaskProcessor) Mux() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeEmailDelivery, p.HandleEmailDelivery)
	mux.HandleFunc(TypeGeocodeStakeholder, p.HandleGeocodeStakeholder)
	return mux
}

// HandleEmailDelivery composes and sends one templated email.
func (p *TaskProcessor) HandleEmailDelivery(ctx context.Context, t *asynq.Task) error {
	var job services.EmailJob
	if err := json.Unmarshal(t.Payload(), &job); err != nil {
		return fmt.Errorf("failed to unmarshal email job: %v: %w", err, asynq.SkipRetry)
	}

	msg, err := email.ComposeMessage(p.cfg.SmtpFromAddress, job.To, job.Subject, job.Template, job.Data)
	if err != nil {
		return fmt.Errorf("failed to compose email for %s: %v: %w", job.To, err, asynq.SkipRetry)
	}

	if err := p.emailSender.Send(ctx, []string{job.To}, job.Subject, msg); err != nil {
		return fmt.Errorf("failed to send %s email to %s: %w", job.Template, job.To, err)
	}
	return nil
}

// HandleGeocodeStakeholder resolves a stakeholder's district assignment.
// Geocoding is best effort: an unresolvable address completes the task; only
// collaborator outages are retried.
func (p *TaskProcessor) HandleGeocodeStakeholder(ctx context.Context, t *asynq.Task) error {
	var payload geocodePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal geocode payload: %v: %w", err, asynq.SkipRetry)
	}
	id, err := primitive.ObjectIDFromHex(payload.StakeholderID)
	if err != nil {
		return fmt.Errorf("invalid stakeholder ID %q: %v: %w", payload.StakeholderID, err, asynq.SkipRetry)
	}

	stakeholder, err := p.stakeholder.FindByID(ctx, id)
	if err != nil {
		return fmt.Errorf("stakeholder %s not found for geocoding: %v: %w", id.Hex(), err, asynq.SkipRetry)
	}

	result, err := p.geocoder.Geocode(ctx, stakeholder.Street, stakeholder.City, stakeholder.State, stakeholder.ZipCode)
	if err != nil {
		log.Printf("WARN: geocoding failed for stakeholder %s: %v", id.Hex(), err)
		return err // retried by asynq up to MaxRetry
	}
	if result == nil {
		log.Printf("Geocoder could not resolve address for stakeholder %s; stored without district", id.Hex())
		return nil
	}

	if err := p.stakeholder.AssignDistrict(ctx, id, result.District, &result.Point); err != nil {
		return err
	}
	log.Printf("Assigned district %q to stakeholder %s", result.District, id.Hex())
	return nil
}
