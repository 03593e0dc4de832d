package webhook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ibam-learn/enrollgw/internal/catalog"
	"github.com/ibam-learn/enrollgw/internal/eventlog"
	"github.com/ibam-learn/enrollgw/internal/provision"
)

// AccountProvisioner is the enrollment collaborator.
type AccountProvisioner interface {
	Provision(ctx context.Context, req provision.Request) (*provision.Result, error)
	Cancel(ctx context.Context, email string) error
}

// EventRecorder appends audit records; it must never fail the request.
type EventRecorder interface {
	Record(ctx context.Context, ev eventlog.Event) eventlog.Event
}

// OutcomeKind is the terminal state of one webhook delivery.
type OutcomeKind int

const (
	// OutcomeProcessed covers everything past the security boundary,
	// including parse and provisioning failures: all of these answer 200
	// so the sender does not retry-storm on business-logic errors.
	OutcomeProcessed OutcomeKind = iota
	OutcomeRateLimited
	OutcomeMissingSecret
	OutcomeBadSignature
)

// Outcome is the result of running the pipeline on one delivery. HTTP status
// mapping lives in the server layer, keeping the 200-except-security-faults
// policy testable without HTTP.
type Outcome struct {
	Kind     OutcomeKind
	Response WebhookResponse
	Event    *eventlog.Event // the audit record, when one was produced
}

// Request carries everything the pipeline needs from the HTTP layer.
type Request struct {
	Body      []byte
	Signature string // raw signature header value, "" if absent
	EventType string // x-webhook-event header, may be empty
	ClientKey string
}

// Pipeline runs the enrollment decision sequence:
// rate limit -> secret check -> signature -> parse -> resolve -> provision.
type Pipeline struct {
	secret      string
	limiter     RateLimitStore
	catalog     *catalog.Catalog
	provisioner AccountProvisioner
	recorder    EventRecorder
	logger      *slog.Logger
	staging     bool
}

// NewPipeline wires the pipeline. staging enables staging-only course
// definitions.
func NewPipeline(secret string, limiter RateLimitStore, cat *catalog.Catalog, prov AccountProvisioner, rec EventRecorder, logger *slog.Logger, staging bool) *Pipeline {
	return &Pipeline{
		secret:      secret,
		limiter:     limiter,
		catalog:     cat,
		provisioner: prov,
		recorder:    rec,
		logger:      logger,
		staging:     staging,
	}
}

// Process runs one delivery to a terminal state. Rate-limit and signature
// rejections short-circuit before business logging; everything after a
// successful parse is logged, exactly one event per delivery.
func (p *Pipeline) Process(ctx context.Context, req Request) Outcome {
	if !p.limiter.Allow(req.ClientKey) {
		p.logger.Warn("webhook rate limited", "client", req.ClientKey)
		return Outcome{Kind: OutcomeRateLimited}
	}

	if p.secret == "" {
		p.logger.Error("webhook secret is not configured")
		return Outcome{Kind: OutcomeMissingSecret}
	}

	if !verifySignature(req.Body, req.Signature, p.secret) {
		p.logger.Warn("webhook signature verification failed", "client", req.ClientKey)
		return Outcome{Kind: OutcomeBadSignature}
	}

	payload, err := decodePayload(req.Body)
	if err != nil {
		ev := p.recorder.Record(ctx, eventlog.Event{
			EventType:  EventError,
			Error:      err.Error(),
			RawPayload: req.Body,
		})
		return Outcome{
			Kind: OutcomeProcessed,
			Response: WebhookResponse{
				Success:   false,
				Processed: false,
				Message:   "webhook received but payload could not be parsed",
				Error:     "invalid JSON payload",
			},
			Event: &ev,
		}
	}

	eventType := normalizeEventType(req.EventType)
	if eventType == "" {
		eventType = normalizeEventType(payload.EventType)
	}

	ev := eventlog.Event{
		EventType:    eventType,
		ContactEmail: payload.Contact.Email,
		ContactName:  payload.Contact.FullName(),
		Tag:          payload.Tag.Name,
		Tags:         payload.Contact.TagNames(),
		RawPayload:   req.Body,
	}

	resp := p.dispatch(ctx, eventType, payload, &ev)
	recorded := p.recorder.Record(ctx, ev)

	return Outcome{Kind: OutcomeProcessed, Response: resp, Event: &recorded}
}

func (p *Pipeline) dispatch(ctx context.Context, eventType string, payload *Payload, ev *eventlog.Event) WebhookResponse {
	switch eventType {
	case EventTagAdded:
		return p.handleTagAdded(ctx, payload, ev)
	case EventTagRemoved:
		return p.handleTagRemoved(ctx, payload, ev)
	default:
		// Informational only; no provisioning.
		return WebhookResponse{
			Success:   true,
			Processed: true,
			Message:   fmt.Sprintf("event %q received", eventType),
		}
	}
}

func (p *Pipeline) handleTagAdded(ctx context.Context, payload *Payload, ev *eventlog.Event) WebhookResponse {
	assignment := p.resolve(payload.Tag.Name)
	if !assignment.Matched() {
		return WebhookResponse{
			Success:   true,
			Processed: true,
			Message:   fmt.Sprintf("tag %q not recognized, no enrollment", payload.Tag.Name),
		}
	}

	if assignment.Tier != nil {
		ev.MatchedMembership = assignment.Tier.Name
	}
	if assignment.Course != nil {
		ev.MatchedCourse = assignment.Course.CourseName
	}

	if payload.Contact.Email == "" {
		ev.Error = "contact email missing"
		return WebhookResponse{
			Success:   false,
			Processed: true,
			Message:   "tag recognized but contact email is missing",
		}
	}

	res, err := p.provisioner.Provision(ctx, provision.Request{
		Email:      payload.Contact.Email,
		FirstName:  payload.Contact.FirstName(),
		LastName:   payload.Contact.LastName(),
		Assignment: assignment,
	})
	if err != nil {
		ev.Error = err.Error()
		p.logger.Error("provisioning failed",
			"email", payload.Contact.Email,
			"tag", payload.Tag.Name,
			"error", err,
		)
		return WebhookResponse{
			Success:        false,
			Processed:      true,
			CourseAssigned: false,
			Message:        "enrollment could not be completed; awaiting re-delivery",
		}
	}

	ev.AccountCreated = res.Created
	p.logger.Info("contact enrolled",
		"email", payload.Contact.Email,
		"tier", res.Tier.Key,
		"created", res.Created,
	)

	return WebhookResponse{
		Success:        true,
		Processed:      true,
		CourseAssigned: true,
		Message:        fmt.Sprintf("enrolled with %s access", res.Tier.Name),
	}
}

func (p *Pipeline) handleTagRemoved(ctx context.Context, payload *Payload, ev *eventlog.Event) WebhookResponse {
	assignment := p.resolve(payload.Tag.Name)
	if assignment.Tier == nil {
		// Legacy courses have no cancellation semantics.
		return WebhookResponse{
			Success:   true,
			Processed: true,
			Message:   fmt.Sprintf("tag %q removed, no membership cancellation", payload.Tag.Name),
		}
	}

	ev.MatchedMembership = assignment.Tier.Name

	if payload.Contact.Email == "" {
		ev.Error = "contact email missing"
		return WebhookResponse{
			Success:   false,
			Processed: true,
			Message:   "membership tag removed but contact email is missing",
		}
	}

	if err := p.provisioner.Cancel(ctx, payload.Contact.Email); err != nil {
		ev.Error = err.Error()
		p.logger.Error("cancellation failed",
			"email", payload.Contact.Email,
			"error", err,
		)
		return WebhookResponse{
			Success:   false,
			Processed: true,
			Message:   "cancellation could not be completed; awaiting re-delivery",
		}
	}

	p.logger.Info("membership cancelled",
		"email", payload.Contact.Email,
		"tier", assignment.Tier.Key,
	)

	return WebhookResponse{
		Success:   true,
		Processed: true,
		Message:   fmt.Sprintf("%s membership cancelled", assignment.Tier.Name),
	}
}

// resolve wraps catalog resolution, hiding staging-only courses outside
// staging deployments.
func (p *Pipeline) resolve(tag string) catalog.Assignment {
	a := p.catalog.Resolve(tag)
	if a.Course != nil && a.Course.StagingOnly && !p.staging {
		return catalog.Assignment{}
	}
	return a
}
