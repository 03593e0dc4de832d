package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/ibam-learn/enrollgw/internal/catalog"
	"github.com/ibam-learn/enrollgw/internal/eventlog"
	"github.com/ibam-learn/enrollgw/internal/provision"
)

// fakeProvisioner records calls without touching a database.
type fakeProvisioner struct {
	provisioned []provision.Request
	cancelled   []string
	provisionFn func(req provision.Request) (*provision.Result, error)
}

func (f *fakeProvisioner) Provision(ctx context.Context, req provision.Request) (*provision.Result, error) {
	f.provisioned = append(f.provisioned, req)
	if f.provisionFn != nil {
		return f.provisionFn(req)
	}
	tier := req.Assignment.Tier
	if tier == nil {
		tier = catalog.Default().TrialTier()
	}
	return &provision.Result{Created: true, Token: "tok", Tier: tier}, nil
}

func (f *fakeProvisioner) Cancel(ctx context.Context, email string) error {
	f.cancelled = append(f.cancelled, email)
	return nil
}

// memRecorder keeps events in memory only.
type memRecorder struct {
	events []eventlog.Event
}

func (m *memRecorder) Record(ctx context.Context, ev eventlog.Event) eventlog.Event {
	ev.ID = "test-event"
	m.events = append(m.events, ev)
	return ev
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 4}))
}

const testSecret = "test-secret"

func newTestPipeline(prov *fakeProvisioner, rec *memRecorder) *Pipeline {
	limiter := NewMemoryRateLimiter(DefaultRateWindow, DefaultRateMax)
	return NewPipeline(testSecret, limiter, catalog.Default(), prov, rec, quietLogger(), false)
}

func signedRequest(t *testing.T, payload any, eventType string) Request {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return Request{
		Body:      body,
		Signature: "sha256=" + computeSignature(body, testSecret),
		EventType: eventType,
		ClientKey: "1.2.3.4",
	}
}

func tagAddedPayload(email, tag string) map[string]any {
	return map[string]any{
		"contact": map[string]any{
			"email": email,
			"fields": []map[string]string{
				{"slug": "first_name", "value": "Jane"},
				{"slug": "surname", "value": "Doe"},
			},
			"tags": []map[string]string{{"name": tag}},
		},
		"tag": map[string]string{"name": tag},
	}
}

func TestPipelineRateLimitShortCircuits(t *testing.T) {
	prov := &fakeProvisioner{}
	rec := &memRecorder{}
	limiter := NewMemoryRateLimiter(DefaultRateWindow, 1)
	p := NewPipeline(testSecret, limiter, catalog.Default(), prov, rec, quietLogger(), false)

	req := signedRequest(t, tagAddedPayload("a@b.com", "IBAM Impact Members"), "CONTACT_TAG_ADDED")

	if out := p.Process(context.Background(), req); out.Kind != OutcomeProcessed {
		t.Fatalf("first call: %v", out.Kind)
	}
	out := p.Process(context.Background(), req)
	if out.Kind != OutcomeRateLimited {
		t.Fatalf("second call should be rate limited, got %v", out.Kind)
	}
	// Rate-limit rejections are not business events.
	if len(rec.events) != 1 {
		t.Errorf("expected 1 logged event, got %d", len(rec.events))
	}
}

func TestPipelineMissingSecretIsConfigFault(t *testing.T) {
	rec := &memRecorder{}
	p := NewPipeline("", NewMemoryRateLimiter(0, 0), catalog.Default(), &fakeProvisioner{}, rec, quietLogger(), false)

	out := p.Process(context.Background(), Request{Body: []byte(`{}`), ClientKey: "x"})
	if out.Kind != OutcomeMissingSecret {
		t.Fatalf("Kind = %v, want OutcomeMissingSecret", out.Kind)
	}
	if len(rec.events) != 0 {
		t.Error("configuration faults are not logged as business events")
	}
}

func TestPipelineBadSignatureNotLogged(t *testing.T) {
	prov := &fakeProvisioner{}
	rec := &memRecorder{}
	p := newTestPipeline(prov, rec)

	out := p.Process(context.Background(), Request{
		Body:      []byte(`{"contact":{"email":"a@b.com"}}`),
		Signature: "sha256=deadbeef",
		ClientKey: "1.2.3.4",
	})
	if out.Kind != OutcomeBadSignature {
		t.Fatalf("Kind = %v, want OutcomeBadSignature", out.Kind)
	}
	if len(rec.events) != 0 {
		t.Error("signature rejections must not produce events")
	}
	if len(prov.provisioned) != 0 {
		t.Error("no provisioning on rejected requests")
	}
}

func TestPipelineParseFailureLogsErrorEvent(t *testing.T) {
	prov := &fakeProvisioner{}
	rec := &memRecorder{}
	p := newTestPipeline(prov, rec)

	body := []byte(`{"contact": broken`)
	out := p.Process(context.Background(), Request{
		Body:      body,
		Signature: computeSignature(body, testSecret),
		ClientKey: "1.2.3.4",
	})

	if out.Kind != OutcomeProcessed {
		t.Fatalf("parse failures still answer 200, got %v", out.Kind)
	}
	if out.Response.Error == "" {
		t.Error("response must carry an error field")
	}
	if len(rec.events) != 1 {
		t.Fatalf("exactly one event expected, got %d", len(rec.events))
	}
	if rec.events[0].EventType != EventError {
		t.Errorf("event_type = %q, want %q", rec.events[0].EventType, EventError)
	}
}

func TestPipelineTagAddedProvisionsMembership(t *testing.T) {
	prov := &fakeProvisioner{}
	rec := &memRecorder{}
	p := newTestPipeline(prov, rec)

	out := p.Process(context.Background(),
		signedRequest(t, tagAddedPayload("a@b.com", "IBAM Impact Members"), "CONTACT_TAG_ADDED"))

	if !out.Response.Success || !out.Response.CourseAssigned {
		t.Errorf("response = %+v", out.Response)
	}
	if len(prov.provisioned) != 1 {
		t.Fatalf("provision calls = %d", len(prov.provisioned))
	}
	req := prov.provisioned[0]
	if req.Email != "a@b.com" || req.FirstName != "Jane" {
		t.Errorf("request = %+v", req)
	}
	if req.Assignment.Tier == nil || req.Assignment.Tier.Key != "ibam_member" {
		t.Errorf("assignment = %+v", req.Assignment)
	}

	ev := rec.events[0]
	if ev.MatchedMembership != "IBAM Impact Members" {
		t.Errorf("MatchedMembership = %q", ev.MatchedMembership)
	}
	if !ev.AccountCreated {
		t.Error("AccountCreated should reflect provisioning result")
	}
}

func TestPipelineUnknownTagLogsWithoutProvisioning(t *testing.T) {
	prov := &fakeProvisioner{}
	rec := &memRecorder{}
	p := newTestPipeline(prov, rec)

	out := p.Process(context.Background(),
		signedRequest(t, tagAddedPayload("a@b.com", "Mystery Tag"), "CONTACT_TAG_ADDED"))

	if !out.Response.Success {
		t.Error("unknown tags are a no-op, not a failure")
	}
	if out.Response.CourseAssigned {
		t.Error("nothing was assigned")
	}
	if len(prov.provisioned) != 0 {
		t.Error("no provisioning for unrecognized tags")
	}
	if len(rec.events) != 1 {
		t.Fatalf("the no-op decision is still logged")
	}
	if rec.events[0].MatchedMembership != "" || rec.events[0].MatchedCourse != "" {
		t.Error("no match fields should be set")
	}
}

func TestPipelineProvisionErrorStillAnswers200(t *testing.T) {
	prov := &fakeProvisioner{
		provisionFn: func(provision.Request) (*provision.Result, error) {
			return nil, &provision.Error{Stage: provision.StageProfileInsert, Err: errors.New("db down")}
		},
	}
	rec := &memRecorder{}
	p := newTestPipeline(prov, rec)

	out := p.Process(context.Background(),
		signedRequest(t, tagAddedPayload("a@b.com", "IBAM Impact Members"), "CONTACT_TAG_ADDED"))

	if out.Kind != OutcomeProcessed {
		t.Fatalf("provisioning failures answer 200, got %v", out.Kind)
	}
	if out.Response.Success {
		t.Error("response should report failure")
	}
	if rec.events[0].Error == "" {
		t.Error("event must carry the provisioning error")
	}
	if rec.events[0].AccountCreated {
		t.Error("no account was created")
	}
}

func TestPipelineTagRemovedCancelsMembership(t *testing.T) {
	prov := &fakeProvisioner{}
	rec := &memRecorder{}
	p := newTestPipeline(prov, rec)

	out := p.Process(context.Background(),
		signedRequest(t, tagAddedPayload("a@b.com", "IBAM Impact Members"), "contact.tag_removed"))

	if !out.Response.Success {
		t.Errorf("response = %+v", out.Response)
	}
	if len(prov.cancelled) != 1 || prov.cancelled[0] != "a@b.com" {
		t.Errorf("cancelled = %v", prov.cancelled)
	}
	if len(prov.provisioned) != 0 {
		t.Error("tag removal must not provision")
	}
	if rec.events[0].MatchedMembership != "IBAM Impact Members" {
		t.Errorf("MatchedMembership = %q", rec.events[0].MatchedMembership)
	}
}

func TestPipelineTagRemovedCourseHasNoCancellation(t *testing.T) {
	prov := &fakeProvisioner{}
	rec := &memRecorder{}
	p := newTestPipeline(prov, rec)

	out := p.Process(context.Background(),
		signedRequest(t, tagAddedPayload("a@b.com", "IBAM Course Access"), "CONTACT_TAG_REMOVED"))

	if !out.Response.Success {
		t.Errorf("response = %+v", out.Response)
	}
	if len(prov.cancelled) != 0 {
		t.Error("legacy courses have no cancellation semantics")
	}
}

func TestPipelineOtherEventTypesAreInformational(t *testing.T) {
	prov := &fakeProvisioner{}
	rec := &memRecorder{}
	p := newTestPipeline(prov, rec)

	out := p.Process(context.Background(),
		signedRequest(t, tagAddedPayload("a@b.com", "IBAM Impact Members"), "contact.opt_in"))

	if !out.Response.Success {
		t.Errorf("response = %+v", out.Response)
	}
	if len(prov.provisioned) != 0 || len(prov.cancelled) != 0 {
		t.Error("informational events must not touch accounts")
	}
	if len(rec.events) != 1 {
		t.Error("informational events are still logged")
	}
}

func TestPipelineStagingOnlyCourseHiddenInProduction(t *testing.T) {
	prov := &fakeProvisioner{}
	rec := &memRecorder{}
	p := newTestPipeline(prov, rec) // staging=false

	p.Process(context.Background(),
		signedRequest(t, tagAddedPayload("a@b.com", "Staging Test Course"), "CONTACT_TAG_ADDED"))
	if len(prov.provisioned) != 0 {
		t.Error("staging-only course must not match in production")
	}

	staging := NewPipeline(testSecret, NewMemoryRateLimiter(0, 0), catalog.Default(), prov, rec, quietLogger(), true)
	staging.Process(context.Background(),
		signedRequest(t, tagAddedPayload("a@b.com", "Staging Test Course"), "CONTACT_TAG_ADDED"))
	if len(prov.provisioned) != 1 {
		t.Error("staging-only course should match in staging")
	}
}

func TestPipelineEventTypeHeaderFallsBackToPayload(t *testing.T) {
	prov := &fakeProvisioner{}
	rec := &memRecorder{}
	p := newTestPipeline(prov, rec)

	payload := tagAddedPayload("a@b.com", "IBAM Impact Members")
	payload["event_type"] = "contact.tag_added"
	p.Process(context.Background(), signedRequest(t, payload, "")) // no header

	if len(prov.provisioned) != 1 {
		t.Fatal("payload event_type should drive dispatch when the header is absent")
	}
	if rec.events[0].EventType != EventTagAdded {
		t.Errorf("EventType = %q", rec.events[0].EventType)
	}
}

func TestPipelineMissingEmailLogsError(t *testing.T) {
	prov := &fakeProvisioner{}
	rec := &memRecorder{}
	p := newTestPipeline(prov, rec)

	out := p.Process(context.Background(),
		signedRequest(t, tagAddedPayload("", "IBAM Impact Members"), "CONTACT_TAG_ADDED"))

	if out.Response.Success {
		t.Error("missing email is a failure")
	}
	if len(prov.provisioned) != 0 {
		t.Error("cannot provision without an email")
	}
	if rec.events[0].Error == "" {
		t.Error("event should record the missing email")
	}
}
