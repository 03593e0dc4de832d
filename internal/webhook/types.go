package webhook

import "github.com/ibam-learn/enrollgw/internal/eventlog"

// Config holds webhook server configuration.
type Config struct {
	Listen          string
	Secret          string
	MaxBodySize     int64
	RateWindowSecs  int
	RateMaxRequests int
	Staging         bool
}

// WebhookResponse is the JSON body for deliveries that reached processing.
type WebhookResponse struct {
	Success        bool   `json:"success"`
	Processed      bool   `json:"processed"`
	CourseAssigned bool   `json:"courseAssigned"`
	Message        string `json:"message"`
	Error          string `json:"error,omitempty"`
}

// StatusResponse is the diagnostic snapshot for GET requests.
type StatusResponse struct {
	Status         string           `json:"status"`
	TotalProcessed int              `json:"total_processed"`
	RecentEvents   []eventlog.Event `json:"recent_events"`
	MembershipTags []string         `json:"membership_tags"`
	CourseTags     []string         `json:"course_tags"`
}

// HealthzResponse is the liveness snapshot.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	EventsLogged  int    `json:"events_logged"`
}

// ErrorResponse is the JSON response for webhook errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Default values
const DefaultMaxBodySize = 1048576 // 1 MB

// Signature headers, first present wins.
var signatureHeaders = []string{"X-Webhook-Signature", "X-Signature", "X-Hub-Signature-256"}

// eventTypeHeader carries the sender's event name.
const eventTypeHeader = "X-Webhook-Event"
