package watch

import (
	"encoding/json"
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ibam-learn/enrollgw/internal/eventlog"
)

// --- Message types ---

type statusMsg struct {
	Status         string           `json:"status"`
	TotalProcessed int              `json:"total_processed"`
	RecentEvents   []eventlog.Event `json:"recent_events"`
	MembershipTags []string         `json:"membership_tags"`
	CourseTags     []string         `json:"course_tags"`
}

type healthMsg struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	EventsLogged  int    `json:"events_logged"`
}

type tickMsg time.Time

type errMsg error

// --- Commands ---

// fetchStatus polls the gateway status endpoint for the recent decision tail.
func fetchStatus(baseURL string) tea.Msg {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(baseURL + "/webhooks/systemio?limit=25")
	if err != nil {
		return errMsg(err)
	}
	defer resp.Body.Close()

	var s statusMsg
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return errMsg(err)
	}
	return s
}

// fetchHealth queries the /healthz endpoint.
func fetchHealth(baseURL string) tea.Msg {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(baseURL + "/healthz")
	if err != nil {
		return errMsg(err)
	}
	defer resp.Body.Close()

	var h healthMsg
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return errMsg(err)
	}
	return h
}
