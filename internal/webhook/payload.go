package webhook

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Canonical event types after normalization.
const (
	EventTagAdded   = "CONTACT_TAG_ADDED"
	EventTagRemoved = "CONTACT_TAG_REMOVED"
	EventError      = "ERROR"
)

// Payload is the validated shape of a System.io webhook body. Decoding is a
// single fail-fast step; business logic never sees raw JSON.
type Payload struct {
	EventType string  `json:"event_type"`
	Contact   Contact `json:"contact"`
	Tag       TagRef  `json:"tag"`
}

// Contact is the marketing-tool contact record embedded in the payload.
type Contact struct {
	Email  string   `json:"email"`
	Fields []Field  `json:"fields"`
	Tags   []TagRef `json:"tags"`
}

// Field is a slug/value pair on the contact record.
type Field struct {
	Slug  string `json:"slug"`
	Value string `json:"value"`
}

// TagRef names a tag attached to the contact or carried by the event.
type TagRef struct {
	Name string `json:"name"`
}

// decodePayload parses and validates the raw body. Any malformed input is a
// ParseFault for the caller to log.
func decodePayload(raw []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode webhook payload: %w", err)
	}
	return &p, nil
}

// Field returns the value of a contact field by slug, or "".
func (c Contact) Field(slug string) string {
	for _, f := range c.Fields {
		if f.Slug == slug {
			return f.Value
		}
	}
	return ""
}

// FirstName returns the contact's first name field.
func (c Contact) FirstName() string { return c.Field("first_name") }

// LastName returns the contact's last name field.
func (c Contact) LastName() string { return c.Field("surname") }

// FullName joins the name fields for display.
func (c Contact) FullName() string {
	return strings.TrimSpace(c.FirstName() + " " + c.LastName())
}

// TagNames lists the names of all tags on the contact.
func (c Contact) TagNames() []string {
	names := make([]string, 0, len(c.Tags))
	for _, t := range c.Tags {
		if t.Name != "" {
			names = append(names, t.Name)
		}
	}
	return names
}

// normalizeEventType maps the sender's event spellings onto the canonical
// form: "contact.tag_added" and "CONTACT_TAG_ADDED" normalize identically.
func normalizeEventType(s string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), ".", "_"))
}
