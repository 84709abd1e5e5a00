package dto

import (
	"fmt"
	"strings"
	"time"
)

// IngestEpisodeRequest submits one episode for asynchronous processing.
// Supplying an id makes the call idempotent.
type IngestEpisodeRequest struct {
	ID                string     `json:"id,omitempty"`
	Name              string     `json:"name" binding:"required"`
	Body              string     `json:"body" binding:"required"`
	Kind              string     `json:"kind,omitempty"`
	SourceDescription string     `json:"source_description,omitempty"`
	SourceURL         string     `json:"source_url,omitempty"`
	GroupID           string     `json:"group_id,omitempty"`
	ReferenceTime     *time.Time `json:"reference_time,omitempty"`
}

// Validate checks field presence and limits.
func (r *IngestEpisodeRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return ErrEmptyName
	}
	if len(r.Name) > MaxNameLength {
		return ErrNameTooLong
	}
	if strings.TrimSpace(r.Body) == "" {
		return ErrEmptyBody
	}
	if len(r.Body) > MaxBodyLength {
		return ErrBodyTooLong
	}
	if len(r.GroupID) > MaxGroupIDLength {
		return ErrGroupIDTooLong
	}
	return nil
}

// Message is one turn of a conversation submission.
type Message struct {
	Role    string `json:"role" binding:"required"`
	Content string `json:"content" binding:"required"`
	Name    string `json:"name,omitempty"`
}

// Validate checks one message.
func (m *Message) Validate() error {
	if strings.TrimSpace(m.Content) == "" {
		return ErrEmptyBody
	}
	if len(m.Content) > MaxBodyLength {
		return ErrBodyTooLong
	}
	return nil
}

// AddMessagesRequest submits a conversation as a single episode; the turns
// are rendered role-tagged into the episode body.
type AddMessagesRequest struct {
	GroupID       string     `json:"group_id,omitempty"`
	Name          string     `json:"name" binding:"required"`
	Messages      []Message  `json:"messages" binding:"required,dive"`
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}

// Validate checks field presence and limits.
func (r *AddMessagesRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return ErrEmptyName
	}
	if len(r.GroupID) > MaxGroupIDLength {
		return ErrGroupIDTooLong
	}
	if len(r.Messages) == 0 {
		return ErrEmptyMessages
	}
	if len(r.Messages) > MaxMessagesCount {
		return ErrTooManyMessages
	}
	for i, m := range r.Messages {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("message %d: %w", i, err)
		}
	}
	return nil
}

// RenderBody flattens the conversation into role-tagged lines.
func (r *AddMessagesRequest) RenderBody() string {
	var b strings.Builder
	for _, m := range r.Messages {
		role := m.Role
		if m.Name != "" {
			role = fmt.Sprintf("%s (%s)", m.Role, m.Name)
		}
		fmt.Fprintf(&b, "%s: %s\n", role, m.Content)
	}
	return b.String()
}
