package model

import (
	"encoding/json"
	"time"
)

// Message represents one message within a conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Role           string    `json:"role"` // "user" | "assistant" | "system"
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Conversation is the durable, user-facing shadow of a Job. It is created
// once the first submission yields a job id, updated on every status
// transition, and deleted only by explicit user action.
type Conversation struct {
	ID                 string          `json:"id"` // equals the pipeline job id
	Title              string          `json:"title"`
	Status             JobStatus       `json:"status"`
	CurrentPhase       string          `json:"currentPhase,omitempty"`
	CompletedPhases    []string        `json:"completedPhases,omitempty"`
	PhaseProgress      int             `json:"phaseProgress,omitempty"`
	LastMessagePreview string          `json:"lastMessagePreview,omitempty"`
	Payload            json.RawMessage `json:"payload,omitempty"`
	Clarification      *Clarification  `json:"clarification,omitempty"`
	Archived           bool            `json:"archived"`
	Pinned             bool            `json:"pinned"`
	Messages           []Message       `json:"messages,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
	UpdatedAt          time.Time       `json:"updatedAt"`
}

func NewConversation(id, title string) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:        id,
		Title:     title,
		Status:    JobStatusProcessing,
		Messages:  make([]Message, 0, 4),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

const previewLimit = 120

// AddMessage appends a message and refreshes the preview.
func (c *Conversation) AddMessage(m Message) {
	m.ConversationID = c.ID
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	c.Messages = append(c.Messages, m)
	c.LastMessagePreview = Preview(m.Content)
	c.UpdatedAt = time.Now()
}

// ApplyJob folds the latest accepted job snapshot into the record.
func (c *Conversation) ApplyJob(j *Job) {
	c.Status = j.Status
	c.CurrentPhase = j.CurrentPhase
	c.PhaseProgress = j.PhaseProgress
	if len(j.CompletedPhases) > 0 {
		c.CompletedPhases = j.CompletedPhases
	}
	if j.Payload != nil {
		c.Payload = j.Payload
	}
	c.Clarification = j.Clarification
	c.UpdatedAt = time.Now()
}

// Preview truncates s to the stored preview length.
func Preview(s string) string {
	if len(s) <= previewLimit {
		return s
	}
	return s[:previewLimit]
}
