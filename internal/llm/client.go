// ABOUTME: Provider-neutral chat client interface and request/response types
// ABOUTME: Everything the manager needs from a generative backend

// Package llm defines the generative provider abstraction for adventure-gateway.
package llm

import (
	"context"
)

// Role represents a message sender role.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a single message in a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest contains parameters for a narrative generation call.
type ChatRequest struct {
	Model     string    `json:"model"`
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens"`
}

// ChatResponse contains the provider's reply.
type ChatResponse struct {
	Content string `json:"content"`
}

// Client is an opaque, possibly slow, possibly failing generative provider.
// The caller owns timeouts via ctx; no retry policy is assumed here.
type Client interface {
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}
