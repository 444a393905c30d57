// Package prompt assembles the final instruction payload sent upstream:
// persona, compliance rules, retrieved context and conversation history.
package prompt

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/scottwelch968/Spork-V2-sub003/internal/model"
)

// ContextSource retrieves supplemental context for a prompt (knowledge
// base snippets, tenant documents). Optional; nil disables retrieval.
type ContextSource interface {
	Retrieve(ctx context.Context, query string, limit int) ([]string, error)
}

// Enhancer builds enriched message payloads for dispatch.
type Enhancer struct {
	// DefaultPersona is used when the payload names no persona.
	DefaultPersona string
	// ComplianceRules are appended to every system prompt verbatim.
	ComplianceRules []string
	// MaxHistory bounds how many prior turns are carried upstream.
	MaxHistory int

	Source ContextSource
}

// Enhance assembles the full message sequence for a payload. Retrieval
// failures degrade to no extra context; they never fail the request.
func (e *Enhancer) Enhance(ctx context.Context, payload model.ChatPayload) []model.Message {
	var system strings.Builder

	persona := payload.PersonaID
	if persona == "" {
		persona = e.DefaultPersona
	}
	if persona != "" {
		fmt.Fprintf(&system, "You are %s.\n", persona)
	}

	for _, rule := range e.ComplianceRules {
		system.WriteString(rule)
		system.WriteString("\n")
	}

	if e.Source != nil {
		snippets, err := e.Source.Retrieve(ctx, payload.Content, 3)
		if err != nil {
			log.Printf("warn: prompt: context retrieval failed: %v", err)
		}
		if len(snippets) > 0 {
			system.WriteString("Relevant context:\n")
			for _, s := range snippets {
				fmt.Fprintf(&system, "- %s\n", s)
			}
		}
	}

	var messages []model.Message
	if system.Len() > 0 {
		messages = append(messages, model.Message{Role: "system", Content: strings.TrimRight(system.String(), "\n")})
	}

	history := payload.History
	if e.MaxHistory > 0 && len(history) > e.MaxHistory {
		history = history[len(history)-e.MaxHistory:]
	}
	messages = append(messages, history...)

	messages = append(messages, model.Message{Role: "user", Content: payload.Content})
	return messages
}

// Flatten renders messages to a single text prompt for providers invoked
// in single-shot (batch) mode.
func Flatten(messages []model.Message) string {
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%s] %s", m.Role, m.Content)
	}
	return b.String()
}
