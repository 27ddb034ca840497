// Package provider abstracts the LLM collaborator: the chat service hands it
// a system prompt, the surviving conversation history and the new user
// message, and gets back one grounded answer. Retrieval quality and prompt
// content are the provider's business, not ours.
package provider

import "context"

// Exchange is one completed user/agent pair, oldest first in Request.History.
type Exchange struct {
	UserMessage   string
	AgentResponse string
}

// ToolCall mirrors chatstore.ToolCall for answers that ran tools.
type ToolCall struct {
	ToolName        string
	Arguments       string
	Result          string
	ExecutionTimeMs int64
}

type Request struct {
	SystemPrompt string
	// StoreName names the knowledge base the answer should be grounded in.
	// Opaque to this package; providers that do their own retrieval use it.
	StoreName string
	History   []Exchange
	Message   string
}

type Answer struct {
	Text      string
	ToolCalls []ToolCall
}

type Provider interface {
	Answer(ctx context.Context, req Request) (Answer, error)
}
