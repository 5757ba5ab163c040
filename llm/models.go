package llm

// ChatMessage represents a single role-tagged turn in a conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatUsage captures token accounting returned by a provider.
type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResult carries the provider payload verbatim for passthrough plus
// the parsed assistant reply for server-side history threading.
type ChatResult struct {
	Raw     []byte
	Content string
	Usage   *ChatUsage
}
