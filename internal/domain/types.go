package domain

import "time"

// Modality identifies which class of provider handles a request.
type Modality string

const (
	ModalityChat  Modality = "chat"
	ModalityImage Modality = "image"
	ModalityVideo Modality = "video"
	ModalityVoice Modality = "voice"
)

// Operation is the kind of completed work a usage record accounts for.
// It mirrors Modality one-to-one; the distinction exists because records
// outlive the request that produced them.
type Operation string

const (
	OperationChat  Operation = "chat"
	OperationImage Operation = "image"
	OperationVideo Operation = "video"
	OperationVoice Operation = "voice"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is one turn in a conversation. Immutable once constructed.
type Message struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	Name       string         `json:"name,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall     `json:"tool_calls,omitempty"`
}

// ToolCall is a model's request to invoke a tool. Only adapters produce
// these; the gateway never fabricates one.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Usage holds token counts for one operation. TotalTokens is always
// InputTokens + OutputTokens; construct through NewUsage to keep that true.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

func NewUsage(inputTokens, outputTokens int) Usage {
	return Usage{
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		TotalTokens:  inputTokens + outputTokens,
	}
}

// ChatOptions carries everything about a chat request besides the messages.
// Provider and Model are optional; the gateway resolves them against its
// configured defaults.
type ChatOptions struct {
	Provider    string
	Model       string
	Temperature *float64
	MaxTokens   *int
	WorkspaceID string
	ProjectID   string
	AgentID     string
	Metadata    map[string]any
}

// ChatResponse is the canonical unary completion result.
type ChatResponse struct {
	RequestID    string     `json:"request_id"`
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	Usage        Usage      `json:"usage"`
	Model        string     `json:"model"`
	Provider     string     `json:"provider"`
	FinishReason string     `json:"finish_reason,omitempty"`
	ProviderCost float64    `json:"provider_cost"`
	BilledAmount float64    `json:"billed_amount"`
}

// StreamTokenType tags the variants of StreamToken.
type StreamTokenType string

const (
	StreamTokenText     StreamTokenType = "token"
	StreamTokenToolCall StreamTokenType = "tool_call"
	StreamTokenDone     StreamTokenType = "done"
	StreamTokenError    StreamTokenType = "error"
)

// StreamToken is one event on a streaming completion. Exactly one terminal
// token (done or error) ends every stream; nothing follows it.
type StreamToken struct {
	Type         StreamTokenType `json:"type"`
	Content      string          `json:"content,omitempty"`
	ToolCall     *ToolCall       `json:"tool_call,omitempty"`
	Usage        *Usage          `json:"usage,omitempty"`
	FinishReason string          `json:"finish_reason,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// Terminal reports whether no further tokens may follow this one.
func (t StreamToken) Terminal() bool {
	return t.Type == StreamTokenDone || t.Type == StreamTokenError
}

// UsageRecord is the billing-relevant fact of one completed operation.
// The gateway constructs it exactly once per logical request and hands it
// to the configured sink; it never persists records itself.
type UsageRecord struct {
	ID           string         `json:"id"`
	Provider     string         `json:"provider"`
	Model        string         `json:"model"`
	Operation    Operation      `json:"operation"`
	InputUnits   int            `json:"input_units"`
	OutputUnits  int            `json:"output_units"`
	ProviderCost float64        `json:"provider_cost"`
	BilledAmount float64        `json:"billed_amount"`
	WorkspaceID  string         `json:"workspace_id,omitempty"`
	ProjectID    string         `json:"project_id,omitempty"`
	AgentID      string         `json:"agent_id,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// JobState tracks submit-then-poll operations (image and video generation).
type JobState string

const (
	JobPending   JobState = "pending"
	JobRunning   JobState = "running"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// Job is the handle returned when an asynchronous generation is accepted.
// EstimatedCost is provisional; the billed amount is only final once the
// job completes and real units are known.
type Job struct {
	ID            string    `json:"id"`
	Provider      string    `json:"provider"`
	Model         string    `json:"model"`
	Operation     Operation `json:"operation"`
	EstimatedCost float64   `json:"estimated_cost"`
}

// JobStatus is the result of polling an asynchronous job.
type JobStatus struct {
	ID     string   `json:"id"`
	State  JobState `json:"state"`
	Output []string `json:"output,omitempty"`
	Units  int      `json:"units,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// ImageOptions configures an image generation job.
type ImageOptions struct {
	Provider    string
	Model       string
	Size        string
	Count       int
	WorkspaceID string
	ProjectID   string
	AgentID     string
	Metadata    map[string]any
}

// VideoOptions configures a video generation job. Duration is in seconds.
type VideoOptions struct {
	Provider        string
	Model           string
	DurationSeconds int
	WorkspaceID     string
	ProjectID       string
	AgentID         string
	Metadata        map[string]any
}

// SpeechOptions configures a voice synthesis request.
type SpeechOptions struct {
	Provider    string
	Model       string
	Voice       string
	WorkspaceID string
	ProjectID   string
	AgentID     string
	Metadata    map[string]any
}

// SpeechResponse is the canonical voice synthesis result. Audio is the raw
// encoded payload; Characters is the billable unit count.
type SpeechResponse struct {
	RequestID    string  `json:"request_id"`
	Audio        []byte  `json:"-"`
	ContentType  string  `json:"content_type"`
	Characters   int     `json:"characters"`
	Model        string  `json:"model"`
	Provider     string  `json:"provider"`
	ProviderCost float64 `json:"provider_cost"`
	BilledAmount float64 `json:"billed_amount"`
}
