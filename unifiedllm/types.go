package unifiedllm

// Role identifies the author of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one plain-text entry in a conversation.
type Message struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

func SystemMessage(text string) Message    { return Message{Role: RoleSystem, Text: text} }
func UserMessage(text string) Message      { return Message{Role: RoleUser, Text: text} }
func AssistantMessage(text string) Message { return Message{Role: RoleAssistant, Text: text} }

// Request is a single completion call.
type Request struct {
	Model         string    `json:"model"`
	Messages      []Message `json:"messages"`
	Provider      string    `json:"provider,omitempty"`
	Temperature   *float64  `json:"temperature,omitempty"`
	MaxTokens     *int      `json:"max_tokens,omitempty"`
	StopSequences []string  `json:"stop_sequences,omitempty"`
}

// FinishReason says why generation stopped: "stop", "length", or "error".
// Raw keeps the backend's own wording.
type FinishReason struct {
	Reason string `json:"reason"`
	Raw    string `json:"raw,omitempty"`
}

// Usage counts tokens. Backends that do not report usage leave estimates.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

func (u Usage) Add(o Usage) Usage {
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
	u.TotalTokens += o.TotalTokens
	return u
}

// Response is the result of a completion call.
type Response struct {
	ID           string       `json:"id"`
	Model        string       `json:"model"`
	Provider     string       `json:"provider"`
	Message      Message      `json:"message"`
	FinishReason FinishReason `json:"finish_reason"`
	Usage        Usage        `json:"usage"`
}

// Text returns the reply text.
func (r Response) Text() string { return r.Message.Text }

func Float64(v float64) *float64 { return &v }
func Int(v int) *int             { return &v }
