package qianfan

import "encoding/json"

// Service constants.
const (
	ProviderName          = "qianfan"
	DefaultBaseURL        = "https://qianfan.baidubce.com/v2"
	DefaultChatModel      = "ernie-4.5-turbo-128k"
	DefaultTemperature    = 0.7
	DefaultEmbeddingModel = "embedding-v1"

	chatCompletionsPath = "/chat/completions"
	embeddingsPath      = "/embeddings"

	// FinishReasonStop ends a stream: no chunk after it is read.
	FinishReasonStop = "stop"
)

// EmbeddingDimensions lists the vector size of the known embedding models.
var EmbeddingDimensions = map[string]int{
	"embedding-v1":         384,
	"tao-8k":               1024,
	"bge-large-zh":         1024,
	"Qwen3-Embedding-0.6B": 1024,
}

// --- Chat completion wire types ---

// ChatCompletionRequest is the request body of POST /chat/completions.
// Every optional field is omitted when unset; stream is always sent.
type ChatCompletionRequest struct {
	Messages         []ChatCompletionMessage `json:"messages"`
	Model            string                  `json:"model,omitempty"`
	FrequencyPenalty *float64                `json:"frequency_penalty,omitempty"`
	MaxTokens        *int                    `json:"max_output_tokens,omitempty"`
	PresencePenalty  *float64                `json:"presence_penalty,omitempty"`
	ResponseFormat   *ResponseFormat         `json:"response_format,omitempty"`
	Stop             []string                `json:"stop,omitempty"`
	Stream           bool                    `json:"stream"`
	Temperature      *float64                `json:"temperature,omitempty"`
	TopP             *float64                `json:"top_p,omitempty"`
	Tools            []FunctionTool          `json:"tools,omitempty"`
	ToolChoice       string                  `json:"tool_choice,omitempty"`
}

// ChatCompletionMessage is one conversation entry on the wire.
// A nil Content is serialized as null.
type ChatCompletionMessage struct {
	Content *string `json:"content"`
	Role    string  `json:"role"`
}

// ResponseFormat selects the output format, e.g. "json_object".
type ResponseFormat struct {
	Type string `json:"type"`
}

// FunctionTool declares a callable function.
type FunctionTool struct {
	Type     string   `json:"type"`
	Function Function `json:"function"`
}

// Function is the function part of a FunctionTool. Parameters is the
// parsed JSON-schema document.
type Function struct {
	Description string         `json:"description"`
	Name        string         `json:"name"`
	Parameters  map[string]any `json:"parameters"`
}

// ChatCompletion is the synchronous response body.
type ChatCompletion struct {
	ID           string   `json:"id"`
	Object       string   `json:"object"`
	Created      int64    `json:"created"`
	Result       string   `json:"result,omitempty"`
	FinishReason string   `json:"finish_reason,omitempty"`
	Choices      []Choice `json:"choices"`
	Usage        *Usage   `json:"usage,omitempty"`
	ErrorCode    flexCode `json:"error_code,omitempty"`
	ErrorMsg     string   `json:"error_msg,omitempty"`
}

// Choice is one candidate in a ChatCompletion.
type Choice struct {
	Index        int     `json:"index"`
	FinishReason string  `json:"finish_reason"`
	Message      Message `json:"message"`
	Flag         int     `json:"flag"`
}

// Message is a response message or a streamed delta.
type Message struct {
	Content   string     `json:"content"`
	Role      string     `json:"role,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a function call requested by the model. Index identifies the
// call across streamed fragments.
type ToolCall struct {
	Index    *int         `json:"index,omitempty"`
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the function name and raw JSON arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Usage is token accounting as reported by the service.
type Usage struct {
	CompletionTokens int `json:"completion_tokens"`
	PromptTokens     int `json:"prompt_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionChunk is one streamed server-sent event payload.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Result  string        `json:"result,omitempty"`
	Choices []ChunkChoice `json:"choices"`
	Usage   *Usage        `json:"usage,omitempty"`
}

// ChunkChoice is one candidate delta in a chunk.
type ChunkChoice struct {
	Index        int     `json:"index"`
	Delta        Message `json:"delta"`
	FinishReason string  `json:"finish_reason"`
	Flag         int     `json:"flag"`
}

// IsStop reports whether any choice of the chunk finished with "stop".
func (c *ChatCompletionChunk) IsStop() bool {
	for _, ch := range c.Choices {
		if ch.FinishReason == FinishReasonStop {
			return true
		}
	}
	return false
}

// --- Embedding wire types ---

// EmbeddingRequest is the request body of POST /embeddings.
type EmbeddingRequest struct {
	Input  []string `json:"input"`
	Model  string   `json:"model"`
	UserID string   `json:"user_id,omitempty"`
}

// Embedding is one vector of an EmbeddingList.
type Embedding struct {
	Index     int       `json:"index"`
	Embedding []float32 `json:"embedding"`
	Object    string    `json:"object"`
}

// EmbeddingList is the embeddings response body.
type EmbeddingList struct {
	Object    string      `json:"object"`
	Data      []Embedding `json:"data"`
	Model     string      `json:"model"`
	ErrorCode flexCode    `json:"error_code,omitempty"`
	ErrorMsg  string      `json:"error_msg,omitempty"`
	Usage     *Usage      `json:"usage,omitempty"`
}

// flexCode accepts an error code sent either as a JSON string or number.
type flexCode string

func (c *flexCode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*c = flexCode(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*c = flexCode(n.String())
	return nil
}

// inBandFailure reports whether a 200 body carries a provider error. A code
// of "0" means success.
func inBandFailure(code flexCode, msg string) bool {
	return msg != "" || (code != "" && code != "0")
}
