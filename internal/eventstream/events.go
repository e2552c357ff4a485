package eventstream

// Kind tags the normalized event variants the demuxer produces.
type Kind int

const (
	KindTextDelta Kind = iota
	KindToolCallStart
	KindToolCallDelta
	KindToolCallEnd
	KindUsage
	KindStop
	KindError
)

// Usage carries per-stream token counters. Estimated marks counts the
// gateway computed itself because the upstream never reported any.
type Usage struct {
	PromptTokens     int  `json:"prompt_tokens"`
	CompletionTokens int  `json:"completion_tokens"`
	CacheWriteTokens int  `json:"cache_write_tokens"`
	CacheHitTokens   int  `json:"cache_hit_tokens"`
	Estimated        bool `json:"-"`
}

// Add folds another usage frame into the accumulator.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.CacheWriteTokens += other.CacheWriteTokens
	u.CacheHitTokens += other.CacheHitTokens
}

// Event is one normalized stream event.
type Event struct {
	Kind Kind

	// KindTextDelta
	Text string

	// Tool-call variants. Arguments holds one raw JSON fragment for
	// KindToolCallDelta.
	ToolCallID string
	ToolName   string
	Arguments  string

	// KindUsage
	Usage Usage

	// KindStop. FinishReason uses the OpenAI vocabulary ("stop",
	// "tool_calls", "length").
	FinishReason string

	// KindError
	Err error
}
