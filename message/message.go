// Package message defines the canonical, provider-agnostic conversation
// types shared by every component in agentrun: transport, stream
// normalizers, provider adapters, behaviours, and the runner all exchange
// messages in this shape, converting to and from a specific wire format at
// the provider boundary only.
package message

// Role identifies the speaker of a Message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of a conversation. Content is a sequence of Parts so
// a single turn can mix text, images, tool calls, and tool results the way
// real provider wire formats do.
type Message struct {
	Role  Role
	Parts []Part
}

// Text returns the concatenation of every TextPart in the message, which is
// the common case callers want when they don't care about multimodal
// content.
func (m Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if tp, ok := p.(TextPart); ok {
			out += tp.Text
		}
	}
	return out
}

// ToolCalls returns every ToolCallPart in the message, in order.
func (m Message) ToolCalls() []ToolCallPart {
	var out []ToolCallPart
	for _, p := range m.Parts {
		if tc, ok := p.(ToolCallPart); ok {
			out = append(out, tc)
		}
	}
	return out
}

// Part is one piece of a Message's content. The set of implementations is
// closed: TextPart, ImagePart, AudioPart, ToolCallPart, ToolResultPart, and
// ThinkingPart. The unexported marker method keeps external packages from
// adding new Part kinds that adapters wouldn't know how to render.
type Part interface {
	isPart()
}

// TextPart is plain text content.
type TextPart struct {
	Text string
}

func (TextPart) isPart() {}

// ImageSource identifies how ImagePart's bytes are delivered.
type ImageSource string

const (
	ImageSourceURL    ImageSource = "url"
	ImageSourceBase64 ImageSource = "base64"
)

// ImagePart is image content, either a remote URL or inline base64 data.
type ImagePart struct {
	Source   ImageSource
	URL      string
	Data     string
	MIMEType string
}

func (ImagePart) isPart() {}

// AudioPart is inline audio content.
type AudioPart struct {
	Data     string
	MIMEType string
}

func (AudioPart) isPart() {}

// ToolCallPart is a request, made by the assistant, to invoke a tool.
type ToolCallPart struct {
	ID        string
	Name      string
	Arguments string // raw JSON object, possibly incomplete until finalized
}

func (ToolCallPart) isPart() {}

// ToolResultPart carries the result of a tool call back to the model.
type ToolResultPart struct {
	ToolCallID string
	Content    string
	IsError    bool
}

func (ToolResultPart) isPart() {}

// ThinkingPart carries provider-reasoning/thinking content that is not
// meant to be shown to the end user but is preserved for context continuity
// (Anthropic extended thinking, OpenAI reasoning summaries).
type ThinkingPart struct {
	Text      string
	Signature string
}

func (ThinkingPart) isPart() {}

// System returns a system message with a single TextPart.
func System(text string) Message {
	return Message{Role: RoleSystem, Parts: []Part{TextPart{Text: text}}}
}

// User returns a user message with a single TextPart.
func User(text string) Message {
	return Message{Role: RoleUser, Parts: []Part{TextPart{Text: text}}}
}

// Assistant returns an assistant message with a single TextPart.
func Assistant(text string) Message {
	return Message{Role: RoleAssistant, Parts: []Part{TextPart{Text: text}}}
}

// ToolResult returns a tool-role message reporting the outcome of a call.
func ToolResult(toolCallID, content string, isError bool) Message {
	return Message{
		Role: RoleTool,
		Parts: []Part{ToolResultPart{
			ToolCallID: toolCallID,
			Content:    content,
			IsError:    isError,
		}},
	}
}
