package gen

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
	RoleTool  Role = "tool"
)

var (
	_ Payload = (Contents)(nil)
	_ Payload = (*ToolCall)(nil)
	_ Payload = (*ToolResult)(nil)

	_ Part = (Text)("")
	_ Part = (*ImageRef)(nil)
)

// Role identifies who produced a message.
type Role string

func (r Role) String() string { return string(r) }

// Message is one element of a generation context.
type Message struct {
	Role    Role
	Name    string
	Payload Payload
}

// Payload is the content union of a Message: Contents, *ToolCall, or
// *ToolResult.
type Payload interface {
	isPayload()
}

// Contents is an ordered sequence of parts (text and image references).
type Contents []Part

func (Contents) isPayload() {}

// Part is one piece of a content message.
type Part interface {
	isPart()
}

// Text is a plain text part.
type Text string

func (Text) isPart() {}

// ImageRef is an image part referenced by URL or data URL. Detail is a
// provider hint ("high", "low", "auto").
type ImageRef struct {
	URL    string
	Detail string
}

func (*ImageRef) isPart() {}

// ToolCall is a completed model-initiated tool invocation.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

func (*ToolCall) isPayload() {}

// ToolResult is the recorded outcome of a tool call, fed back to the model.
type ToolResult struct {
	ID     string
	Result string
}

func (*ToolResult) isPayload() {}

// UserText builds a plain text user message.
func UserText(name, text string) *Message {
	return &Message{Role: RoleUser, Name: name, Payload: Contents{Text(text)}}
}

// ModelText builds a plain text model message.
func ModelText(name, text string) *Message {
	return &Message{Role: RoleModel, Name: name, Payload: Contents{Text(text)}}
}
