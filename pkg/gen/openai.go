package gen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/packages/ssestream"
)

var _ Generator = (*OpenAIGenerator)(nil)

const (
	oaiFinishReasonStop          = "stop"
	oaiFinishReasonToolCalls     = "tool_calls"
	oaiFinishReasonFunctionCall  = "function_call"
	oaiFinishReasonLength        = "length"
	oaiFinishReasonContentFilter = "content_filter"
)

// OpenAIGenerator implements Generator using the OpenAI chat completions API.
// The client is created once at process start and shared by value across all
// turns.
type OpenAIGenerator struct {
	Client *openai.Client `json:"-" yaml:"-"`

	Model string `json:"model" yaml:"model"`

	GenerateParams *ModelParams `json:"generate_params,omitzero" yaml:"generate_params,omitempty"`
	InvokeParams   *ModelParams `json:"invoke_params,omitzero" yaml:"invoke_params,omitempty"`
}

func (g *OpenAIGenerator) GenerateStream(ctx context.Context, mctx *Context) (Stream, error) {
	params, err := g.chatCompletion(mctx, g.GenerateParams)
	if err != nil {
		return nil, err
	}
	sb := NewStreamBuilder(32)
	go func() {
		if err := oaiPull(sb, g.Client.Chat.Completions.NewStreaming(ctx, params)); err != nil {
			sb.Abort(err)
		}
	}()
	return sb.Stream(), nil
}

func (g *OpenAIGenerator) Invoke(ctx context.Context, mctx *Context, fn *FuncTool) (string, error) {
	params, err := g.chatCompletion(mctx, g.InvokeParams)
	if err != nil {
		return "", err
	}
	// json_schema response format conflicts with an advertised tool list.
	params.Tools = nil
	params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
			JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
				Name:        fn.Name,
				Description: param.NewOpt(fn.Description),
				Schema:      oaiConvSchemaForOutput(fn.Argument),
				Strict:      param.NewOpt(true),
			},
		},
	}
	resp, err := g.Client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices")
	}
	choice := resp.Choices[0]
	if choice.Message.Refusal != "" {
		return "", fmt.Errorf("blocked: %s", choice.Message.Refusal)
	}
	if choice.FinishReason != oaiFinishReasonStop {
		return "", fmt.Errorf("want stop, got unexpected finish reason: %s", choice.FinishReason)
	}
	if len(choice.Message.Content) == 0 {
		return "", errors.New("no content")
	}
	return choice.Message.Content, nil
}

// oaiPull relays streamed chunks into the builder. Tool-call deltas pass
// through as raw fragments; the consumer's accumulator reassembles them.
func oaiPull(sb *StreamBuilder, stream *ssestream.Stream[openai.ChatCompletionChunk]) error {
	defer stream.Close()

	var index int64
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		var sel *openai.ChatCompletionChunkChoice
		if index == 0 {
			index = chunk.Choices[0].Index
			sel = &chunk.Choices[0]
		} else {
			for _, c := range chunk.Choices {
				if c.Index == index {
					sel = &c
					break
				}
			}
			if sel == nil {
				continue
			}
		}
		if s := sel.Delta.Content; s != "" {
			if err := sb.Add(&Chunk{Text: s}); err != nil {
				return err
			}
		}
		for _, t := range sel.Delta.ToolCalls {
			frag := &Chunk{Tool: &ToolFragment{
				Index:     int(t.Index),
				ID:        t.ID,
				Name:      t.Function.Name,
				Arguments: t.Function.Arguments,
			}}
			if err := sb.Add(frag); err != nil {
				return err
			}
		}
		switch sel.FinishReason {
		case oaiFinishReasonStop, oaiFinishReasonToolCalls, oaiFinishReasonFunctionCall:
			return sb.Done()
		case oaiFinishReasonLength:
			return sb.Truncated()
		case oaiFinishReasonContentFilter:
			return sb.Blocked(sel.Delta.Refusal)
		}
		if s := sel.Delta.Refusal; s != "" {
			return sb.Blocked(s)
		}
	}
	if err := stream.Err(); err != nil {
		return err
	}
	return sb.Done()
}

func (g *OpenAIGenerator) chatCompletion(mctx *Context, mp *ModelParams) (openai.ChatCompletionNewParams, error) {
	msgs, err := oaiConvContext(mctx)
	if err != nil {
		return openai.ChatCompletionNewParams{}, err
	}
	params := openai.ChatCompletionNewParams{
		Messages: msgs,
		Model:    g.Model,
	}
	if mctx.Params != nil {
		mp = mctx.Params
	}
	if mp != nil {
		if mp.MaxTokens > 0 {
			params.MaxCompletionTokens = param.NewOpt(int64(mp.MaxTokens))
		}
		if mp.Temperature > 0 {
			params.Temperature = param.NewOpt(float64(mp.Temperature))
		}
		if mp.TopP > 0 {
			params.TopP = param.NewOpt(float64(mp.TopP))
		}
		if mp.FrequencyPenalty > 0 {
			params.FrequencyPenalty = param.NewOpt(float64(mp.FrequencyPenalty))
		}
		if mp.PresencePenalty > 0 {
			params.PresencePenalty = param.NewOpt(float64(mp.PresencePenalty))
		}
	}
	for _, tool := range mctx.Tools {
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        tool.Name,
				Description: param.NewOpt(tool.Description),
				Parameters:  oaiConvSchemaForFunc(tool.Argument),
			},
		})
	}
	return params, nil
}

func oaiConvContext(mctx *Context) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := []openai.ChatCompletionMessageParamUnion{}
	if mctx.System != "" {
		out = append(out, openai.SystemMessage(mctx.System))
	}
	for _, msg := range mctx.Messages {
		mp, err := oaiConvMessage(msg)
		if err != nil {
			return nil, err
		}
		out = append(out, mp)
	}
	return out, nil
}

func oaiConvMessage(msg *Message) (openai.ChatCompletionMessageParamUnion, error) {
	switch t := msg.Payload.(type) {
	default:
		return openai.ChatCompletionMessageParamUnion{}, fmt.Errorf(
			"unexpected message payload type: %T", t)
	case Contents:
		switch msg.Role {
		default:
			return openai.ChatCompletionMessageParamUnion{}, fmt.Errorf(
				"unexpected content message role: %s", msg.Role)
		case RoleUser:
			return oaiConvUserMessage(msg)
		case RoleModel:
			return oaiConvModelMessage(msg)
		}
	case *ToolCall:
		mp := openai.ChatCompletionMessageParamUnion{
			OfAssistant: &openai.ChatCompletionAssistantMessageParam{
				ToolCalls: []openai.ChatCompletionMessageToolCallParam{
					{
						ID: t.ID,
						Function: openai.ChatCompletionMessageToolCallFunctionParam{
							Name:      t.Name,
							Arguments: t.Arguments,
						},
					},
				},
			},
		}
		if msg.Name != "" {
			mp.OfAssistant.Name = param.NewOpt(msg.Name)
		}
		return mp, nil
	case *ToolResult:
		return openai.ToolMessage(t.Result, t.ID), nil
	}
}

func oaiConvModelMessage(msg *Message) (openai.ChatCompletionMessageParamUnion, error) {
	var text strings.Builder
	for _, c := range msg.Payload.(Contents) {
		switch v := c.(type) {
		case Text:
			text.WriteString(string(v))
		case *ImageRef:
			return openai.ChatCompletionMessageParamUnion{}, errors.New("model message must contain text only")
		}
	}
	if text.Len() == 0 {
		return openai.ChatCompletionMessageParamUnion{}, errors.New("model message must contain text")
	}
	mp := openai.ChatCompletionMessageParamUnion{
		OfAssistant: &openai.ChatCompletionAssistantMessageParam{
			Content: openai.ChatCompletionAssistantMessageParamContentUnion{
				OfString: param.NewOpt(text.String()),
			},
		},
	}
	if msg.Name != "" {
		mp.OfAssistant.Name = param.NewOpt(msg.Name)
	}
	return mp, nil
}

func oaiConvUserMessage(msg *Message) (openai.ChatCompletionMessageParamUnion, error) {
	var (
		text   strings.Builder
		images []*ImageRef
	)
	for _, c := range msg.Payload.(Contents) {
		switch v := c.(type) {
		case Text:
			text.WriteString(string(v))
		case *ImageRef:
			images = append(images, v)
		}
	}

	if len(images) == 0 {
		if text.Len() == 0 {
			return openai.ChatCompletionMessageParamUnion{}, errors.New("user message must contain text")
		}
		mp := openai.ChatCompletionUserMessageParam{
			Content: openai.ChatCompletionUserMessageParamContentUnion{
				OfString: param.NewOpt(text.String()),
			},
		}
		if msg.Name != "" {
			mp.Name = param.NewOpt(msg.Name)
		}
		return openai.ChatCompletionMessageParamUnion{OfUser: &mp}, nil
	}

	var contents []openai.ChatCompletionContentPartUnionParam
	if text.Len() > 0 {
		contents = append(contents, openai.TextContentPart(text.String()))
	}
	for _, img := range images {
		detail := img.Detail
		if detail == "" {
			detail = "high"
		}
		contents = append(contents, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL:    img.URL,
			Detail: detail,
		}))
	}
	mp := openai.ChatCompletionUserMessageParam{
		Content: openai.ChatCompletionUserMessageParamContentUnion{
			OfArrayOfContentParts: contents,
		},
	}
	if msg.Name != "" {
		mp.Name = param.NewOpt(msg.Name)
	}
	return openai.ChatCompletionMessageParamUnion{OfUser: &mp}, nil
}

func oaiConvSchemaForOutput(s *jsonschema.Schema) any {
	if s == nil {
		return nil
	}
	return any(formatOpenAISchema(s.CloneSchemas()))
}

func oaiConvSchemaForFunc(s *jsonschema.Schema) openai.FunctionParameters {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(formatOpenAISchema(s.CloneSchemas()))
	if err != nil {
		return nil
	}
	var m openai.FunctionParameters
	if err := json.Unmarshal(b, &m); err != nil {
		return nil
	}
	return m
}

// formatOpenAISchema rewrites a schema for OpenAI strict mode: objects carry
// additionalProperties: false and every property is required (optional ones
// become nullable).
//
// See https://platform.openai.com/docs/guides/structured-outputs
func formatOpenAISchema(m *jsonschema.Schema) *jsonschema.Schema {
	if m == nil {
		return nil
	}
	if m.Type != "" && len(m.Types) > 0 {
		m.Types = append(m.Types, m.Type)
		m.Type = ""
	}
	typ := m.Type
	if typ == "" {
		for _, t := range m.Types {
			if t != "null" && t != "" {
				typ = t
				break
			}
		}
	}
	switch typ {
	case "array":
		m.Items = formatOpenAISchema(m.Items)
	case "object":
		m.AdditionalProperties = &jsonschema.Schema{Not: &jsonschema.Schema{}}
		required := make(map[string]struct{}, len(m.Properties))
		for _, v := range m.Required {
			required[v] = struct{}{}
		}
		for k, v := range m.Properties {
			if _, ok := required[k]; !ok {
				required[k] = struct{}{}
				hasNull := false
				for _, t := range v.Types {
					if t == "null" {
						hasNull = true
					}
				}
				if !hasNull {
					v.Types = append(v.Types, "null")
				}
			}
			m.Properties[k] = formatOpenAISchema(v)
		}
		m.Required = m.Required[:0]
		for k := range required {
			m.Required = append(m.Required, k)
		}
	}
	return m
}
