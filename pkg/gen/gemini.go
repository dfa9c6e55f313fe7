package gen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/genai"
)

var _ Generator = (*GeminiGenerator)(nil)

// GeminiGenerator implements Generator using the Google Gemini API.
type GeminiGenerator struct {
	Client *genai.Client `json:"-" yaml:"-"`

	// Model should not start with "models/".
	Model string `json:"model" yaml:"model"`

	GenerateParams *ModelParams `json:"generate_params,omitzero" yaml:"generate_params,omitempty"`
	InvokeParams   *ModelParams `json:"invoke_params,omitzero" yaml:"invoke_params,omitempty"`
}

func (g *GeminiGenerator) GenerateStream(ctx context.Context, mctx *Context) (Stream, error) {
	cfg, contents, err := g.convContext(mctx, g.GenerateParams)
	if err != nil {
		return nil, err
	}
	sb := NewStreamBuilder(32)
	go func() {
		if err := geminiPull(sb, g.Client.Models.GenerateContentStream(ctx, g.Model, contents, cfg)); err != nil {
			sb.Abort(err)
		}
	}()
	return sb.Stream(), nil
}

func (g *GeminiGenerator) Invoke(ctx context.Context, mctx *Context, fn *FuncTool) (string, error) {
	cfg, contents, err := g.convContext(mctx, g.InvokeParams)
	if err != nil {
		return "", err
	}
	cfg.Tools = nil
	cfg.ResponseMIMEType = "application/json"
	cfg.ResponseSchema = geminiConvSchema(fn.Argument)
	resp, err := g.Client.Models.GenerateContent(ctx, g.Model, contents, cfg)
	if err != nil {
		if e, ok := err.(*apierror.APIError); ok {
			err = e.Unwrap()
		}
		return "", err
	}
	if len(resp.Candidates) == 0 {
		return "", errors.New("no candidates")
	}
	cand := resp.Candidates[0]
	if cand.FinishReason != genai.FinishReasonStop {
		return "", fmt.Errorf("unexpected finish reason: %s", cand.FinishReason)
	}
	var sb strings.Builder
	for _, p := range cand.Content.Parts {
		if p.Text != "" {
			sb.WriteString(p.Text)
		}
	}
	return sb.String(), nil
}

func geminiPull(sb *StreamBuilder, itr iter.Seq2[*genai.GenerateContentResponse, error]) error {
	var selIdx int32
	// Gemini delivers whole function calls; assign slot indexes in arrival
	// order so the accumulator sees the same fragment shape as OpenAI.
	toolIndex := 0
	for chunk, err := range itr {
		if err != nil {
			return err
		}
		if len(chunk.Candidates) == 0 {
			continue
		}
		var sel *genai.Candidate
		if selIdx == 0 {
			selIdx = chunk.Candidates[0].Index
			sel = chunk.Candidates[0]
		} else {
			for _, c := range chunk.Candidates {
				if c.Index == selIdx {
					sel = c
					break
				}
			}
			if sel == nil {
				continue
			}
		}

		var (
			text   strings.Builder
			chunks []*Chunk
		)
		if sel.Content != nil {
			for _, p := range sel.Content.Parts {
				switch {
				case p.Text != "":
					text.WriteString(p.Text)
				case p.FunctionCall != nil:
					b, _ := json.Marshal(p.FunctionCall.Args)
					chunks = append(chunks, &Chunk{Tool: &ToolFragment{
						Index:     toolIndex,
						ID:        "call_" + hexString(),
						Name:      p.FunctionCall.Name,
						Arguments: string(b),
					}})
					toolIndex++
				}
			}
		}
		if text.Len() > 0 {
			chunks = append([]*Chunk{{Text: text.String()}}, chunks...)
		}
		if err := sb.Add(chunks...); err != nil {
			return err
		}
		switch sel.FinishReason {
		default:
			return sb.Abort(fmt.Errorf("unexpected finish reason: %s", sel.FinishReason))
		case genai.FinishReasonUnspecified, "":
			// keep pulling
		case genai.FinishReasonStop:
			return sb.Done()
		case genai.FinishReasonMaxTokens:
			return sb.Truncated()
		case genai.FinishReasonSafety:
			var cats []string
			for _, sr := range sel.SafetyRatings {
				if sr.Blocked {
					cats = append(cats, string(sr.Category))
				}
			}
			return sb.Blocked("blocked by " + strings.Join(cats, ", "))
		}
	}
	return errors.New("unexpected end of stream: no finish reason")
}

func (g *GeminiGenerator) convContext(mctx *Context, mp *ModelParams) (*genai.GenerateContentConfig, []*genai.Content, error) {
	cfg := &genai.GenerateContentConfig{}
	if mctx.System != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{genai.NewPartFromText(mctx.System)},
		}
	}
	if mctx.Params != nil {
		mp = mctx.Params
	}
	if mp != nil {
		cfg.MaxOutputTokens = int32(mp.MaxTokens)
		if mp.Temperature > 0 {
			t := mp.Temperature
			cfg.Temperature = &t
		}
		if mp.TopP > 0 {
			t := mp.TopP
			cfg.TopP = &t
		}
	}
	for _, t := range mctx.Tools {
		cfg.Tools = append(cfg.Tools, &genai.Tool{
			FunctionDeclarations: []*genai.FunctionDeclaration{
				{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  geminiConvSchema(t.Argument),
				},
			},
		})
	}

	var (
		contents []*genai.Content
		last     *genai.Content
	)
	for _, msg := range mctx.Messages {
		c, err := geminiConvMessage(last, msg)
		if err != nil {
			return nil, nil, err
		}
		if c != nil {
			contents = append(contents, c)
			last = c
		}
	}
	if len(contents) == 0 {
		return nil, nil, errors.New("no contents")
	}
	return cfg, contents, nil
}

// geminiConvMessage converts one message, merging consecutive same-role
// content into the previous genai.Content. Returns nil when merged.
func geminiConvMessage(last *genai.Content, msg *Message) (*genai.Content, error) {
	var (
		role  string
		parts []*genai.Part
	)
	switch t := msg.Payload.(type) {
	default:
		return nil, fmt.Errorf("unexpected message payload type: %T", t)
	case Contents:
		switch msg.Role {
		default:
			return nil, fmt.Errorf("mismatched role and payload: role=%s, type=%T", msg.Role, msg.Payload)
		case RoleUser:
			role = "user"
		case RoleModel:
			role = "model"
		}
		for _, c := range t {
			switch v := c.(type) {
			case Text:
				parts = append(parts, genai.NewPartFromText(string(v)))
			case *ImageRef:
				parts = append(parts, genai.NewPartFromURI(v.URL, "image/*"))
			}
		}
	case *ToolCall:
		role = "model"
		var args map[string]any
		if err := json.Unmarshal([]byte(t.Arguments), &args); err != nil {
			args = map[string]any{"text": t.Arguments}
		}
		parts = append(parts, genai.NewPartFromFunctionCall(t.Name, args))
	case *ToolResult:
		role = "user"
		var result map[string]any
		if err := json.Unmarshal([]byte(t.Result), &result); err != nil {
			result = map[string]any{"text": t.Result}
		}
		parts = append(parts, genai.NewPartFromFunctionResponse(t.ID, result))
	}
	if last == nil || last.Role != role {
		return &genai.Content{Role: role, Parts: parts}, nil
	}
	last.Parts = append(last.Parts, parts...)
	return nil, nil
}

func geminiConvSchema(schema *jsonschema.Schema) *genai.Schema {
	if schema == nil {
		return nil
	}
	enums := make([]string, 0, len(schema.Enum))
	for _, v := range schema.Enum {
		enums = append(enums, fmt.Sprintf("%v", v))
	}
	gs := genai.Schema{
		Format:      schema.Format,
		Description: schema.Description,
		Enum:        enums,
		Items:       geminiConvSchema(schema.Items),
		Required:    schema.Required,
	}
	if n := len(schema.Properties); n > 0 {
		gs.Properties = make(map[string]*genai.Schema, n)
		for k, prop := range schema.Properties {
			gs.Properties[k] = geminiConvSchema(prop)
		}
	}
	switch schema.Type {
	case "object":
		gs.Type = genai.TypeObject
	case "array":
		gs.Type = genai.TypeArray
	case "string":
		gs.Type = genai.TypeString
	case "number":
		gs.Type = genai.TypeNumber
	case "integer":
		gs.Type = genai.TypeInteger
	case "boolean":
		gs.Type = genai.TypeBoolean
	}
	return &gs
}
