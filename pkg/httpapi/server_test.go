package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/parleyhq/parley/pkg/chat"
	"github.com/parleyhq/parley/pkg/chat/turn"
	"github.com/parleyhq/parley/pkg/gen"
	"github.com/parleyhq/parley/pkg/kv"
)

// replayGen returns one scripted text stream per call.
type replayGen struct {
	replies [][]string
	calls   int
}

func (g *replayGen) GenerateStream(_ context.Context, _ *gen.Context) (gen.Stream, error) {
	reply := []string{"ok"}
	if g.calls < len(g.replies) {
		reply = g.replies[g.calls]
	}
	g.calls++
	sb := gen.NewStreamBuilder(len(reply) + 1)
	for _, p := range reply {
		sb.Add(&gen.Chunk{Text: p})
	}
	sb.Done()
	return sb.Stream(), nil
}

func (g *replayGen) Invoke(context.Context, *gen.Context, *gen.FuncTool) (string, error) {
	return "", errors.New("no structured output")
}

func newTestServer(t *testing.T, g gen.Generator) (*httptest.Server, *chat.Store, *turn.Orchestrator) {
	t.Helper()
	store := chat.NewStore(kv.NewMemory())
	orch := &turn.Orchestrator{
		Store:     store,
		Catalog:   chat.NewCatalog(store),
		Generator: g,
	}
	ts := httptest.NewServer(NewServer(orch).Handler())
	t.Cleanup(ts.Close)
	return ts, store, orch
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

// parseSSE reads the whole response body and decodes each data line.
func parseSSE(t *testing.T, resp *http.Response) []turn.Frame {
	t.Helper()
	defer resp.Body.Close()
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	var frames []turn.Frame
	for _, line := range strings.Split(buf.String(), "\n") {
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}
		var f turn.Frame
		if err := json.Unmarshal([]byte(data), &f); err != nil {
			t.Fatalf("bad SSE frame %q: %v", data, err)
		}
		frames = append(frames, f)
	}
	return frames
}

func TestAPI_ConversationCRUD(t *testing.T) {
	ts, _, _ := newTestServer(t, &replayGen{})
	auth := map[string]string{"X-User-ID": "alice"}

	resp := doJSON(t, "POST", ts.URL+"/api/conversations",
		map[string]string{"personaId": "scholar", "title": "History chat"}, auth)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	conv := decodeBody[*chat.Conversation](t, resp)
	if conv.PersonaID != "scholar" || conv.OwnerID != "alice" {
		t.Errorf("created conversation = %+v", conv)
	}

	resp = doJSON(t, "GET", ts.URL+"/api/conversations", nil, auth)
	convs := decodeBody[[]*chat.Conversation](t, resp)
	if len(convs) != 1 {
		t.Errorf("list = %d conversations", len(convs))
	}

	resp = doJSON(t, "DELETE", ts.URL+"/api/conversations/"+conv.ID, nil, auth)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, "GET", ts.URL+"/api/conversations/"+conv.ID, nil, auth)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get after delete = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAPI_TurnSSE(t *testing.T) {
	ts, store, _ := newTestServer(t, &replayGen{replies: [][]string{{"Hi", " there"}}})
	ctx := context.Background()
	conv, _ := store.CreateConversation(ctx, "", "general", "")

	resp := doJSON(t, "POST", ts.URL+"/api/conversations/"+conv.ID+"/turns",
		map[string]string{"content": "hello"}, nil)
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	frames := parseSSE(t, resp)
	if len(frames) < 3 {
		t.Fatalf("frames = %d", len(frames))
	}
	if frames[0].Type != turn.EventUserMessage {
		t.Errorf("first frame = %q", frames[0].Type)
	}
	if frames[len(frames)-1].Type != turn.EventComplete {
		t.Errorf("last frame = %q", frames[len(frames)-1].Type)
	}

	var text string
	for _, f := range frames {
		if f.Type == turn.EventToken {
			text += f.Data.(string)
		}
	}
	if text != "Hi there" {
		t.Errorf("streamed text = %q", text)
	}

	msgs, _ := store.Messages(ctx, conv.ID)
	if len(msgs) != 2 {
		t.Errorf("persisted %d messages", len(msgs))
	}
}

func TestAPI_TurnPollMode(t *testing.T) {
	ts, store, _ := newTestServer(t, &replayGen{replies: [][]string{{"polled reply"}}})
	conv, _ := store.CreateConversation(context.Background(), "", "general", "")

	resp := doJSON(t, "POST", ts.URL+"/api/conversations/"+conv.ID+"/turns?mode=poll",
		map[string]string{"content": "hello"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("poll status = %d", resp.StatusCode)
	}
	body := decodeBody[turn.PollResponse](t, resp)
	if body.Content != "polled reply" {
		t.Errorf("content = %q", body.Content)
	}
	if body.UserMessage == nil || body.AIMessage == nil {
		t.Errorf("poll response missing messages: %+v", body)
	}
}

func TestAPI_ValidationBeforeFraming(t *testing.T) {
	ts, store, _ := newTestServer(t, &replayGen{})
	conv, _ := store.CreateConversation(context.Background(), "", "general", "")

	resp := doJSON(t, "POST", ts.URL+"/api/conversations/"+conv.ID+"/turns",
		map[string]string{"content": "   "}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q, want plain JSON", ct)
	}
	body := decodeBody[map[string]string](t, resp)
	if body["error"] == "" {
		t.Error("missing error message")
	}
}

func TestAPI_OwnerChecks(t *testing.T) {
	ts, store, _ := newTestServer(t, &replayGen{})
	ctx := context.Background()
	conv, _ := store.CreateConversation(ctx, "alice", "general", "")
	msg := &chat.Message{ConversationID: conv.ID, Role: chat.RoleUser, Content: "hi"}
	store.AppendMessage(ctx, msg)

	bob := map[string]string{"X-User-ID": "bob"}
	base := ts.URL + "/api/conversations/" + conv.ID

	for _, tc := range []struct {
		method, url string
		body        any
	}{
		{"POST", base + "/turns", map[string]string{"content": "hijack"}},
		{"PATCH", base + "/messages/" + msg.ID, map[string]string{"content": "edited"}},
		{"POST", base + "/messages/" + msg.ID + "/pin", map[string]bool{"pinned": true}},
		{"POST", base + "/messages/" + msg.ID + "/reaction", map[string]string{"reaction": "like"}},
	} {
		resp := doJSON(t, tc.method, tc.url, tc.body, bob)
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("%s %s = %d, want 403", tc.method, tc.url, resp.StatusCode)
		}
		resp.Body.Close()
	}
}

func TestAPI_EditPinReact(t *testing.T) {
	ts, store, _ := newTestServer(t, &replayGen{})
	ctx := context.Background()
	conv, _ := store.CreateConversation(ctx, "alice", "general", "")
	var ids []string
	for _, c := range []string{"one", "two", "three"} {
		m := &chat.Message{ConversationID: conv.ID, Role: chat.RoleUser, Content: c}
		store.AppendMessage(ctx, m)
		ids = append(ids, m.ID)
	}

	auth := map[string]string{"X-User-ID": "alice"}
	base := ts.URL + "/api/conversations/" + conv.ID

	resp := doJSON(t, "PATCH", base+"/messages/"+ids[0], map[string]string{"content": "edited"}, auth)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("edit status = %d", resp.StatusCode)
	}
	resp.Body.Close()
	msgs, _ := store.Messages(ctx, conv.ID)
	if len(msgs) != 1 || msgs[0].Content != "edited" {
		t.Errorf("after edit: %d messages, first %q", len(msgs), msgs[0].Content)
	}

	resp = doJSON(t, "POST", base+"/messages/"+msgs[0].ID+"/pin", map[string]bool{"pinned": true}, auth)
	pinned := decodeBody[*chat.Message](t, resp)
	if !pinned.Pinned {
		t.Error("message not pinned")
	}

	resp = doJSON(t, "POST", base+"/messages/"+msgs[0].ID+"/reaction",
		map[string]string{"reaction": "confetti"}, auth)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid reaction status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAPI_AnonymousRateLimit(t *testing.T) {
	ts, store, orch := newTestServer(t, &replayGen{})
	orch.AnonTurnLimit = 2
	conv, _ := store.CreateConversation(context.Background(), "", "general", "")

	session := map[string]string{"Cookie": "parley_session=sess1"}
	url := ts.URL + "/api/conversations/" + conv.ID + "/turns?mode=poll"

	for i := 1; i <= 2; i++ {
		resp := doJSON(t, "POST", url, map[string]string{"content": fmt.Sprintf("turn %d", i)}, session)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("turn %d status = %d", i, resp.StatusCode)
		}
		resp.Body.Close()
	}

	resp := doJSON(t, "POST", url, map[string]string{"content": "one too many"}, session)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("over-limit status = %d, want 429", resp.StatusCode)
	}
	resp.Body.Close()

	// A different session still gets through.
	resp = doJSON(t, "POST", url, map[string]string{"content": "hello"},
		map[string]string{"Cookie": "parley_session=sess2"})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("fresh session status = %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAPI_Debate(t *testing.T) {
	replies := make([][]string, turn.DebateRounds*2)
	for i := range replies {
		replies[i] = []string{"argument"}
	}
	ts, store, _ := newTestServer(t, &replayGen{replies: replies})
	conv, _ := store.CreateConversation(context.Background(), "", "general", "")

	resp := doJSON(t, "POST", ts.URL+"/api/conversations/"+conv.ID+"/debates",
		map[string]string{"topic": "tabs vs spaces", "personaA": "general", "personaB": "scholar"}, nil)
	frames := parseSSE(t, resp)

	var speakers int
	for _, f := range frames {
		if f.Type == turn.EventSpeaker {
			speakers++
		}
	}
	if speakers != turn.DebateRounds*2 {
		t.Errorf("speaker frames = %d, want %d", speakers, turn.DebateRounds*2)
	}
	if frames[len(frames)-1].Type != turn.EventComplete {
		t.Errorf("last frame = %q", frames[len(frames)-1].Type)
	}

	msgs, _ := store.Messages(context.Background(), conv.ID)
	if len(msgs) != turn.DebateRounds*2 {
		t.Errorf("persisted %d messages", len(msgs))
	}
}

func TestAPI_MemoryEndpoints(t *testing.T) {
	ts, _, _ := newTestServer(t, &replayGen{})

	resp := doJSON(t, "GET", ts.URL+"/api/memory", nil, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("anonymous memory status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	auth := map[string]string{"X-User-ID": "alice"}
	resp = doJSON(t, "POST", ts.URL+"/api/memory", map[string]string{"fact": "speaks French"}, auth)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("add fact status = %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, "GET", ts.URL+"/api/memory", nil, auth)
	facts := decodeBody[[]string](t, resp)
	if len(facts) != 1 || facts[0] != "speaks French" {
		t.Errorf("facts = %v", facts)
	}

	resp = doJSON(t, "DELETE", ts.URL+"/api/memory", nil, auth)
	resp.Body.Close()
	resp = doJSON(t, "GET", ts.URL+"/api/memory", nil, auth)
	facts = decodeBody[[]string](t, resp)
	if len(facts) != 0 {
		t.Errorf("facts after clear = %v", facts)
	}
}
