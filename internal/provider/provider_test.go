package provider_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"testing"

	"github.com/petasbytes/go-chat/internal/config"
	"github.com/petasbytes/go-chat/internal/provider"
	"github.com/petasbytes/go-chat/memory"
)

type capture struct {
	url  string
	body []byte
}

type fakeTransport struct {
	status      int
	contentType string
	body        io.Reader
	err         error
	captured    *capture
}

func (f *fakeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body != nil {
		b, _ := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if f.captured != nil {
			f.captured.url = req.URL.String()
			f.captured.body = b
		}
	}
	if err := req.Context().Err(); err != nil {
		return nil, err
	}
	if f.err != nil {
		return nil, f.err
	}
	resp := &http.Response{
		StatusCode: f.status,
		Body:       io.NopCloser(f.body),
		Header:     make(http.Header),
		Request:    req,
	}
	resp.Header.Set("Content-Type", f.contentType)
	return resp, nil
}

func sse(status int, body string) *fakeTransport {
	return &fakeTransport{status: status, contentType: "text/event-stream", body: strings.NewReader(body)}
}

func jsonResp(status int, body string) *fakeTransport {
	return &fakeTransport{status: status, contentType: "application/json", body: strings.NewReader(body)}
}

func openAIChunk(content string) string {
	return fmt.Sprintf(`data: {"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"content":%q},"finish_reason":null}]}`+"\n\n", content)
}

func anthropicDelta(text string) string {
	return fmt.Sprintf("event: content_block_delta\ndata: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":%q}}\n\n", text)
}

const anthropicPrelude = "event: message_start\n" +
	`data: {"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","content":[],"model":"claude-test","stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":3,"output_tokens":1}}}` + "\n\n" +
	"event: content_block_start\n" +
	`data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}` + "\n\n"

const anthropicTrailer = "event: content_block_stop\n" +
	`data: {"type":"content_block_stop","index":0}` + "\n\n" +
	"event: message_delta\n" +
	`data: {"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":2}}` + "\n\n" +
	"event: message_stop\n" +
	`data: {"type":"message_stop"}` + "\n\n"

func openAIModel() config.Model {
	return config.Model{
		Provider:   config.ProviderOpenAICompatible,
		ModelName:  "qwen-test",
		APIBase:    "http://llm.invalid/v1",
		Parameters: config.Parameters{Temperature: 0.5, MaxTokens: 64},
	}
}

func anthropicModel() config.Model {
	return config.Model{
		Provider:   config.ProviderAnthropic,
		ModelName:  "claude-test",
		APIKey:     "test-key",
		APIBase:    "http://llm.invalid",
		Parameters: config.Parameters{Temperature: 0.5, MaxTokens: 64},
	}
}

func newBackend(t *testing.T, m config.Model, rt http.RoundTripper) provider.Backend {
	t.Helper()
	b, err := provider.New(m, provider.WithHTTPClient(&http.Client{Transport: rt}))
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}
	return b
}

func drain(s provider.Stream) ([]string, error) {
	defer s.Close()
	var out []string
	for s.Next() {
		out = append(out, s.Current())
	}
	return out, s.Err()
}

var conversation = []memory.Message{
	{Role: memory.RoleSystem, Content: "Be brief."},
	{Role: memory.RoleUser, Content: "hi"},
	{Role: memory.RoleAssistant, Content: "hello"},
	{Role: memory.RoleUser, Content: "how are you?"},
}

func TestOpenAI_StreamsFragmentsInOrder(t *testing.T) {
	body := openAIChunk("") + openAIChunk("Hel") + openAIChunk("lo") + "data: [DONE]\n\n"
	fake := sse(200, body)
	fake.captured = &capture{}
	b := newBackend(t, openAIModel(), fake)

	got, err := drain(b.StreamCompletion(context.Background(), conversation))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if strings.Join(got, "|") != "Hel|lo" {
		t.Fatalf("got=%q want=[Hel lo]", got)
	}

	var req struct {
		Model    string `json:"model"`
		Stream   bool   `json:"stream"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(fake.captured.body, &req); err != nil {
		t.Fatalf("unmarshal body: %v\nbody=%s", err, fake.captured.body)
	}
	if req.Model != "qwen-test" || !req.Stream {
		t.Fatalf("unexpected request: %+v", req)
	}
	if len(req.Messages) != 4 || req.Messages[0].Role != "system" || req.Messages[2].Role != "assistant" {
		t.Fatalf("messages not forwarded in order: %+v", req.Messages)
	}
	if !strings.HasSuffix(fake.captured.url, "/v1/chat/completions") {
		t.Fatalf("unexpected url %s", fake.captured.url)
	}
}

// failingReader yields its chunks then fails like a dropped connection.
type failingReader struct {
	chunks []string
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.ErrUnexpectedEOF
	}
	n := copy(p, r.chunks[0])
	r.chunks[0] = r.chunks[0][n:]
	if r.chunks[0] == "" {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

func TestOpenAI_MidStreamDrop_IsConnectionFailure(t *testing.T) {
	fake := &fakeTransport{
		status:      200,
		contentType: "text/event-stream",
		body:        &failingReader{chunks: []string{openAIChunk("Hel"), openAIChunk("lo")}},
	}
	b := newBackend(t, openAIModel(), fake)

	got, err := drain(b.StreamCompletion(context.Background(), conversation))
	if strings.Join(got, "") != "Hello" {
		t.Fatalf("got=%q want=Hello", strings.Join(got, ""))
	}
	var be *provider.BackendError
	if !errors.As(err, &be) || be.Kind != provider.KindConnectionFailure {
		t.Fatalf("expected connection failure, got %v", err)
	}
}

func TestOpenAI_UnknownModel_IsModelNotFound(t *testing.T) {
	fake := jsonResp(404, `{"error":{"message":"The model does not exist","type":"invalid_request_error","code":"model_not_found"}}`)
	b := newBackend(t, openAIModel(), fake)

	got, err := drain(b.StreamCompletion(context.Background(), conversation))
	if len(got) != 0 {
		t.Fatalf("expected no fragments, got %q", got)
	}
	var be *provider.BackendError
	if !errors.As(err, &be) || be.Kind != provider.KindModelNotFound || be.Status != 404 {
		t.Fatalf("expected model-not-found, got %v", err)
	}
}

func TestOpenAI_Refused_IsConnectionFailure(t *testing.T) {
	fake := &fakeTransport{err: &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}}
	b := newBackend(t, openAIModel(), fake)

	_, err := drain(b.StreamCompletion(context.Background(), conversation))
	var be *provider.BackendError
	if !errors.As(err, &be) || be.Kind != provider.KindConnectionFailure {
		t.Fatalf("expected connection failure, got %v", err)
	}
	if be.Annotation() != "[error: connection failure]" {
		t.Fatalf("annotation=%q", be.Annotation())
	}
}

func TestOpenAI_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := newBackend(t, openAIModel(), sse(200, openAIChunk("never")))

	_, err := drain(b.StreamCompletion(ctx, conversation))
	var be *provider.BackendError
	if !errors.As(err, &be) || be.Kind != provider.KindCanceled {
		t.Fatalf("expected canceled, got %v", err)
	}
}

func TestAnthropic_StreamsTextAndLiftsSystemPrompt(t *testing.T) {
	body := anthropicPrelude + anthropicDelta("Hel") + anthropicDelta("lo") + anthropicTrailer
	fake := sse(200, body)
	fake.captured = &capture{}
	b := newBackend(t, anthropicModel(), fake)

	// Windowing may leave an assistant message first; it must not be sent first.
	msgs := []memory.Message{
		{Role: memory.RoleSystem, Content: "Be brief."},
		{Role: memory.RoleAssistant, Content: "stale"},
		{Role: memory.RoleUser, Content: "hi"},
	}
	got, err := drain(b.StreamCompletion(context.Background(), msgs))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if strings.Join(got, "|") != "Hel|lo" {
		t.Fatalf("got=%q want=[Hel lo]", got)
	}

	var req struct {
		Model  string `json:"model"`
		System []struct {
			Text string `json:"text"`
		} `json:"system"`
		Messages []struct {
			Role string `json:"role"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(fake.captured.body, &req); err != nil {
		t.Fatalf("unmarshal body: %v\nbody=%s", err, fake.captured.body)
	}
	if len(req.System) != 1 || req.System[0].Text != "Be brief." {
		t.Fatalf("system prompt not lifted: %+v", req.System)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
		t.Fatalf("expected single user message, got %+v", req.Messages)
	}
}

func TestAnthropic_UnknownModel_IsModelNotFound(t *testing.T) {
	fake := jsonResp(404, `{"type":"error","error":{"type":"not_found_error","message":"model: claude-test"}}`)
	b := newBackend(t, anthropicModel(), fake)

	_, err := drain(b.StreamCompletion(context.Background(), conversation))
	var be *provider.BackendError
	if !errors.As(err, &be) || be.Kind != provider.KindModelNotFound {
		t.Fatalf("expected model-not-found, got %v", err)
	}
}

func TestPing(t *testing.T) {
	b := newBackend(t, openAIModel(), jsonResp(200, `{"object":"list","data":[{"id":"qwen-test","object":"model","created":1,"owned_by":"me"}]}`))
	checker, ok := b.(provider.Checker)
	if !ok {
		t.Fatal("openai backend should implement Checker")
	}
	if err := checker.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}

	b = newBackend(t, anthropicModel(), jsonResp(404, `{"type":"error","error":{"type":"not_found_error","message":"nope"}}`))
	if err := b.(provider.Checker).Ping(context.Background()); err == nil {
		t.Fatal("expected ping failure")
	}
}

func TestNew_RejectsUnknownProvider(t *testing.T) {
	_, err := provider.New(config.Model{Provider: "huggingface_local", ModelName: "x"})
	if !errors.Is(err, config.ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want provider.Kind
	}{
		{"canceled", fmt.Errorf("read: %w", context.Canceled), provider.KindCanceled},
		{"deadline", context.DeadlineExceeded, provider.KindTimeout},
		{"refused", &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, provider.KindConnectionFailure},
		{"eof", io.ErrUnexpectedEOF, provider.KindConnectionFailure},
		{"other", errors.New("boom"), provider.KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := provider.Classify(tc.err).Kind; got != tc.want {
				t.Fatalf("got=%s want=%s", got, tc.want)
			}
		})
	}
	if provider.Classify(nil) != nil {
		t.Fatal("nil error should classify to nil")
	}
	be := &provider.BackendError{Kind: provider.KindTimeout, Err: errors.New("x")}
	if provider.Classify(fmt.Errorf("wrap: %w", be)) != be {
		t.Fatal("existing BackendError should pass through")
	}
}
