package reply_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mago-voice-backend/internal/reply"
)

var grandson = reply.Persona{
	ID:                    "yuu",
	VoiceID:               "voice-yuu",
	SystemInstruction:     "あなたは明るく元気な孫のゆうくんです。自然に短く話してね。",
	ForbiddenAddressTerms: []string{"おばあさん", "ご老人"},
	AddressAs:             "おばあちゃん",
	Apology:               "ごめん、ちょっと聞こえなかったよ。",
}

func answer(text string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{
		{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: text}},
	}}
}

func TestWindow_Trim(t *testing.T) {
	msgs := []reply.Message{
		{Role: "user", Content: "一二三"},
		{Role: "assistant", Content: "四五"},
		{Role: "user", Content: "六"},
		{Role: "assistant", Content: "七八"},
	}

	t.Run("message bound", func(t *testing.T) {
		got := reply.Window{MaxMessages: 2, MaxChars: 100}.Trim(msgs)
		assert.Equal(t, msgs[2:], got)
	})

	t.Run("char bound keeps whole messages", func(t *testing.T) {
		got := reply.Window{MaxMessages: 10, MaxChars: 5}.Trim(msgs)
		assert.Equal(t, msgs[1:], got)
	})

	t.Run("oversized last message drops everything", func(t *testing.T) {
		got := reply.Window{MaxMessages: 10, MaxChars: 1}.Trim(msgs)
		assert.Empty(t, got)
	})

	t.Run("does not alias input", func(t *testing.T) {
		got := reply.Window{MaxMessages: 10, MaxChars: 100}.Trim(msgs)
		got[0].Content = "changed"
		assert.Equal(t, "一二三", msgs[0].Content)
	})
}

func TestPersonas(t *testing.T) {
	path := filepath.Join(t.TempDir(), "personas.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
default: yuu
personas:
  - id: yuu
    voice_id: v1
    system_instruction: 孫のゆうくんです。
    forbidden_address_terms: [おばあさん]
    address_as: おばあちゃん
  - id: butler
    voice_id: v2
    system_instruction: 執事です。
    register: 丁寧語
    apology: 申し訳ございません。
`), 0o644))

	table, err := reply.LoadPersonas(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"butler", "yuu"}, table.IDs())

	def, err := table.Get("")
	require.NoError(t, err)
	assert.Equal(t, "yuu", def.ID)
	assert.Equal(t, reply.DefaultApology, def.ApologyText())
	assert.Contains(t, def.Instruction(), "おばあちゃん")

	butler, err := table.Get("butler")
	require.NoError(t, err)
	assert.Equal(t, "申し訳ございません。", butler.ApologyText())
	assert.Contains(t, butler.Instruction(), "丁寧語")

	_, err = table.Get("nobody")
	assert.ErrorIs(t, err, reply.ErrUnknownPersona)

	_, err = reply.NewPersonas("ghost", reply.Persona{ID: "a"})
	assert.ErrorIs(t, err, reply.ErrUnknownPersona)
	_, err = reply.NewPersonas("", reply.Persona{ID: "a"}, reply.Persona{ID: "a"})
	assert.Error(t, err)
}

func TestGenerator_BuildsBoundedRequest(t *testing.T) {
	var got openai.ChatCompletionRequest
	client := reply.CompleterFunc(func(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
		got = req
		return answer("おばあさん、元気だよ！"), nil
	})
	g := reply.NewGenerator(client, "test-model", reply.WithWindow(reply.Window{MaxMessages: 2, MaxChars: 100}))

	history := []reply.Message{
		{Role: "user", Content: "古い"},
		{Role: "assistant", Content: "古い返事"},
		{Role: "user", Content: "最近どう？"},
		{Role: "assistant", Content: "元気！"},
	}
	out := g.Generate(context.Background(), reply.Request{Utterance: "  元気？ ", Persona: grandson, History: history})

	assert.Equal(t, "おばあちゃん、元気だよ！", out)
	assert.Equal(t, "test-model", got.Model)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, openai.ChatMessageRoleSystem, got.Messages[0].Role)
	assert.Contains(t, got.Messages[0].Content, grandson.SystemInstruction)
	assert.Equal(t, "最近どう？", got.Messages[1].Content)
	assert.Equal(t, openai.ChatMessageRoleAssistant, got.Messages[2].Role)
	assert.Equal(t, "元気？", got.Messages[3].Content)
}

func TestGenerator_FactsGoToSystemPrompt(t *testing.T) {
	var system string
	client := reply.CompleterFunc(func(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
		system = req.Messages[0].Content
		return answer("石破さんだよ"), nil
	})
	out := reply.NewGenerator(client, "").Generate(context.Background(), reply.Request{
		Utterance: "総理は誰？", Persona: grandson, Facts: []string{"石破首相が会見"},
	})
	assert.Equal(t, "石破さんだよ", out)
	assert.Contains(t, system, "石破首相が会見")
}

func TestGenerator_Fallbacks(t *testing.T) {
	t.Run("timeout returns apology", func(t *testing.T) {
		client := reply.CompleterFunc(func(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
			<-ctx.Done()
			return openai.ChatCompletionResponse{}, ctx.Err()
		})
		g := reply.NewGenerator(client, "", reply.WithTimeout(20*time.Millisecond))
		assert.Equal(t, grandson.Apology, g.Generate(context.Background(), reply.Request{Utterance: "やあ", Persona: grandson}))
	})

	t.Run("empty choices", func(t *testing.T) {
		client := reply.CompleterFunc(func(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
			return openai.ChatCompletionResponse{}, nil
		})
		assert.Equal(t, grandson.Apology, reply.NewGenerator(client, "").Generate(context.Background(), reply.Request{Utterance: "やあ", Persona: grandson}))
	})

	t.Run("blank utterance skips the model", func(t *testing.T) {
		var calls atomic.Int32
		client := reply.CompleterFunc(func(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
			calls.Add(1)
			return answer("x"), nil
		})
		out := reply.NewGenerator(client, "").Generate(context.Background(), reply.Request{Utterance: " \n", Persona: reply.Persona{ID: "p"}})
		assert.Equal(t, reply.DefaultApology, out)
		assert.Zero(t, calls.Load())
	})
}

func TestGenerator_OpenAIClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(answer("こんにちは！"))
	}))
	defer srv.Close()

	newClient := func(key string) *openai.Client {
		cfg := openai.DefaultConfig(key)
		cfg.BaseURL = srv.URL + "/v1"
		return openai.NewClientWithConfig(cfg)
	}

	ok := reply.NewGenerator(newClient("good"), "")
	assert.Equal(t, "こんにちは！", ok.Generate(context.Background(), reply.Request{Utterance: "やあ", Persona: grandson}))

	denied := reply.NewGenerator(newClient("bad"), "")
	assert.Equal(t, grandson.Apology, denied.Generate(context.Background(), reply.Request{Utterance: "やあ", Persona: grandson}))
}
