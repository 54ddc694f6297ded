package speech_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mago-voice-backend/internal/speech"
	"mago-voice-backend/internal/upstream"
)

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]speech.Policy{
		"":            speech.PolicyBlocking,
		"blocking":    speech.PolicyBlocking,
		" Background": speech.PolicyBackground,
	} {
		got, err := speech.ParsePolicy(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := speech.ParsePolicy("sometimes")
	assert.Error(t, err)
}

func TestRunner_StartReturnsBeforeCompletion(t *testing.T) {
	mock := &speech.Mock{Delay: 50 * time.Millisecond}
	r := speech.NewRunner(mock, 2, time.Second)

	var calls atomic.Int32
	task := r.Start(context.Background(), "こんにちは", "v1", func(res *speech.Result, err error) {
		calls.Add(1)
	})
	assert.Equal(t, speech.StatusPending, task.Status())

	res, err := task.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "mp3:こんにちは", string(res.Audio))
	assert.Equal(t, speech.StatusReady, task.Status())
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, []speech.Call{{Text: "こんにちは", VoiceID: "v1"}}, mock.Calls())
}

func TestRunner_SurvivesRequestCancellation(t *testing.T) {
	mock := &speech.Mock{Delay: 30 * time.Millisecond}
	r := speech.NewRunner(mock, 1, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	task := r.Start(ctx, "text", "", nil)
	cancel()

	_, err := task.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled, "waiting with a dead context gives up")

	res, err := task.Wait(context.Background())
	require.NoError(t, err, "the work itself is not cancelled")
	assert.NotEmpty(t, res.Audio)
}

func TestRunner_Timeout(t *testing.T) {
	mock := &speech.Mock{Delay: time.Second}
	r := speech.NewRunner(mock, 1, 20*time.Millisecond)

	var got error
	task := r.Start(context.Background(), "text", "", func(_ *speech.Result, err error) { got = err })
	<-task.Done()

	assert.Equal(t, speech.StatusFailed, task.Status())
	assert.True(t, upstream.IsTimeout(got) || errors.Is(got, context.DeadlineExceeded))
}

func TestRunner_Failures(t *testing.T) {
	t.Run("synthesizer error", func(t *testing.T) {
		r := speech.NewRunner(&speech.Mock{Err: upstream.Classify("tts", upstream.ErrAuth)}, 1, time.Second)
		_, err := r.Synthesize(context.Background(), "text", "")
		assert.ErrorIs(t, err, upstream.ErrAuth)
	})

	t.Run("no audio", func(t *testing.T) {
		mock := &speech.Mock{Func: func(ctx context.Context, text, voiceID string) (*speech.Result, error) {
			return &speech.Result{}, nil
		}}
		_, err := speech.NewRunner(mock, 1, time.Second).Synthesize(context.Background(), "text", "")
		assert.ErrorIs(t, err, upstream.ErrMalformed)
	})

	t.Run("panic", func(t *testing.T) {
		mock := &speech.Mock{Func: func(ctx context.Context, text, voiceID string) (*speech.Result, error) {
			panic("boom")
		}}
		task := speech.NewRunner(mock, 1, time.Second).Start(context.Background(), "text", "", func(*speech.Result, error) {
			panic("callback boom")
		})
		<-task.Done()
		assert.Equal(t, speech.StatusFailed, task.Status())
	})
}

func TestRunner_BoundsConcurrency(t *testing.T) {
	var running, peak atomic.Int32
	mock := &speech.Mock{Func: func(ctx context.Context, text, voiceID string) (*speech.Result, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return &speech.Result{Audio: []byte(text)}, nil
	}}
	r := speech.NewRunner(mock, 2, 5*time.Second)

	var tasks []*speech.Task
	for i := 0; i < 8; i++ {
		tasks = append(tasks, r.Start(context.Background(), "x", "", nil))
	}
	for _, task := range tasks {
		_, err := task.Wait(context.Background())
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, r.Shutdown(ctx))
}

func TestChain(t *testing.T) {
	bad := &speech.Mock{Err: errors.New("down")}
	good := &speech.Mock{}

	res, err := speech.NewChain(bad, nil, good).Synthesize(context.Background(), "hi", "v")
	require.NoError(t, err)
	assert.Equal(t, "mp3:hi", string(res.Audio))
	assert.Len(t, bad.Calls(), 1)

	_, err = speech.NewChain().Synthesize(context.Background(), "hi", "v")
	assert.Error(t, err)

	_, err = speech.NewChain(&speech.Mock{Err: speech.ErrEmptyText}, good).Synthesize(context.Background(), "", "v")
	assert.ErrorIs(t, err, speech.ErrEmptyText)
}

func TestElevenLabs(t *testing.T) {
	var mu sync.Mutex
	var gotPath, gotKey string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotPath, gotKey = r.URL.Path, r.Header.Get("xi-api-key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		if strings.Contains(r.URL.Path, "missing") {
			http.Error(w, `{"detail":"voice not found"}`, http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3audio"))
	}))
	defer srv.Close()

	_, err := speech.NewElevenLabs("", "", "", srv.URL, nil)
	assert.ErrorIs(t, err, upstream.ErrAuth)

	el, err := speech.NewElevenLabs("xi", "", "default-voice", srv.URL, nil)
	require.NoError(t, err)

	res, err := el.Synthesize(context.Background(), "こんにちは", "")
	require.NoError(t, err)
	assert.Equal(t, "ID3audio", string(res.Audio))
	assert.Equal(t, "/v1/text-to-speech/default-voice", gotPath)
	assert.Equal(t, "xi", gotKey)
	assert.Equal(t, "こんにちは", gotBody["text"])
	assert.Equal(t, "eleven_flash_v2_5", gotBody["model_id"])

	_, err = el.Synthesize(context.Background(), "x", "missing")
	assert.ErrorIs(t, err, upstream.ErrUnavailable)

	_, err = el.Synthesize(context.Background(), "  ", "v")
	assert.ErrorIs(t, err, speech.ErrEmptyText)
}

func TestOpenAI(t *testing.T) {
	var gotVoice string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		gotVoice, _ = body["voice"].(string)
		if r.Header.Get("Authorization") != "Bearer good" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
			return
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("mp3bytes"))
	}))
	defer srv.Close()

	client := func(key string) *openai.Client {
		cfg := openai.DefaultConfig(key)
		cfg.BaseURL = srv.URL + "/v1"
		return openai.NewClientWithConfig(cfg)
	}

	tts := speech.NewOpenAI(client("good"), "tts-1", "shimmer")
	res, err := tts.Synthesize(context.Background(), "こんにちは", "21m00Tcm4TlvDq8ikWAM")
	require.NoError(t, err)
	assert.Equal(t, "mp3bytes", string(res.Audio))
	assert.Equal(t, "shimmer", gotVoice, "unknown voice ids fall back to the default voice")

	_, err = tts.Synthesize(context.Background(), "x", "Alloy")
	require.NoError(t, err)
	assert.Equal(t, "alloy", gotVoice)

	_, err = speech.NewOpenAI(client("bad"), "", "").Synthesize(context.Background(), "x", "")
	assert.ErrorIs(t, err, upstream.ErrAuth)
}
