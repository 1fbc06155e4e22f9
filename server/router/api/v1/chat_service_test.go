package v1

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/reveriehq/reverie/ai/orchestrator"
	"github.com/reveriehq/reverie/internal/profile"
	"github.com/reveriehq/reverie/server/auth"
)

// fakeStreamer replays a scripted event sequence and records the request.
type fakeStreamer struct {
	events  []orchestrator.Event
	err     error
	lastReq orchestrator.ChatRequest
}

func (f *fakeStreamer) StreamChat(ctx context.Context, req orchestrator.ChatRequest) (<-chan orchestrator.Event, error) {
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan orchestrator.Event, len(f.events))
	for _, ev := range f.events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func devProfile() *profile.Profile {
	return &profile.Profile{
		Mode:                       "dev",
		AuthEnabled:                false,
		JWTSecretKey:               profile.DefaultJWTSecret,
		JWTAlgorithm:               "HS256",
		JWTExpirationHours:         24,
		RateLimitRequestsPerMinute: 600,
		Version:                    "test",
	}
}

func newTestAPI(t *testing.T, p *profile.Profile, streamer Streamer) (*echo.Echo, *APIV1Service) {
	t.Helper()
	svc := NewAPIV1Service(p, nil, Dependencies{Streamer: streamer})
	t.Cleanup(svc.Close)
	e := echo.New()
	svc.Register(e)
	return e, svc
}

func postChat(e *echo.Echo, user, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if user != "" {
		req.Header.Set(auth.DevUserHeader, user)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeSSE(t *testing.T, body string) []orchestrator.Event {
	t.Helper()
	var events []orchestrator.Event
	scanner := bufio.NewScanner(strings.NewReader(body))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev orchestrator.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	return events
}

func TestChatStreamEncodesSSE(t *testing.T) {
	streamer := &fakeStreamer{events: []orchestrator.Event{
		{Type: orchestrator.EventThinking, Step: "classifying", ConversationID: "conv-1"},
		{Type: orchestrator.EventChunk, Chunk: "Hello, ", ConversationID: "conv-1"},
		{Type: orchestrator.EventChunk, Chunk: "you.", ConversationID: "conv-1"},
		{Type: orchestrator.EventDone, ConversationID: "conv-1"},
	}}
	e, _ := newTestAPI(t, devProfile(), streamer)

	rec := postChat(e, "alice", `{"message": "hi there", "personality": "elara"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get(echo.HeaderContentType))
	require.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))

	events := decodeSSE(t, rec.Body.String())
	require.Len(t, events, 4)
	require.Equal(t, orchestrator.EventThinking, events[0].Type)
	require.Equal(t, "Hello, you.", events[1].Chunk+events[2].Chunk)
	require.Equal(t, orchestrator.EventDone, events[3].Type)

	require.Equal(t, "alice", streamer.lastReq.UserID)
	require.Equal(t, "hi there", streamer.lastReq.Message)
	require.Equal(t, "elara", streamer.lastReq.PersonalityName)
}

func TestChatStreamRejectsInvalidTurn(t *testing.T) {
	streamer := &fakeStreamer{err: fmt.Errorf("message is required")}
	e, _ := newTestAPI(t, devProfile(), streamer)

	rec := postChat(e, "alice", `{"message": ""}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatRequiresUser(t *testing.T) {
	e, _ := newTestAPI(t, devProfile(), &fakeStreamer{})

	rec := postChat(e, "", `{"message": "hi"}`)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChatJWTAuth(t *testing.T) {
	p := devProfile()
	p.AuthEnabled = true
	streamer := &fakeStreamer{events: []orchestrator.Event{{Type: orchestrator.EventDone}}}
	e, svc := newTestAPI(t, p, streamer)

	t.Run("missing token", func(t *testing.T) {
		rec := postChat(e, "", `{"message": "hi"}`)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("dev header ignored when auth enabled", func(t *testing.T) {
		rec := postChat(e, "alice", `{"message": "hi"}`)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		token, _, err := svc.signer.Mint("alice")
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(`{"message": "hi"}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, "alice", streamer.lastReq.UserID)
	})
}

func TestRateLimitKicksIn(t *testing.T) {
	p := devProfile()
	p.RateLimitRequestsPerMinute = 1 // burst floor of 5 applies
	streamer := &fakeStreamer{events: []orchestrator.Event{{Type: orchestrator.EventDone}}}
	e, _ := newTestAPI(t, p, streamer)

	for i := 0; i < 5; i++ {
		rec := postChat(e, "alice", `{"message": "hi"}`)
		require.Equal(t, http.StatusOK, rec.Code, "request %d within burst", i)
	}
	rec := postChat(e, "alice", `{"message": "hi"}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Another user has an independent budget.
	rec = postChat(e, "bob", `{"message": "hi"}`)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthEndpointIsPublic(t *testing.T) {
	e, _ := newTestAPI(t, devProfile(), &fakeStreamer{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestMintTokenDevOnly(t *testing.T) {
	t.Run("dev mints", func(t *testing.T) {
		e, _ := newTestAPI(t, devProfile(), &fakeStreamer{})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", strings.NewReader(`{"user_id": "alice"}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var resp struct {
			Token     string `json:"token"`
			ExpiresAt int64  `json:"expires_at"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.NotEmpty(t, resp.Token)
		require.Greater(t, resp.ExpiresAt, time.Now().Unix())
	})

	t.Run("prod refuses", func(t *testing.T) {
		p := devProfile()
		p.Mode = "prod"
		e, _ := newTestAPI(t, p, &fakeStreamer{})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", strings.NewReader(`{"user_id": "alice"}`))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestAgeCalculation(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		dob  string
		want int
	}{
		{"2007-06-14", 18},
		{"2007-06-16", 17},
		{"2000-01-01", 25},
		{"2010-12-31", 14},
	}
	for _, tt := range tests {
		dob, err := time.Parse("2006-01-02", tt.dob)
		require.NoError(t, err)
		require.Equal(t, tt.want, age(dob, now), tt.dob)
	}
}
