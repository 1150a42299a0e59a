package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomIDFromURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"https://conf.example/r/abc123", "abc123"},
		{"https://conf.example/r/abc123/", "abc123"},
		{"https://conf.example/r/abc123?psw=x", "abc123"},
		{"abc123", "abc123"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, RoomIDFromURL(tc.in), "input %q", tc.in)
	}
}

func newConferenceTestServer(t *testing.T, logins *atomic.Int32, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		logins.Add(1)
		assert.Equal(t, "Bearer sdk-key", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "conf-token"})
	})
	mux.HandleFunc("/", handler)
	return httptest.NewServer(mux)
}

func TestCreateRoom(t *testing.T) {
	var logins atomic.Int32
	srv := newConferenceTestServer(t, &logins, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/room/create", r.URL.Path)
		assert.Equal(t, "Bearer conf-token", r.Header.Get("Authorization"))
		var payload map[string]interface{}
		if assert.NoError(t, json.NewDecoder(r.Body).Decode(&payload)) {
			assert.Equal(t, true, payload["transcriptionAutoStartEnabled"])
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"roomId":  "r1",
			"roomUrl": "https://conf.example/r/r1",
		})
	})
	defer srv.Close()

	c := NewConferenceClient(srv.URL, "sdk-key")
	info, err := c.CreateRoom(context.Background(), "Debate Room 1")
	require.NoError(t, err)
	assert.Equal(t, "r1", info.ID)
	assert.Equal(t, "https://conf.example/r/r1", info.URL)

	// the token is cached across calls
	_, err = c.CreateRoom(context.Background(), "Debate Room 2")
	require.NoError(t, err)
	assert.EqualValues(t, 1, logins.Load())
}

func TestGetParticipantsTreatsNotFoundAsEmpty(t *testing.T) {
	var logins atomic.Int32
	srv := newConferenceTestServer(t, &logins, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	defer srv.Close()

	c := NewConferenceClient(srv.URL, "sdk-key")
	participants, err := c.GetParticipants(context.Background(), "gone")
	require.NoError(t, err)
	assert.Empty(t, participants)
}

func TestGetTranscripts(t *testing.T) {
	var logins atomic.Int32
	srv := newConferenceTestServer(t, &logins, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/room/r1/transcriptions", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"transcriptions": []map[string]string{
				{"participantName": "Alice Cooper", "text": "hi"},
			},
		})
	})
	defer srv.Close()

	c := NewConferenceClient(srv.URL, "sdk-key")
	entries, err := c.GetTranscripts(context.Background(), "r1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Alice Cooper", entries[0].ParticipantName)
}
