// services/conference_client.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ConferenceClient talks to the video-conferencing provider: room lifecycle,
// participant presence and transcript records. Access tokens are obtained
// from the login endpoint with the SDK key and cached slightly short of their
// one-hour lifetime.
type ConferenceClient struct {
	BaseURL string
	SDKKey  string
	Client  *http.Client

	mu           sync.Mutex
	token        string
	tokenExpires time.Time
}

// RoomInfo is the provider's description of a created room.
type RoomInfo struct {
	ID  string `json:"roomId"`
	URL string `json:"roomUrl"`
}

// Participant is one person currently inside a room.
type Participant struct {
	Name string `json:"name"`
}

// TranscriptEntry is one utterance from the provider's transcription stream.
type TranscriptEntry struct {
	ParticipantName string    `json:"participantName"`
	Text            string    `json:"text"`
	CreatedAt       time.Time `json:"createdAt"`
}

func NewConferenceClient(baseURL, sdkKey string) *ConferenceClient {
	return &ConferenceClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		SDKKey:  sdkKey,
		Client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *ConferenceClient) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpires) {
		return c.token, nil
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/v1/auth/login", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.SDKKey)

	resp, err := c.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("conference login failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("conference login returned %d: %s", resp.StatusCode, string(body))
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode login response: %w", err)
	}

	c.token = out.Token
	c.tokenExpires = time.Now().Add(55 * time.Minute)
	return c.token, nil
}

func (c *ConferenceClient) do(ctx context.Context, method, path string, payload interface{}, out interface{}) (int, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return 0, err
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// CreateRoom provisions a new meeting room with transcription enabled.
func (c *ConferenceClient) CreateRoom(ctx context.Context, title string) (*RoomInfo, error) {
	var info RoomInfo
	status, err := c.do(ctx, "POST", "/v1/room/create", map[string]interface{}{
		"roomTitle":                       title,
		"roomType":                        "MEETING",
		"transcriptionAutoStartEnabled":   true,
		"serverVideoRecordAutoStartEnabled": false,
		"summarizationEnabled":            false,
	}, &info)
	if err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}
	if status != http.StatusOK || info.URL == "" {
		return nil, fmt.Errorf("room creation returned status %d", status)
	}
	return &info, nil
}

// DisableRoom invalidates a room so its URL can no longer be joined.
func (c *ConferenceClient) DisableRoom(ctx context.Context, roomID string) error {
	status, err := c.do(ctx, "POST", "/v1/room/"+roomID+"/disable", map[string]interface{}{}, nil)
	if err != nil {
		return fmt.Errorf("failed to disable room %s: %w", roomID, err)
	}
	if status != http.StatusNoContent && status != http.StatusOK {
		return fmt.Errorf("disable room %s returned status %d", roomID, status)
	}
	return nil
}

// GetParticipants lists who is currently inside the room. A 404 means the
// room is empty or gone, which is reported as no participants.
func (c *ConferenceClient) GetParticipants(ctx context.Context, roomID string) ([]Participant, error) {
	var participants []Participant
	status, err := c.do(ctx, "GET", "/v1/room/"+roomID+"/participants", nil, &participants)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("participants for room %s returned status %d", roomID, status)
	}
	return participants, nil
}

// GetTranscripts fetches the transcription records captured in the room.
func (c *ConferenceClient) GetTranscripts(ctx context.Context, roomID string) ([]TranscriptEntry, error) {
	var out struct {
		Transcriptions []TranscriptEntry `json:"transcriptions"`
	}
	status, err := c.do(ctx, "GET", "/v1/room/"+roomID+"/transcriptions", nil, &out)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("transcripts for room %s returned status %d", roomID, status)
	}
	return out.Transcriptions, nil
}

// RoomIDFromURL extracts the provider room ID from a join URL.
func RoomIDFromURL(roomURL string) string {
	trimmed := strings.TrimRight(roomURL, "/")
	tail := trimmed[strings.LastIndex(trimmed, "/")+1:]
	if i := strings.IndexByte(tail, '?'); i >= 0 {
		tail = tail[:i]
	}
	return tail
}

// RotateRoom disables the current room and recreates it under the same name,
// returning the fresh room info. Used after a match so that shared links die.
func (c *ConferenceClient) RotateRoom(ctx context.Context, name, oldURL string) (*RoomInfo, error) {
	oldID := RoomIDFromURL(oldURL)
	if oldID != "" {
		if err := c.DisableRoom(ctx, oldID); err != nil {
			log.Printf("[Conference] Failed to disable room %s: %v", oldID, err)
		}
	}
	return c.CreateRoom(ctx, name)
}
