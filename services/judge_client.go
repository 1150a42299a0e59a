// services/judge_client.go
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const winnerSystemPrompt = `Act as an impartial arbiter and negotiation expert. Your task is to analyze a dialogue between two players and decide who won this round.

Analysis instructions:
- Evaluate each player's outcome against their stated interests
- Consider not just the final agreement but the process: negotiation techniques, argumentation, emotional control
- Compare both sides' results
- Deliver a verdict. You must name a winner; a draw is not allowed. If you cannot decide, pick the player with more words.

Output format (FOLLOW STRICTLY):
Verdict: [who won: Player 1 (Role X) or Player 2 (Role Y)].
Reasoning: (2-3 short points)
Decisive factor: [main reason]`

// ErrJudgeUnavailable is returned when a request has exhausted its retries.
var ErrJudgeUnavailable = errors.New("judgment provider unavailable")

var errUnauthorized = errors.New("judgment provider rejected the token")

type judgeRequest struct {
	ctx          context.Context
	systemPrompt string
	userPrompt   string
	reply        chan judgeReply
}

type judgeReply struct {
	answer string
	err    error
}

// AnalysisClient serializes all traffic to the external judgment service:
// a single consumer drains a FIFO queue so only one request is in flight at a
// time, respecting the provider's rate limits. Transient failures are retried
// with capped exponential backoff plus jitter; authorization failures drop the
// cached token so the next attempt re-authenticates.
type AnalysisClient struct {
	AuthKey       string
	OAuthURL      string
	CompletionURL string
	Model         string
	Scope         string
	Client        *http.Client

	MaxRetries    int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration

	queue chan *judgeRequest
	stop  chan struct{}
	done  chan struct{}

	// injectable for tests
	sleep func(ctx context.Context, d time.Duration) bool

	mu           sync.Mutex
	token        string
	tokenExpires time.Time
}

func NewAnalysisClient(authKey, oauthURL, completionURL string) *AnalysisClient {
	return &AnalysisClient{
		AuthKey:       authKey,
		OAuthURL:      oauthURL,
		CompletionURL: completionURL,
		Model:         "GigaChat-2-Max",
		Scope:         "GIGACHAT_API_CORP",
		Client: &http.Client{
			Timeout: 60 * time.Second,
		},
		MaxRetries:    3,
		RetryDelay:    time.Second,
		MaxRetryDelay: 10 * time.Second,
		queue:         make(chan *judgeRequest, 64),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
		sleep:         sleepCtx,
	}
}

// Start launches the queue consumer. Call once at boot.
func (c *AnalysisClient) Start() {
	go c.run()
}

// Stop drains nothing: it halts the consumer after the in-flight request.
func (c *AnalysisClient) Stop() {
	close(c.stop)
	<-c.done
}

// AnalyzeWinner submits a transcript plus case context and returns the
// verdict text. Blocks until the serialized queue reaches this request.
func (c *AnalysisClient) AnalyzeWinner(ctx context.Context, transcript, caseContext string) (string, error) {
	userPrompt := fmt.Sprintf(
		"Case context:\n%s\n\nDialogue to analyze:\n%s\n\nAnalyze this dialogue and name the winner.",
		caseContext, transcript,
	)
	return c.ask(ctx, winnerSystemPrompt, userPrompt)
}

func (c *AnalysisClient) ask(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	req := &judgeRequest{
		ctx:          ctx,
		systemPrompt: systemPrompt,
		userPrompt:   userPrompt,
		reply:        make(chan judgeReply, 1),
	}

	select {
	case c.queue <- req:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case r := <-req.reply:
		return r.answer, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *AnalysisClient) run() {
	defer close(c.done)
	for {
		select {
		case <-c.stop:
			return
		case req := <-c.queue:
			answer, err := c.completeWithRetry(req.ctx, req.systemPrompt, req.userPrompt)
			req.reply <- judgeReply{answer: answer, err: err}
			// small pause between requests to stay under the rate limit
			c.sleep(req.ctx, 500*time.Millisecond)
		}
	}
}

func (c *AnalysisClient) completeWithRetry(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	var lastErr error
	attempts := c.MaxRetries
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if !c.sleep(ctx, c.retryDelay(attempt)) {
				return "", ctx.Err()
			}
		}

		answer, err := c.complete(ctx, systemPrompt, userPrompt)
		if err == nil {
			return answer, nil
		}
		lastErr = err

		if errors.Is(err, errUnauthorized) {
			log.Printf("[Judge] Authorization failure, invalidating cached token (attempt %d/%d)", attempt+1, attempts)
			c.invalidateToken()
			// a stale token is not the request's fault: grant one extra
			// attempt with a fresh token, once
			if attempts == c.MaxRetries {
				attempts++
			}
		} else {
			log.Printf("[Judge] Request failed (attempt %d/%d): %v", attempt+1, attempts, err)
		}
	}
	return "", fmt.Errorf("%w: %d attempts: %v", ErrJudgeUnavailable, attempts, lastErr)
}

func (c *AnalysisClient) retryDelay(attempt int) time.Duration {
	delay := c.RetryDelay*time.Duration(1<<attempt) + time.Duration(rand.Int63n(int64(time.Second)))
	if delay > c.MaxRetryDelay {
		delay = c.MaxRetryDelay
	}
	return delay
}

func (c *AnalysisClient) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.tokenExpires = time.Time{}
	c.mu.Unlock()
}

func (c *AnalysisClient) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpires) {
		return c.token, nil
	}

	form := url.Values{"scope": {c.Scope}}
	req, err := http.NewRequestWithContext(ctx, "POST", c.OAuthURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Basic "+c.AuthKey)
	req.Header.Set("RqUID", uuid.NewString())
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode token response: %w", err)
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("token endpoint returned no access_token")
	}

	c.token = out.AccessToken
	// cache for 30 minutes, comfortably under the provider's real TTL
	c.tokenExpires = time.Now().Add(30 * time.Minute)
	return c.token, nil
}

func (c *AnalysisClient) complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return "", err
	}

	payload := map[string]interface{}{
		"model": c.Model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt},
		},
		"temperature": 0,
		"max_tokens":  1024,
		"stream":      false,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.CompletionURL, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", errUnauthorized
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("rate limited by judgment provider")
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("completion returned %d: %s", resp.StatusCode, string(body))
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode completion response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("completion response has no choices")
	}
	return out.Choices[0].Message.Content, nil
}
