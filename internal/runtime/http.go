package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// Session creation is a cheap bootstrap call; a turn may run several
	// tools remotely before replying, so it gets a much longer budget.
	DefaultCreateTimeout = 15 * time.Second
	DefaultTurnTimeout   = 90 * time.Second
)

// HTTPGateway talks to the remote runtime over its JSON API.
type HTTPGateway struct {
	BaseURL       string
	Tokens        TokenSource
	CreateTimeout time.Duration
	TurnTimeout   time.Duration
	Client        *http.Client
}

func NewHTTPGateway(baseURL string, tokens TokenSource) *HTTPGateway {
	return &HTTPGateway{
		BaseURL:       strings.TrimRight(baseURL, "/"),
		Tokens:        tokens,
		CreateTimeout: DefaultCreateTimeout,
		TurnTimeout:   DefaultTurnTimeout,
		Client:        &http.Client{},
	}
}

type createSessionResp struct {
	SessionID string `json:"session_id"`
	Error     string `json:"error,omitempty"`
}

type runTurnReq struct {
	Text string `json:"text"`
}

type runTurnResp struct {
	Reply     string     `json:"reply"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	Error     string     `json:"error,omitempty"`
}

func (g *HTTPGateway) CreateRemote(ctx context.Context, seed SeedState) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, g.createTimeout())
	defer cancel()

	var decoded createSessionResp
	status, err := g.post(cctx, "/v1/sessions", seed, &decoded)
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", ErrUnreachable
	}
	if decoded.Error != "" || decoded.SessionID == "" {
		return "", ErrUnreachable
	}
	return decoded.SessionID, nil
}

func (g *HTTPGateway) RunTurn(ctx context.Context, remoteSessionID, userText string) (*TurnResult, error) {
	cctx, cancel := context.WithTimeout(ctx, g.turnTimeout())
	defer cancel()

	var decoded runTurnResp
	path := fmt.Sprintf("/v1/sessions/%s/turns", remoteSessionID)
	status, err := g.post(cctx, path, runTurnReq{Text: userText}, &decoded)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusNotFound:
		return nil, ErrNotFound
	case status < 200 || status >= 300:
		return nil, ErrUnreachable
	}
	if decoded.Error != "" {
		return nil, ErrUnreachable
	}
	return &TurnResult{ReplyText: decoded.Reply, ToolCalls: decoded.ToolCalls}, nil
}

// post sends body and decodes a 2xx/404 response into out. Transport
// failures and timeouts collapse into ErrUnreachable: a timed-out call may
// still have had an effect remotely, but locally it is unreachable either
// way.
func (g *HTTPGateway) post(ctx context.Context, path string, body, out any) (int, error) {
	if g.Client == nil {
		return 0, errors.New("runtime: http client is nil")
	}

	token, err := g.Tokens.Token(ctx)
	if err != nil {
		return 0, ErrUnreachable
	}

	b, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.Client.Do(req)
	if err != nil {
		return 0, ErrUnreachable
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return 0, ErrUnreachable
		}
		return resp.StatusCode, nil
	}

	// drain a little so the connection can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4*1024))
	return resp.StatusCode, nil
}

func (g *HTTPGateway) createTimeout() time.Duration {
	if g.CreateTimeout > 0 {
		return g.CreateTimeout
	}
	return DefaultCreateTimeout
}

func (g *HTTPGateway) turnTimeout() time.Duration {
	if g.TurnTimeout > 0 {
		return g.TurnTimeout
	}
	return DefaultTurnTimeout
}
