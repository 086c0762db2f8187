package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/scoreflow/internal/tlsutil"
	"github.com/BaSui01/scoreflow/types"
)

// RemoteBackend delegates scoring to an HTTP scoring service.
type RemoteBackend struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// NewRemoteBackend creates a remote scorer.
func NewRemoteBackend(cfg Config, logger *zap.Logger) *RemoteBackend {
	timeout := cfg.Remote.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RemoteBackend{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(timeout),
		logger: logger.With(zap.String("component", "remote_backend")),
	}
}

type remotePair struct {
	Query    string `json:"query"`
	Document string `json:"document"`
}

type remoteScoreRequest struct {
	Model     string       `json:"model"`
	Pairs     []remotePair `json:"pairs"`
	MaxLength int          `json:"max_length,omitempty"`
}

type remoteScoreResponse struct {
	Model  string    `json:"model"`
	Scores []float64 `json:"scores"`
}

// Load checks that the service answers its health endpoint.
func (b *RemoteBackend) Load(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.url("/health"), nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	b.authorize(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return unavailable("remote scorer unreachable", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return unavailable(fmt.Sprintf("remote scorer health status=%d", resp.StatusCode), nil)
	}
	b.logger.Info("remote scorer reachable", zap.String("base_url", b.cfg.Remote.BaseURL))
	return nil
}

func (b *RemoteBackend) Warmup(ctx context.Context) error {
	_, err := b.score(ctx, []remotePair{{Query: "warmup", Document: "warmup"}}, 0)
	return err
}

func (b *RemoteBackend) Infer(ctx context.Context, batch *types.TokenizedBatch) ([]float64, error) {
	pairs := make([]remotePair, batch.Len())
	for i, p := range batch.Pairs {
		pairs[i] = remotePair{Query: p.Query, Document: p.Document}
	}
	return b.score(ctx, pairs, batch.MaxLength)
}

func (b *RemoteBackend) score(ctx context.Context, pairs []remotePair, maxLen int) ([]float64, error) {
	payload, err := json.Marshal(remoteScoreRequest{Model: b.cfg.Model, Pairs: pairs, MaxLength: maxLen})
	if err != nil {
		return nil, fmt.Errorf("encode score request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.url("/v1/score"), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	b.authorize(req)

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, unavailable("remote score request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, unavailable(fmt.Sprintf("remote score error: status=%d body=%s", resp.StatusCode, string(body)), nil)
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("remote score rejected: status=%d body=%s", resp.StatusCode, string(body))
	}

	var out remoteScoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode score response: %w", err)
	}
	if len(out.Scores) != len(pairs) {
		return nil, fmt.Errorf("remote scorer returned %d scores for %d pairs", len(out.Scores), len(pairs))
	}
	return out.Scores, nil
}

func (b *RemoteBackend) ModelInfo() types.ModelInfo {
	return types.ModelInfo{
		Name:        b.cfg.Model,
		Backend:     KindRemote,
		Device:      "remote",
		MaxSequence: b.cfg.MaxSequence,
	}
}

func (b *RemoteBackend) url(path string) string {
	return strings.TrimRight(b.cfg.Remote.BaseURL, "/") + path
}

func (b *RemoteBackend) authorize(req *http.Request) {
	if b.cfg.Remote.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+b.cfg.Remote.APIKey)
	}
}
