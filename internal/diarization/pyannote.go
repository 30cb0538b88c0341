package diarization

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/yegors/diarscribe/internal/audio"
	"github.com/yegors/diarscribe/pkg/logger"
)

// PyannoteClient calls an HTTP service that runs the pyannote speaker-diarization
// pipeline. The service receives a WAV body and the Hugging Face token as a bearer
// credential, and answers {"turns":[{"start":..,"end":..,"speaker":".."}]}.
type PyannoteClient struct {
	url        string
	token      string
	httpClient *http.Client
	logger     *logger.Logger
	maxRetries int
	retryDelay time.Duration
}

type pyannoteResponse struct {
	Turns []RawTurn `json:"turns"`
}

// NewPyannoteClient creates a new client. A missing token is a configuration error.
func NewPyannoteClient(config PyannoteConfig, logger *logger.Logger) (*PyannoteClient, error) {
	if config.Token == "" {
		return nil, fmt.Errorf("%w: no Hugging Face token configured (set HF_TOKEN)", ErrDiarizationUnavailable)
	}
	if config.URL == "" {
		return nil, fmt.Errorf("%w: no diarization service url configured", ErrDiarizationUnavailable)
	}
	timeout := time.Duration(config.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}

	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return &PyannoteClient{
		url:   config.URL,
		token: config.Token,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		logger:     logger.Named("pyannote"),
		maxRetries: 3,
		retryDelay: time.Second,
	}, nil
}

// Diarize uploads the audio and returns the raw turns reported by the service.
// Unreachable or unauthenticated services report ErrDiarizationUnavailable at once;
// server-side errors are retried with exponential backoff.
func (c *PyannoteClient) Diarize(ctx context.Context, pcm []float32, sampleRate int) ([]RawTurn, error) {
	var body bytes.Buffer
	if err := audio.EncodeWAV(&body, pcm, sampleRate, 1); err != nil {
		return nil, fmt.Errorf("failed to encode audio: %w", err)
	}
	payload := body.Bytes()

	retryDelay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "audio/wav")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.token)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			var netErr *net.OpError
			if errors.As(err, &netErr) && netErr.Op == "dial" {
				return nil, fmt.Errorf("%w: cannot reach %s: %v", ErrDiarizationUnavailable, c.url, err)
			}
			lastErr = err
		} else {
			turns, retry, err := c.decode(resp)
			if err == nil {
				c.logger.Debug("Diarization service answered",
					logger.Int("turns", len(turns)),
					logger.Int("attempt", attempt+1))
				return turns, nil
			}
			if !retry {
				return nil, err
			}
			lastErr = err
		}

		if attempt == c.maxRetries-1 {
			break
		}

		c.logger.Warn("Retrying diarization request",
			logger.String("url", c.url),
			logger.Int("attempt", attempt+1),
			logger.Int("max_attempts", c.maxRetries),
			logger.Error(lastErr),
		)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay):
			retryDelay *= 2
		}
	}

	return nil, fmt.Errorf("diarization request failed after %d attempts: %w", c.maxRetries, lastErr)
}

// decode reads a service response. retry reports whether the failure is transient.
func (c *PyannoteClient) decode(resp *http.Response) (turns []RawTurn, retry bool, err error) {
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, false, fmt.Errorf("%w: service rejected credentials (status %d)", ErrDiarizationUnavailable, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, true, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	case resp.StatusCode != http.StatusOK:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, false, fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out pyannoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, false, fmt.Errorf("failed to decode diarization response: %w", err)
	}
	return out.Turns, false, nil
}
