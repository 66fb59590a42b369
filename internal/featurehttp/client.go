package featurehttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentworkforce/geoqueue/internal/geoqueue"
)

type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// Client talks to the remote feature backend over REST. It implements
// geoqueue.FeatureStore: per-layer create/update/delete plus layer
// resolution, with bounded retry on 429 and 5xx.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration

	layerMu     sync.RWMutex
	layerCache  map[string]bool
	layerMaxAge time.Duration
	layerAt     map[string]time.Time
}

func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:     baseURL,
		token:       strings.TrimSpace(token),
		httpClient:  httpClient,
		maxRetries:  3,
		baseDelay:   100 * time.Millisecond,
		maxDelay:    2 * time.Second,
		layerCache:  map[string]bool{},
		layerAt:     map[string]time.Time{},
		layerMaxAge: 30 * time.Second,
	}
}

type editRequest struct {
	RemoteID   string            `json:"remoteId,omitempty"`
	Geometry   geoqueue.Geometry `json:"geometry"`
	Attributes *string           `json:"attributes,omitempty"`
}

// ResolveLayer reports whether the backend currently serves the layer.
// Results are cached briefly so replaying a large queue does not issue one
// probe per mutation.
func (c *Client) ResolveLayer(layerID string) bool {
	layerID = strings.TrimSpace(layerID)
	if layerID == "" {
		return false
	}
	c.layerMu.RLock()
	cached, ok := c.layerCache[layerID]
	at := c.layerAt[layerID]
	c.layerMu.RUnlock()
	if ok && time.Since(at) < c.layerMaxAge {
		return cached
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.doJSON(ctx, http.MethodGet, "/v1/layers/"+url.PathEscape(layerID), nil, nil)
	if err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
			c.cacheLayer(layerID, false)
		}
		// Transient backend trouble is not evidence the layer is gone;
		// report unresolved without caching.
		return false
	}
	c.cacheLayer(layerID, true)
	return true
}

func (c *Client) cacheLayer(layerID string, resolved bool) {
	c.layerMu.Lock()
	c.layerCache[layerID] = resolved
	c.layerAt[layerID] = time.Now()
	c.layerMu.Unlock()
}

func (c *Client) Create(ctx context.Context, m geoqueue.Mutation) (geoqueue.EditResult, error) {
	return c.applyEdit(ctx, http.MethodPost, m)
}

func (c *Client) Update(ctx context.Context, m geoqueue.Mutation) (geoqueue.EditResult, error) {
	return c.applyEdit(ctx, http.MethodPut, m)
}

func (c *Client) Delete(ctx context.Context, m geoqueue.Mutation) (geoqueue.EditResult, error) {
	return c.applyEdit(ctx, http.MethodDelete, m)
}

func (c *Client) applyEdit(ctx context.Context, method string, m geoqueue.Mutation) (geoqueue.EditResult, error) {
	body := editRequest{
		RemoteID:   m.RemoteID,
		Geometry:   m.Geometry,
		Attributes: m.Attributes,
	}
	var out geoqueue.EditResult
	path := "/v1/layers/" + url.PathEscape(m.LayerID) + "/features"
	if err := c.doJSON(ctx, method, path, body, &out); err != nil {
		return geoqueue.EditResult{}, err
	}
	return out, nil
}

func (c *Client) doJSON(ctx context.Context, method, requestPath string, body, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		req.Header.Set("X-Correlation-Id", uuid.NewString())
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if attempt < c.maxRetries {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payloadBytes, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payloadBytes) == 0 {
				return nil
			}
			return json.Unmarshal(payloadBytes, out)
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}

		var errPayload struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		_ = json.Unmarshal(payloadBytes, &errPayload)
		return &HTTPError{
			StatusCode: resp.StatusCode,
			Code:       errPayload.Code,
			Message:    errPayload.Message,
		}
	}
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	maxDelay := c.maxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > maxDelay {
			return maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
