package output

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/tracepipe/internal/codec"
	"github.com/GriffinCanCode/tracepipe/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/tracepipe/internal/shared/id"
)

// Agent protocol headers.
const (
	HeaderAgentID   = "X-Agent-ID"
	HeaderAuthKey   = "X-Auth-Key"
	HeaderSessionID = "X-Session-ID"
	HeaderTraceID   = "X-Trace-ID"
	HeaderChunkNum  = "X-Chunk-Num"
	HeaderReset     = "X-Reset"
)

// Agent protocol paths.
const (
	PathRegister  = "/agent/register"
	PathAgentData = "/agent/submit/agd"
	PathTraceData = "/agent/submit/trc"
)

// ErrUnauthorized is returned when the collector rejects the auth key.
var ErrUnauthorized = errors.New("collector rejected agent credentials")

// HTTPConfig configures an HTTPTransport.
type HTTPConfig struct {
	URL     string
	AgentID string
	AuthKey string
	Timeout time.Duration
	// Encoding is the Content-Encoding of submitted bodies.
	Encoding string
	// RateLimit caps requests per second; zero is unlimited.
	RateLimit float64
	// RegisterRetries bounds connection-level retries of the register call.
	// Zero selects DefaultRegisterRetries, negative disables them.
	RegisterRetries int
	Logger          *zap.Logger
}

// DefaultRegisterRetries is the register retry bound when none is configured.
const DefaultRegisterRetries = 3

// RegisterResponse is the body returned by the register endpoint.
type RegisterResponse struct {
	SessionID string `json:"session_id"`
}

// HTTPTransport submits agent messages to a collector over HTTP. A session
// is registered on Open and re-registered when the collector forgets it.
type HTTPTransport struct {
	cfg      HTTPConfig
	baseURL  string
	encoding string
	client   *resty.Client
	register *retryablehttp.Client
	limiter  *rate.Limiter
	log      *zap.Logger

	mu      sync.Mutex
	session string
}

// NewHTTPTransport creates a transport for the collector at cfg.URL.
func NewHTTPTransport(cfg HTTPConfig) (*HTTPTransport, error) {
	if cfg.URL == "" {
		return nil, errors.New("collector url is required")
	}
	enc, err := codec.NormalizeEncoding(cfg.Encoding)
	if err != nil {
		return nil, err
	}
	if cfg.AgentID == "" {
		cfg.AgentID = string(id.NewAgentID())
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	switch {
	case cfg.RegisterRetries == 0:
		cfg.RegisterRetries = DefaultRegisterRetries
	case cfg.RegisterRetries < 0:
		cfg.RegisterRetries = 0
	}
	baseURL := strings.TrimRight(cfg.URL, "/")

	// register is retried here on connection errors and 5xx; submit retries
	// are owned by the worker, so resty shares the pooled transport only
	retryClient := retryablehttp.NewClient()
	retryClient.Logger = nil
	retryClient.RetryMax = cfg.RegisterRetries
	retryClient.RetryWaitMin = 50 * time.Millisecond
	retryClient.RetryWaitMax = 2 * time.Second
	retryClient.HTTPClient.Timeout = cfg.Timeout
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("User-Agent", "tracepipe-agent/1.0").
		SetHeader(HeaderAgentID, cfg.AgentID).
		SetTransport(retryClient.HTTPClient.Transport)

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), max(1, int(cfg.RateLimit)))
	}

	return &HTTPTransport{
		cfg:      cfg,
		baseURL:  baseURL,
		encoding: enc,
		client:   client,
		register: retryClient,
		limiter:  limiter,
		log:      log.With(zap.String("transport", "http"), zap.String("agent", cfg.AgentID)),
	}, nil
}

// Session returns the current session ID, empty before Open.
func (t *HTTPTransport) Session() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session
}

func (t *HTTPTransport) request(ctx context.Context) (*resty.Request, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}
	return t.client.R().SetContext(ctx), nil
}

// Open registers a new session.
func (t *HTTPTransport) Open(ctx context.Context) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit error: %w", err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+PathRegister, nil)
	if err != nil {
		return resilience.Permanent(fmt.Errorf("register: %w", err))
	}
	req.Header.Set("User-Agent", "tracepipe-agent/1.0")
	req.Header.Set(HeaderAgentID, t.cfg.AgentID)
	req.Header.Set(HeaderAuthKey, t.cfg.AuthKey)

	resp, err := t.register.Do(req)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("register: read response: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return resilience.Permanent(ErrUnauthorized)
	default:
		return fmt.Errorf("register: unexpected status %d", resp.StatusCode)
	}

	var out RegisterResponse
	if err := sonic.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("register: decode response: %w", err)
	}
	if out.SessionID == "" {
		return errors.New("register: empty session id")
	}

	t.mu.Lock()
	t.session = out.SessionID
	t.mu.Unlock()
	t.log.Info("registered with collector", zap.String("session", out.SessionID))
	return nil
}

// Close forgets the session.
func (t *HTTPTransport) Close() error {
	t.mu.Lock()
	t.session = ""
	t.mu.Unlock()
	return nil
}

// SendAgentData submits symbol definitions. With reset the collector drops
// what the session knew first.
func (t *HTTPTransport) SendAgentData(ctx context.Context, data []byte, reset bool) error {
	headers := map[string]string{}
	if reset {
		headers[HeaderReset] = "true"
	}
	return t.submit(ctx, PathAgentData, headers, data)
}

// SendTraceData submits encoded traces.
func (t *HTTPTransport) SendTraceData(ctx context.Context, traceID id.TraceID, chunkNum int, data []byte) error {
	return t.submit(ctx, PathTraceData, map[string]string{
		HeaderTraceID:  traceID.String(),
		HeaderChunkNum: strconv.Itoa(chunkNum),
	}, data)
}

func (t *HTTPTransport) submit(ctx context.Context, path string, headers map[string]string, data []byte) error {
	body, err := codec.EncodeContent(data, t.encoding)
	if err != nil {
		return resilience.Permanent(err)
	}

	for attempt := 0; ; attempt++ {
		session := t.Session()
		if session == "" {
			if err := t.Open(ctx); err != nil {
				return err
			}
			session = t.Session()
		}

		req, err := t.request(ctx)
		if err != nil {
			return err
		}
		req.SetHeaders(headers).
			SetHeader(HeaderSessionID, session).
			SetHeader("Content-Type", "application/octet-stream").
			SetBody(body)
		if t.encoding != codec.EncodingIdentity {
			req.SetHeader("Content-Encoding", t.encoding)
		}

		resp, err := req.Post(path)
		if err != nil {
			return fmt.Errorf("submit %s: %w", path, err)
		}

		switch code := resp.StatusCode(); {
		case code == http.StatusOK:
			return nil
		case code == http.StatusUnauthorized && attempt == 0:
			// the collector swept the session
			t.log.Info("session expired, registering again", zap.String("session", session))
			_ = t.Close()
			continue
		case code == http.StatusPreconditionFailed:
			return ErrResend
		case code >= 400 && code < 500:
			return resilience.Permanent(fmt.Errorf("submit %s: status %d: %s", path, code, resp.String()))
		default:
			return fmt.Errorf("submit %s: status %d", path, code)
		}
	}
}

var _ Transport = (*HTTPTransport)(nil)
