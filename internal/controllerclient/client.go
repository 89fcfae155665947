package controllerclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dwizi/switchboard/internal/config"
	"github.com/dwizi/switchboard/internal/dasherr"
	"github.com/dwizi/switchboard/internal/linemask"
)

type Client struct {
	baseURL string
	http    *http.Client
}

type StatusResponse struct {
	Lines []json.RawMessage `json:"lines"`
}

type ToggleResponse struct {
	Mask   linemask.Mask
	Active []int
}

// Snapshot is the result of the two bootstrap reads. Each half carries its
// own error since the controller answers them independently.
type Snapshot struct {
	Lines     []json.RawMessage
	LinesErr  error
	Mask      linemask.Mask
	MaskErr   error
	FetchedAt time.Time
}

func New(cfg config.Config) (*Client, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.TLSSkipVerify,
	}
	if cfg.TLSCAFile != "" {
		caBytes, err := os.ReadFile(cfg.TLSCAFile)
		if err != nil {
			return nil, fmt.Errorf("read controller tls ca file: %w", err)
		}
		certPool := x509.NewCertPool()
		if ok := certPool.AppendCertsFromPEM(caBytes); !ok {
			return nil, fmt.Errorf("parse controller tls ca file")
		}
		tlsConfig.RootCAs = certPool
	}
	if cfg.TLSCertFile != "" || cfg.TLSKeyFile != "" {
		if cfg.TLSCertFile == "" || cfg.TLSKeyFile == "" {
			return nil, fmt.Errorf("both SWITCHBOARD_TLS_CERT_FILE and SWITCHBOARD_TLS_KEY_FILE are required")
		}
		clientCert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load controller tls client cert: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{clientCert}
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.ControllerURL), "/")
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("parse controller url: %w", err)
	}

	timeout := time.Duration(cfg.HTTPTimeoutSec) * time.Second
	if timeout < time.Second {
		timeout = 30 * time.Second
	}

	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: tlsConfig,
			},
			Timeout: timeout,
		},
	}, nil
}

// StreamingHTTPClient shares the transport but drops the request timeout,
// which would otherwise cut the long-lived event stream.
func (c *Client) StreamingHTTPClient() *http.Client {
	if c.http == nil {
		return &http.Client{}
	}
	httpClone := *c.http
	httpClone.Timeout = 0
	return &httpClone
}

func (c *Client) EventsURL() string {
	return c.baseURL + "/events"
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) Status(ctx context.Context) ([]json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/status", nil)
	if err != nil {
		return nil, err
	}
	var response struct {
		Lines json.RawMessage `json:"lines"`
	}
	if err := c.doJSON(req, &response); err != nil {
		return nil, fmt.Errorf("get status: %w", err)
	}
	var lines []json.RawMessage
	if err := json.Unmarshal(response.Lines, &lines); err != nil {
		return nil, fmt.Errorf("get status: %w: lines is not an array", dasherr.ErrTransport)
	}
	return lines, nil
}

func (c *Client) ActiveMask(ctx context.Context) (linemask.Mask, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/active", nil)
	if err != nil {
		return 0, err
	}
	var response struct {
		Mask json.RawMessage `json:"mask"`
	}
	if err := c.doJSON(req, &response); err != nil {
		return 0, fmt.Errorf("get active mask: %w", err)
	}
	mask, err := decodeMask(response.Mask)
	if err != nil {
		return 0, fmt.Errorf("get active mask: %w", err)
	}
	return mask, nil
}

// Snapshot issues both bootstrap reads concurrently and waits for both to
// settle. It fails only when the context is cancelled.
func (c *Client) Snapshot(ctx context.Context) (Snapshot, error) {
	var snapshot Snapshot
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		snapshot.Lines, snapshot.LinesErr = c.Status(groupCtx)
		return nil
	})
	group.Go(func() error {
		snapshot.Mask, snapshot.MaskErr = c.ActiveMask(groupCtx)
		return nil
	})
	_ = group.Wait()
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	snapshot.FetchedAt = time.Now().UTC()
	return snapshot, nil
}

func (c *Client) ToggleActive(ctx context.Context, line int) (ToggleResponse, error) {
	form := url.Values{}
	form.Set("line", strconv.Itoa(line))
	req, err := c.newFormRequest(ctx, "/api/active/toggle", form)
	if err != nil {
		return ToggleResponse{}, err
	}
	var response struct {
		Mask   json.RawMessage `json:"mask"`
		Active []int           `json:"active"`
	}
	if err := c.doJSON(req, &response); err != nil {
		return ToggleResponse{}, fmt.Errorf("toggle line %d: %w", line, err)
	}
	mask, err := decodeMask(response.Mask)
	if err != nil {
		return ToggleResponse{}, fmt.Errorf("toggle line %d: %w", line, err)
	}
	return ToggleResponse{Mask: mask, Active: response.Active}, nil
}

func (c *Client) SetPhone(ctx context.Context, line int, phone string) error {
	form := url.Values{}
	form.Set("line", strconv.Itoa(line))
	form.Set("phone", phone)
	req, err := c.newFormRequest(ctx, "/api/line/phone", form)
	if err != nil {
		return err
	}
	if err := c.doJSON(req, nil); err != nil {
		return fmt.Errorf("set phone for line %d: %w", line, err)
	}
	return nil
}

func (c *Client) SetName(ctx context.Context, line int, name string) error {
	form := url.Values{}
	form.Set("line", strconv.Itoa(line))
	form.Set("name", name)
	req, err := c.newFormRequest(ctx, "/api/line/name", form)
	if err != nil {
		return err
	}
	if err := c.doJSON(req, nil); err != nil {
		return fmt.Errorf("set name for line %d: %w", line, err)
	}
	return nil
}

func (c *Client) newFormRequest(ctx context.Context, path string, form url.Values) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}

func (c *Client) doJSON(req *http.Request, out any) error {
	res, err := c.http.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", dasherr.ErrTransport, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", dasherr.ErrTransport, err)
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		var apiError struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &apiError)
		reason := strings.TrimSpace(apiError.Error)
		if reason == "" {
			reason = "HTTP " + strconv.Itoa(res.StatusCode)
		}
		if classified := dasherr.Classify(reason); classified != nil {
			return fmt.Errorf("%w: %w: %s", dasherr.ErrPersistence, classified, reason)
		}
		return fmt.Errorf("%w: %s", dasherr.ErrPersistence, reason)
	}
	if out == nil {
		return checkErrorBody(body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: non-JSON response: %v", dasherr.ErrTransport, err)
	}
	return nil
}

// checkErrorBody treats a 2xx body that still carries {"error": "..."} as a
// rejected write. Empty and non-JSON bodies count as success.
func checkErrorBody(body []byte) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	var apiError struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(trimmed, &apiError); err != nil {
		return nil
	}
	reason := strings.TrimSpace(apiError.Error)
	if reason == "" {
		return nil
	}
	if classified := dasherr.Classify(reason); classified != nil {
		return fmt.Errorf("%w: %w: %s", dasherr.ErrPersistence, classified, reason)
	}
	return fmt.Errorf("%w: %s", dasherr.ErrPersistence, reason)
}

func decodeMask(raw json.RawMessage) (linemask.Mask, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("%w: missing mask", dasherr.ErrTransport)
	}
	var number json.Number
	if err := json.Unmarshal(raw, &number); err != nil || strings.HasPrefix(strings.TrimSpace(string(raw)), `"`) {
		return 0, fmt.Errorf("%w: mask is not a number", dasherr.ErrTransport)
	}
	value, err := number.Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: mask is not an integer: %s", dasherr.ErrTransport, number.String())
	}
	return linemask.FromInt(value), nil
}
