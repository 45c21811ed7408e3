// Package client is the HTTP gateway to a canalworks server. It satisfies
// workflow.Gateway, hierarchy.Loader and dupguard.NameSource, so a form can
// be edited and submitted from outside the server process.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/matthewbaird/canalworks/internal/errors"
	"github.com/matthewbaird/canalworks/internal/types"
)

// Client calls the work package API.
type Client struct {
	baseURL       string
	actor         string
	source        string
	correlationID string
	http          *http.Client
	logger        *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithSource sets the X-Source header. The default is "user".
func WithSource(source string) Option {
	return func(c *Client) { c.source = source }
}

// New creates a Client for the server at baseURL acting as actor. timeout
// bounds every request; zero means no timeout.
func New(baseURL, actor string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		actor:   actor,
		source:  "user",
		http:    &http.Client{Timeout: timeout},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithCorrelation returns a copy of c that tags every request with id.
func (c *Client) WithCorrelation(id string) *Client {
	cp := *c
	cp.correlationID = id
	return &cp
}

// ---------------------------------------------------------------------------
// Writes
// ---------------------------------------------------------------------------

func (c *Client) CreateWork(ctx context.Context, w types.Work) (int64, error) {
	var out struct {
		ID int64 `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/works", w, &out); err != nil {
		return 0, err
	}
	if out.ID <= 0 {
		return 0, apperrors.New(apperrors.CodeInternal, "server returned no work id")
	}
	return out.ID, nil
}

func (c *Client) CreateBeneficiary(ctx context.Context, workID int64, b types.Beneficiary) error {
	return c.do(ctx, http.MethodPost, workPath(workID, "beneficiary"), b, nil)
}

func (c *Client) CreateVillages(ctx context.Context, workID int64, villages []types.Village) error {
	body := struct {
		Villages []types.Village `json:"villages"`
	}{villages}
	return c.do(ctx, http.MethodPost, workPath(workID, "villages"), body, nil)
}

func (c *Client) CreateComponents(ctx context.Context, workID int64, components []types.CostComponent) error {
	body := struct {
		Components []types.CostComponent `json:"components"`
	}{components}
	return c.do(ctx, http.MethodPost, workPath(workID, "components"), body, nil)
}

func (c *Client) DeleteWork(ctx context.Context, workID int64) error {
	return c.do(ctx, http.MethodDelete, workPath(workID, ""), nil, nil)
}

// CreateWorkPackage sends the whole aggregate to the transactional endpoint.
func (c *Client) CreateWorkPackage(ctx context.Context, pkg types.WorkPackage) (int64, error) {
	var out struct {
		ID int64 `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/work-packages", pkg, &out); err != nil {
		return 0, err
	}
	return out.ID, nil
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

func (c *Client) Options(ctx context.Context, level types.Level, parentID *int64) ([]types.Option, error) {
	path := "/v1/options/" + url.PathEscape(string(level))
	if parentID != nil {
		path += "?parent_id=" + strconv.FormatInt(*parentID, 10)
	}
	var out struct {
		Options []types.Option `json:"options"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Options, nil
}

// WorkNames lists every stored work name.
func (c *Client) WorkNames(ctx context.Context) ([]string, error) {
	var out struct {
		Names []string `json:"names"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/work-names", nil, &out); err != nil {
		return nil, err
	}
	return out.Names, nil
}

func (c *Client) GetWorkPackage(ctx context.Context, id int64) (types.WorkPackage, error) {
	var pkg types.WorkPackage
	err := c.do(ctx, http.MethodGet, workPath(id, ""), nil, &pkg)
	return pkg, err
}

func workPath(id int64, sub string) string {
	p := "/v1/works/" + strconv.FormatInt(id, 10)
	if sub != "" {
		p += "/" + sub
	}
	return p
}

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

type errorBody struct {
	Code   apperrors.Code    `json:"code"`
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeInternal, "encoding request", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeInternal, "building request", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Actor", c.actor)
	req.Header.Set("X-Source", c.source)
	if c.correlationID != "" {
		req.Header.Set("X-Correlation-ID", c.correlationID)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeTransport, fmt.Sprintf("%s %s: %v", method, path, err), err)
	}
	defer resp.Body.Close()
	c.logger.Debug("gateway call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeTransport, "reading response", err)
	}
	if resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, raw)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperrors.Wrap(apperrors.CodeTransport, "decoding response", err)
	}
	return nil
}

// decodeError turns an error response into a typed error. Bodies without a
// code are classified from their text.
func decodeError(status int, raw []byte) error {
	var body errorBody
	if err := json.Unmarshal(raw, &body); err == nil && body.Code != "" {
		return apperrors.WithMetadata(body.Code, body.Error, body.Fields)
	}
	msg := strings.TrimSpace(string(raw))
	if body.Error != "" {
		msg = body.Error
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	code := apperrors.ClassifyMessage(msg)
	if code == apperrors.CodeUnknown && status >= 500 {
		code = apperrors.CodeInternal
	}
	return apperrors.New(code, msg)
}
