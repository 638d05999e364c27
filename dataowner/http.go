package dataowner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/tinfoilsh/e2e-delegation/protocol"
)

// retryLogger adapts logrus to retryablehttp.LeveledLogger
type retryLogger struct {
	log *logrus.Logger
}

func (l retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).Error(msg)
}

func (l retryLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).Trace(msg)
}

func (l retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).Warn(msg)
}

func fields(keysAndValues []interface{}) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		f[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return f
}

// HTTPOptions configures an HTTPDirectory.
type HTTPOptions struct {
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration

	// BearerToken takes precedence over Username/Password.
	BearerToken string
	Username    string
	Password    string

	// HTTPClient is the underlying client; a pooled default is used when nil.
	HTTPClient *http.Client
	Logger     *logrus.Logger
}

// HTTPDirectory is a Directory served by a remote backend over JSON.
type HTTPDirectory struct {
	baseURL string
	client  *retryablehttp.Client
	opts    HTTPOptions
}

var _ Directory = (*HTTPDirectory)(nil)

func NewHTTPDirectory(baseURL string, opts HTTPOptions) (*HTTPDirectory, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse directory URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("directory URL must be http(s), got %q", baseURL)
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	retryClient := retryablehttp.NewClient()
	if opts.HTTPClient != nil {
		retryClient.HTTPClient = opts.HTTPClient
	}
	retryClient.RetryMax = opts.RetryMax
	if opts.RetryWaitMin > 0 {
		retryClient.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		retryClient.RetryWaitMax = opts.RetryWaitMax
	}
	retryClient.Logger = retryLogger{log: opts.Logger}
	retryClient.CheckRetry = checkRetry

	return &HTTPDirectory{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  retryClient,
		opts:    opts,
	}, nil
}

func (d *HTTPDirectory) GetDataOwner(ctx context.Context, id string) (*DataOwner, error) {
	var owner DataOwner
	if err := d.do(ctx, http.MethodGet, d.ownerURL(id), id, nil, &owner); err != nil {
		return nil, err
	}
	return &owner, nil
}

func (d *HTTPDirectory) GetExchangeKeysForDelegate(ctx context.Context, delegateID string) (map[string]string, error) {
	keys := map[string]string{}
	if err := d.do(ctx, http.MethodGet, d.ownerURL(delegateID)+protocol.ExchangeKeysSuffix, delegateID, nil, &keys); err != nil {
		return nil, err
	}
	return keys, nil
}

func (d *HTTPDirectory) UpdateDataOwner(ctx context.Context, owner *DataOwner) (*DataOwner, error) {
	body, err := json.Marshal(owner)
	if err != nil {
		return nil, fmt.Errorf("failed to encode data owner: %w", err)
	}
	var saved DataOwner
	if err := d.do(ctx, http.MethodPut, d.ownerURL(owner.ID), owner.ID, body, &saved); err != nil {
		if IsConflict(err) {
			return nil, ConflictError(owner.ID, owner.Rev)
		}
		return nil, err
	}
	return &saved, nil
}

// checkRetry follows the default policy except for PUTs answered with a
// server error: the write may have been applied, so it is not replayed.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if err == nil && resp != nil && resp.Request != nil &&
		resp.Request.Method == http.MethodPut && resp.StatusCode >= http.StatusInternalServerError {
		return false, nil
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

func (d *HTTPDirectory) ownerURL(id string) string {
	return d.baseURL + protocol.DataOwnerPath + url.PathEscape(id)
}

func (d *HTTPDirectory) do(ctx context.Context, method, target, id string, body []byte, out any) error {
	var reqBody any
	if body != nil {
		reqBody = bytes.NewReader(body)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", protocol.JSONMediaType)
	if body != nil {
		req.Header.Set("Content-Type", protocol.JSONMediaType)
	}
	switch {
	case d.opts.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+d.opts.BearerToken)
	case d.opts.Username != "":
		req.SetBasicAuth(d.opts.Username, d.opts.Password)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("directory %s %s: %w", method, target, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return NotFoundError(id)
	case http.StatusConflict:
		return ConflictError(id, "")
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("directory %s %s returned status %d: %s", method, target, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode directory response: %w", err)
	}
	return nil
}
