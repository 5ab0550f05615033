// Package forward implements the leader-forwarding HTTP client (spec
// §6): the surface RegistryCore calls when the local node is a follower
// and must relay a mutation to the current leader, grounded on
// josephjohncox-WALlaby's confluentRegistry HTTP client (header
// propagation, status-to-error mapping, JSON request/response shapes)
// adapted to the registry's own REST surface and error taxonomy.
package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"schemaregistry/internal/rerrors"
)

// Client forwards mutating requests to the current leader's REST
// service.
type Client struct {
	httpClient *http.Client
}

// New builds a forwarding client with the given per-request timeout.
func New(timeout time.Duration) *Client {
	return &Client{httpClient: &http.Client{Timeout: timeout}}
}

// RegisterSchema forwards a schema registration to leaderBaseURL.
func (c *Client) RegisterSchema(ctx context.Context, leaderBaseURL, subject string, normalize bool, body []byte, headers http.Header) (*http.Response, []byte, error) {
	path := fmt.Sprintf("/subjects/%s/versions", url.PathEscape(subject))
	if normalize {
		path += "?normalize=true"
	}
	return c.do(ctx, http.MethodPost, leaderBaseURL, path, body, headers)
}

// UpdateConfig forwards a config update. An empty subject updates the
// global config.
func (c *Client) UpdateConfig(ctx context.Context, leaderBaseURL, subject string, body []byte, headers http.Header) (*http.Response, []byte, error) {
	path := "/config"
	if subject != "" {
		path = fmt.Sprintf("/config/%s", url.PathEscape(subject))
	}
	return c.do(ctx, http.MethodPut, leaderBaseURL, path, body, headers)
}

// DeleteConfig forwards a subject-config deletion.
func (c *Client) DeleteConfig(ctx context.Context, leaderBaseURL, subject string, headers http.Header) (*http.Response, []byte, error) {
	path := fmt.Sprintf("/config/%s", url.PathEscape(subject))
	return c.do(ctx, http.MethodDelete, leaderBaseURL, path, nil, headers)
}

// DeleteSchemaVersion forwards a version delete.
func (c *Client) DeleteSchemaVersion(ctx context.Context, leaderBaseURL, subject string, version int, permanent bool, headers http.Header) (*http.Response, []byte, error) {
	path := fmt.Sprintf("/subjects/%s/versions/%d", url.PathEscape(subject), version)
	if permanent {
		path += "?permanent=true"
	}
	return c.do(ctx, http.MethodDelete, leaderBaseURL, path, nil, headers)
}

// DeleteSubject forwards a subject delete.
func (c *Client) DeleteSubject(ctx context.Context, leaderBaseURL, subject string, permanent bool, headers http.Header) (*http.Response, []byte, error) {
	path := fmt.Sprintf("/subjects/%s", url.PathEscape(subject))
	if permanent {
		path += "?permanent=true"
	}
	return c.do(ctx, http.MethodDelete, leaderBaseURL, path, nil, headers)
}

// SetMode forwards a mode change for subject, or the global mode when
// subject is empty.
func (c *Client) SetMode(ctx context.Context, leaderBaseURL, subject string, force bool, body []byte, headers http.Header) (*http.Response, []byte, error) {
	path := "/mode"
	if subject != "" {
		path = fmt.Sprintf("/mode/%s", url.PathEscape(subject))
	}
	if force {
		path += "?force=true"
	}
	return c.do(ctx, http.MethodPut, leaderBaseURL, path, body, headers)
}

// DeleteSubjectMode forwards a subject-mode deletion.
func (c *Client) DeleteSubjectMode(ctx context.Context, leaderBaseURL, subject string, headers http.Header) (*http.Response, []byte, error) {
	path := fmt.Sprintf("/mode/%s", url.PathEscape(subject))
	return c.do(ctx, http.MethodDelete, leaderBaseURL, path, nil, headers)
}

func (c *Client) do(ctx context.Context, method, baseURL, path string, body []byte, headers http.Header) (*http.Response, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, reader)
	if err != nil {
		return nil, nil, rerrors.Wrap(rerrors.RequestForwarding, "build forwarded request", err)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/vnd.schemaregistry.v1+json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, rerrors.Wrap(rerrors.RequestForwarding, "forward request to leader", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp, nil, rerrors.Wrap(rerrors.RequestForwarding, "read forwarded response", err)
	}
	return resp, respBody, nil
}

// ErrorResponse mirrors the REST layer's structured error body, decoded
// here so forwarded failures can be re-surfaced with their original
// status and error code intact.
type ErrorResponse struct {
	ErrorCode int    `json:"error_code"`
	Message   string `json:"message"`
}

// DecodeError parses a non-2xx forwarded response body into an error
// carrying the original status/code: a status and error_code pair that
// belongs to a known error kind yields an error of that kind; any other
// response yields a RequestForwarding error.
func DecodeError(status int, body []byte) error {
	var er ErrorResponse
	if err := json.Unmarshal(body, &er); err != nil || er.Message == "" {
		return rerrors.Newf(rerrors.RequestForwarding, "leader returned status %d", status)
	}
	for _, kind := range []rerrors.Kind{
		rerrors.InvalidSchema, rerrors.IncompatibleSchema, rerrors.OperationNotPermitted,
		rerrors.ReferenceExists, rerrors.SchemaTooLarge, rerrors.SubjectNotSoftDeleted,
		rerrors.SchemaVersionNotSoftDeleted, rerrors.NotFound, rerrors.NotLeader,
	} {
		if rerrors.HTTPStatus(kind) == status && rerrors.ErrorCode(kind) == er.ErrorCode {
			return rerrors.New(kind, er.Message)
		}
	}
	return rerrors.Newf(rerrors.RequestForwarding, "leader returned %d: %s", status, er.Message)
}
