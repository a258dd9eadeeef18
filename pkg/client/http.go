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

	"github.com/nobletooth/sica/pkg/wire"
)

// HTTP sends requests to the HTTP surface.
type HTTP struct {
	baseURL string // Server origin plus the route prefix, e.g. http://localhost:4444/cache.
	client  *http.Client
}

var _ Transport = (*HTTP)(nil)

// NewHTTP creates an HTTP transport; a nil `client` means http.DefaultClient.
func NewHTTP(baseURL string, client *http.Client) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTP{baseURL: strings.TrimSuffix(baseURL, "/"), client: client}
}

// newRequest maps a wire request onto its route.
func (h *HTTP) newRequest(ctx context.Context, req wire.Request) (*http.Request, error) {
	query := url.Values{}
	if req.UserID != "" {
		query.Set("user_id", req.UserID)
	}
	if req.TTL != nil {
		query.Set("ttl", fmt.Sprint(req.TTL))
	}

	var method, path string
	var body io.Reader
	switch req.Operation {
	case wire.OpAdd:
		encoded, err := json.Marshal(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", wire.ErrProtocol, err)
		}
		method, path, body = http.MethodPost, "/api/add", bytes.NewReader(encoded)
		query = url.Values{}
	case wire.OpGet:
		method, path = http.MethodGet, "/api/get/"+url.PathEscape(req.Key)
		if req.Key == "" && req.TypeTag != "" {
			query.Set("type_tag", req.TypeTag)
		}
		if req.ResetTTL {
			query.Set("reset_ttl", strconv.FormatBool(req.ResetTTL))
		}
	case wire.OpRemove:
		method, path = http.MethodDelete, "/api/remove/"+url.PathEscape(req.Key)
	case wire.OpReset:
		method, path = http.MethodPut, "/api/reset/"+url.PathEscape(req.Key)
	default:
		return nil, fmt.Errorf("%w: %s is not a valid operation", wire.ErrProtocol, req.Operation)
	}

	target := h.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", wire.ErrProtocol, err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	return httpReq, nil
}

// RoundTrip implements Transport.
func (h *HTTP) RoundTrip(ctx context.Context, req wire.Request) (wire.Response, error) {
	httpReq, err := h.newRequest(ctx, req)
	if err != nil {
		return transportFailure(err), err
	}
	httpResp, err := h.client.Do(httpReq)
	if err != nil {
		err = fmt.Errorf("%w: %w", wire.ErrTransport, err)
		return transportFailure(err), err
	}
	defer func() { _ = httpResp.Body.Close() }()

	var resp wire.Response
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		err = fmt.Errorf("%w: status %s: %w", wire.ErrProtocol, httpResp.Status, err)
		return transportFailure(err), err
	}
	return resp, nil
}
