package synology

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/vertextoedge/filesync/internal/domain"
)

// ListFolder lists one page of a Drive folder
func (c *Client) ListFolder(ctx context.Context, path string, offset, limit int) (*DriveListResponse, error) {
	apiPath, version, err := c.getAPIPath(ctx, APIDriveFiles)
	if err != nil {
		return nil, err
	}

	params := url.Values{
		"api":            {APIDriveFiles},
		"version":        {strconv.Itoa(version)},
		"method":         {"list"},
		"path":           {path},
		"sort_by":        {"name"},
		"sort_direction": {"asc"},
	}
	if offset > 0 {
		params.Set("offset", strconv.Itoa(offset))
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	resp, err := c.callWithLogin(ctx, apiPath, params)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", path, err)
	}

	var result DriveListResponse
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse list response: %w", err)
	}
	return &result, nil
}

// Download opens the content of a Drive file
func (c *Client) Download(ctx context.Context, path string) (io.ReadCloser, error) {
	apiPath, version, err := c.getAPIPath(ctx, APIDriveFiles)
	if err != nil {
		return nil, err
	}
	if !c.IsLoggedIn() {
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
	}

	files, err := json.Marshal([]string{path})
	if err != nil {
		return nil, err
	}

	params := url.Values{
		"api":     {APIDriveFiles},
		"version": {strconv.Itoa(version)},
		"method":  {"download"},
		"files":   {string(files)},
	}

	resp, err := c.get(ctx, c.downloadClient, c.buildURL(apiPath, params))
	if err != nil {
		return nil, err
	}

	// errors come back as a JSON envelope instead of file content
	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		defer resp.Body.Close()
		if _, err := decodeResponse(resp.Body); err != nil {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.Code == CodeDriveNoSuchEntry {
				return nil, fmt.Errorf("%s: %w", path, domain.ErrSkipFileVanished)
			}
			return nil, err
		}
		return nil, fmt.Errorf("unexpected JSON response downloading %s", path)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return resp.Body, nil
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("%s: %w", path, domain.ErrSkipFileVanished)
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		resp.Body.Close()
		return nil, domain.NewRetryableError(fmt.Errorf("download of %s failed: %s", path, resp.Status), retryAfter(resp))
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("download of %s failed with status: %s", path, resp.Status)
	}
}
