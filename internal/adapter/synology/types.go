package synology

import (
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// APIEndpoint contains API path and version information
type APIEndpoint struct {
	Path       string `json:"path"`
	MinVersion int    `json:"minVersion"`
	MaxVersion int    `json:"maxVersion"`
}

// Response is the base response structure from Synology API
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *ErrorInfo      `json:"error,omitempty"`
}

// ErrorInfo contains error details
type ErrorInfo struct {
	Code   int             `json:"code"`
	Errors json.RawMessage `json:"errors,omitempty"`
}

// API error codes shared by every Synology web API
const (
	CodeUnknown          = 100
	CodeInvalidParam     = 101
	CodeNoSuchAPI        = 102
	CodeNoSuchMethod     = 103
	CodeBadVersion       = 104
	CodeNoPermission     = 105
	CodeSessionTimeout   = 106
	CodeDuplicateLogin   = 107
	CodeSessionNotFound  = 119
	CodeDriveNoSuchEntry = 1002
)

var codeText = map[int]string{
	CodeUnknown:          "unknown error",
	CodeInvalidParam:     "invalid parameter",
	CodeNoSuchAPI:        "api does not exist",
	CodeNoSuchMethod:     "method does not exist",
	CodeBadVersion:       "version not supported",
	CodeNoPermission:     "no permission",
	CodeSessionTimeout:   "session timeout",
	CodeDuplicateLogin:   "duplicate login",
	CodeSessionNotFound:  "sid not found",
	CodeDriveNoSuchEntry: "no such file or folder",
}

// APIError is a failed API envelope
type APIError struct {
	Code int
	// Detail overrides the text derived from Code
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	if text, ok := codeText[e.Code]; ok {
		return "synology: " + text
	}
	return "synology: error code " + strconv.Itoa(e.Code)
}

// sessionExpired reports whether a fresh login may fix the call
func (e *APIError) sessionExpired() bool {
	switch e.Code {
	case CodeNoPermission, CodeSessionTimeout, CodeSessionNotFound:
		return true
	}
	return false
}

// DriveFile is an entry returned by the Drive list API
type DriveFile struct {
	ID          json.Number `json:"file_id"`
	Name        string      `json:"name"`
	Path        string      `json:"display_path"`
	ContentType string      `json:"content_type"` // "dir" or "file"
	Size        int64       `json:"size"`
	MTime       int64       `json:"content_mtime"` // Unix seconds
}

// IsDir returns true if the entry is a directory
func (f *DriveFile) IsDir() bool {
	return f.ContentType == "dir"
}

// ModTime returns the content modification time
func (f *DriveFile) ModTime() time.Time {
	return time.Unix(f.MTime, 0).UTC()
}

// DriveListResponse is the response from listing a Drive folder
type DriveListResponse struct {
	Offset int         `json:"offset"`
	Total  int         `json:"total"`
	Items  []DriveFile `json:"items"`
}

// Drive API names
const (
	APIDriveFiles = "SYNO.SynologyDrive.Files"
)

const (
	apiInfoPath = "query.cgi"
	authPath    = "auth.cgi"
	sessionName = "SynologyDrive"
)
