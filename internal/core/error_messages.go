package core

// error_messages.go maps technical errors to user-facing messages.
//
// Codes are grouped by category so users can quote them to support:
//
//	FILE001 - File too large
//	FILE002 - Could not parse the CSV (every load strategy failed)
//	FILE003 - No file selected
//	FILE004 - Invalid multipart form
//	COL001  - Invalid marker color
//	UPL001  - Too many uploads in progress
//	UPL002  - Session expired or unknown
//	UPL003  - Request cancelled
//	UPL004  - Request timed out
//	RATE001 - Rate limited
//	ERR000  - Anything else
//
// Sentinel errors are matched with errors.Is first. Other errors fall back to
// case-insensitive substring patterns, first match wins.

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoFile is returned when an upload request carries no file.
	ErrNoFile = errors.New("no file provided")

	// ErrFileTooLarge is returned when an upload exceeds the configured size.
	ErrFileTooLarge = errors.New("file too large")
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

// LoadFailureMessage is the only message shown when a CSV cannot be loaded.
var LoadFailureMessage = UserMessage{
	Message: "Couldn't parse the CSV.",
	Action:  "Ensure column A is latitude and column B is longitude.",
	Code:    "FILE002",
}

type sentinelMessage struct {
	err error
	msg UserMessage
}

var sentinelMessages = []sentinelMessage{
	{err: ErrLoadFailure, msg: LoadFailureMessage},
	{
		err: ErrFileTooLarge,
		msg: UserMessage{
			Message: "File exceeds the maximum upload size",
			Action:  "Remove unused columns or split the file",
			Code:    "FILE001",
		},
	},
	{
		err: ErrNoFile,
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select a CSV file to upload",
			Code:    "FILE003",
		},
	},
	{
		err: ErrInvalidColor,
		msg: UserMessage{
			Message: "Marker color is not valid",
			Action:  "Use a hex color such as #3388ff",
			Code:    "COL001",
		},
	},
	{
		err: ErrTooManyUploads,
		msg: UserMessage{
			Message: "Too many uploads in progress",
			Action:  "Please wait a moment and try again",
			Code:    "UPL001",
		},
	},
	{
		err: context.Canceled,
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "UPL003",
		},
	},
	{
		err: context.DeadlineExceeded,
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Try a smaller file or check your connection",
			Code:    "UPL004",
		},
	},
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	{
		pattern: "session not found",
		msg: UserMessage{
			Message: "This map session has expired",
			Action:  "Upload the CSV again to start a new session",
			Code:    "UPL002",
		},
	},
	{
		pattern: "invalid form",
		msg: UserMessage{
			Message: "The upload form could not be read",
			Action:  "Reload the page and select the file again",
			Code:    "FILE004",
		},
	},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
// Returns an empty UserMessage for nil.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, sm := range sentinelMessages {
		if errors.Is(err, sm.err) {
			return sm.msg
		}
	}

	lower := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(lower, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates "Message (Code: XXX). Action" for display.
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to something other than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
