package api

import "time"

// FeedAuthRequest represents the request payload for feed authentication
type FeedAuthRequest struct {
	ClientID  string `json:"client_id" validate:"required"`
	AccessKey string `json:"access_key" validate:"required"`
}

// FeedAuthResponse represents the response payload for feed authentication
type FeedAuthResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	ClientID  string    `json:"client_id"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
