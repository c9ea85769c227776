package source

import (
	"context"
	"time"

	"content_harvester/internal/domain"
)

const (
	ProviderTwitterAPIIO = "twitterapi_io"
	ProviderOfficial     = "official"
)

// Client talks to an external content-search API.
type Client interface {
	Name() string
	Search(ctx context.Context, q Query) (*domain.FetchResult, error)
	FetchByID(ctx context.Context, id string) (*domain.ContentRecord, error)
}

// Query is one search request.
type Query struct {
	Term  string
	Limit int
	Lang  string
}

// Config holds settings shared by all provider clients.
type Config struct {
	BaseURL        string
	APIKey         string
	Timeout        time.Duration
	RateLimit      float64
	RateBurst      int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// MaxBodyBytes bounds a single response body; larger bodies are
	// rejected as malformed. Zero means 10 MiB.
	MaxBodyBytes int64
}
