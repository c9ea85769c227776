package official

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"content_harvester/internal/domain"
	"content_harvester/internal/source"
)

const (
	Name = "Official API v2"

	minResults = 10
	maxResults = 100

	tweetFields = "created_at,lang,author_id,in_reply_to_user_id,public_metrics,entities,referenced_tweets"
	userFields  = "username,name,verified,public_metrics"
)

// Client implements source.Client for the v2 API. Author data comes from
// the includes.users expansion.
type Client struct {
	transport *source.Transport
	logger    *slog.Logger
}

var _ source.Client = (*Client)(nil)

func New(cfg source.Config, logger *slog.Logger) *Client {
	logger = logger.With("provider", source.ProviderOfficial)
	return &Client{
		transport: source.NewTransport(cfg, logger),
		logger:    logger,
	}
}

func (c *Client) Name() string {
	return Name
}

func (c *Client) Search(ctx context.Context, q source.Query) (*domain.FetchResult, error) {
	limit := q.Limit
	if limit < minResults {
		limit = minResults
	}
	if limit > maxResults {
		limit = maxResults
	}

	query := q.Term
	if q.Lang != "" {
		query += " lang:" + q.Lang
	}

	params := baseParams()
	params.Set("query", query)
	params.Set("max_results", strconv.Itoa(limit))

	body, err := c.transport.GetJSON(ctx, "/tweets/search/recent", params)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", q.Term, err)
	}

	var resp searchResponse
	if err := source.Decode(body, &resp); err != nil {
		return nil, fmt.Errorf("search %q: %w", q.Term, err)
	}

	users := indexUsers(resp.Includes.Users)
	result := &domain.FetchResult{
		Records: make([]domain.ContentRecord, 0, len(resp.Data)),
	}
	for _, raw := range resp.Data {
		// The API floor on max_results can return more than asked for.
		if q.Limit > 0 && len(result.Records) == q.Limit {
			break
		}
		record, err := mapTweet(raw, users)
		if err != nil {
			c.logger.Warn("skipping malformed record", "term", q.Term, "error", err)
			result.Malformed++
			continue
		}
		result.Records = append(result.Records, *record)
	}

	return result, nil
}

func (c *Client) FetchByID(ctx context.Context, id string) (*domain.ContentRecord, error) {
	body, err := c.transport.GetJSON(ctx, "/tweets/"+url.PathEscape(id), baseParams())
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", id, err)
	}

	var resp lookupResponse
	if err := source.Decode(body, &resp); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", id, err)
	}

	// v2 answers 200 with an errors array for deleted or unknown ids.
	if len(resp.Data) == 0 || string(resp.Data) == "null" {
		detail := "not found"
		if len(resp.Errors) > 0 {
			detail = resp.Errors[0].Detail
		}
		return nil, fmt.Errorf("fetch %s: %w", id, &source.APIError{StatusCode: http.StatusNotFound, Body: detail})
	}

	return mapTweet(resp.Data, indexUsers(resp.Includes.Users))
}

func baseParams() url.Values {
	params := url.Values{}
	params.Set("tweet.fields", tweetFields)
	params.Set("expansions", "author_id")
	params.Set("user.fields", userFields)
	return params
}

func indexUsers(users []user) map[string]user {
	byID := make(map[string]user, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	return byID
}

func mapTweet(raw json.RawMessage, users map[string]user) (*domain.ContentRecord, error) {
	var tw tweet
	if err := json.Unmarshal(raw, &tw); err != nil {
		return nil, &source.MalformedRecordError{Reason: err.Error()}
	}
	if tw.ID == "" {
		return nil, &source.MalformedRecordError{Reason: "missing id"}
	}

	createdAt, err := time.Parse(time.RFC3339, tw.CreatedAt)
	if err != nil {
		return nil, &source.MalformedRecordError{RecordID: tw.ID, Reason: fmt.Sprintf("bad created_at %q", tw.CreatedAt)}
	}

	author := users[tw.AuthorID]

	record := &domain.ContentRecord{
		RecordID:  tw.ID,
		Text:      tw.Text,
		Lang:      tw.Lang,
		CreatedAt: createdAt.UTC(),
		Author: domain.Author{
			ID:             tw.AuthorID,
			Handle:         author.Username,
			DisplayName:    author.Name,
			Verified:       author.Verified,
			FollowersCount: author.PublicMetrics.FollowersCount,
			FollowingCount: author.PublicMetrics.FollowingCount,
		},
		Engagement: domain.Engagement{
			RepostCount:   tw.PublicMetrics.RetweetCount,
			FavoriteCount: tw.PublicMetrics.LikeCount,
			ReplyCount:    tw.PublicMetrics.ReplyCount,
			QuoteCount:    tw.PublicMetrics.QuoteCount,
		},
		InReplyToUserID: tw.InReplyToUserID,
		Raw:             raw,
	}

	for _, h := range tw.Entities.Hashtags {
		if tag := strings.TrimSpace(h.Tag); tag != "" {
			record.Hashtags = append(record.Hashtags, tag)
		}
	}

	for _, ref := range tw.ReferencedTweets {
		refID := ref.ID
		switch ref.Type {
		case "retweeted":
			record.IsReshare = true
			record.ResharedRecordID = &refID
		case "quoted":
			record.IsQuoted = true
			record.QuotedRecordID = &refID
		case "replied_to":
			record.IsReply = true
			record.InReplyToRecordID = &refID
		}
	}

	return record, nil
}
