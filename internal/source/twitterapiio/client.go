package twitterapiio

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"content_harvester/internal/domain"
	"content_harvester/internal/source"
)

const (
	Name = "TwitterAPI.io"

	// maxSearchCount is the provider's per-request ceiling.
	maxSearchCount = 100
)

// Client implements source.Client for the v1.1-shaped TwitterAPI.io API.
type Client struct {
	transport *source.Transport
	logger    *slog.Logger
}

var _ source.Client = (*Client)(nil)

func New(cfg source.Config, logger *slog.Logger) *Client {
	logger = logger.With("provider", source.ProviderTwitterAPIIO)
	return &Client{
		transport: source.NewTransport(cfg, logger),
		logger:    logger,
	}
}

func (c *Client) Name() string {
	return Name
}

// Search returns recent records matching q.Term. Entries that cannot be
// mapped are counted in FetchResult.Malformed.
func (c *Client) Search(ctx context.Context, q source.Query) (*domain.FetchResult, error) {
	count := q.Limit
	if count <= 0 || count > maxSearchCount {
		count = maxSearchCount
	}

	params := url.Values{}
	params.Set("q", q.Term)
	params.Set("count", strconv.Itoa(count))
	params.Set("result_type", "recent")
	params.Set("tweet_mode", "extended")
	if q.Lang != "" {
		params.Set("lang", q.Lang)
	}

	body, err := c.transport.GetJSON(ctx, "/search/tweets.json", params)
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", q.Term, err)
	}

	var resp searchResponse
	if err := source.Decode(body, &resp); err != nil {
		return nil, fmt.Errorf("search %q: %w", q.Term, err)
	}

	result := &domain.FetchResult{
		Records: make([]domain.ContentRecord, 0, len(resp.Statuses)),
	}
	for _, raw := range resp.Statuses {
		record, err := mapStatus(raw)
		if err != nil {
			c.logger.Warn("skipping malformed record", "term", q.Term, "error", err)
			result.Malformed++
			continue
		}
		result.Records = append(result.Records, *record)
	}

	c.logger.Debug("search completed",
		"term", q.Term,
		"records", len(result.Records),
		"malformed", result.Malformed,
	)

	return result, nil
}

func (c *Client) FetchByID(ctx context.Context, id string) (*domain.ContentRecord, error) {
	params := url.Values{}
	params.Set("id", id)
	params.Set("tweet_mode", "extended")

	body, err := c.transport.GetJSON(ctx, "/statuses/show.json", params)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", id, err)
	}

	return mapStatus(body)
}

func mapStatus(raw json.RawMessage) (*domain.ContentRecord, error) {
	var st status
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, &source.MalformedRecordError{Reason: err.Error()}
	}

	id := st.IDStr
	if id == "" && st.ID != 0 {
		id = strconv.FormatInt(st.ID, 10)
	}
	if id == "" {
		return nil, &source.MalformedRecordError{Reason: "missing id"}
	}

	createdAt, err := time.Parse(time.RubyDate, st.CreatedAt)
	if err != nil {
		return nil, &source.MalformedRecordError{RecordID: id, Reason: fmt.Sprintf("bad created_at %q", st.CreatedAt)}
	}

	text := st.FullText
	if text == "" {
		text = st.Text
	}

	userID := st.User.IDStr
	if userID == "" && st.User.ID != 0 {
		userID = strconv.FormatInt(st.User.ID, 10)
	}

	record := &domain.ContentRecord{
		RecordID:  id,
		Text:      text,
		Lang:      st.Lang,
		CreatedAt: createdAt.UTC(),
		Author: domain.Author{
			ID:             userID,
			Handle:         st.User.ScreenName,
			DisplayName:    st.User.Name,
			Verified:       st.User.Verified,
			FollowersCount: st.User.FollowersCount,
			FollowingCount: st.User.FriendsCount,
		},
		Engagement: domain.Engagement{
			RepostCount:   st.RetweetCount,
			FavoriteCount: st.FavoriteCount,
			ReplyCount:    st.ReplyCount,
			QuoteCount:    st.QuoteCount,
		},
		QuotedRecordID:    idOf(st.QuotedStatusIDStr, st.QuotedStatusID),
		InReplyToRecordID: idOf(st.InReplyToStatusIDStr, st.InReplyToStatusID),
		InReplyToUserID:   idOf(st.InReplyToUserIDStr, st.InReplyToUserID),
		InReplyToHandle:   st.InReplyToScreenName,
		Raw:               raw,
	}

	for _, h := range st.Entities.Hashtags {
		if h.Text != "" {
			record.Hashtags = append(record.Hashtags, h.Text)
		}
	}

	if st.RetweetedStatus != nil {
		record.IsReshare = true
		refID := st.RetweetedStatus.IDStr
		if refID == "" && st.RetweetedStatus.ID != 0 {
			refID = strconv.FormatInt(st.RetweetedStatus.ID, 10)
		}
		if refID != "" {
			record.ResharedRecordID = &refID
		}
	}
	record.IsQuoted = st.IsQuoteStatus || record.QuotedRecordID != nil
	record.IsReply = record.InReplyToRecordID != nil

	return record, nil
}

// idOf prefers the string form of an id and falls back to the numeric one.
func idOf(str *string, num *int64) *string {
	if str != nil && *str != "" {
		return str
	}
	if num != nil && *num != 0 {
		s := strconv.FormatInt(*num, 10)
		return &s
	}
	return nil
}
