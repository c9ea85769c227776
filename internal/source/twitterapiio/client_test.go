package twitterapiio

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"content_harvester/internal/source"
	"content_harvester/internal/testutil"
)

const searchBody = `{
  "statuses": [
    {
      "id_str": "1001",
      "full_text": "first #news item",
      "text": "first",
      "created_at": "Sun Mar 01 12:00:00 +0000 2026",
      "lang": "fa",
      "user": {"id_str": "u1", "screen_name": "alice", "name": "Alice", "followers_count": 5000, "friends_count": 10},
      "retweet_count": 3,
      "favorite_count": 7,
      "entities": {"hashtags": [{"text": "news"}]},
      "in_reply_to_status_id_str": "999",
      "in_reply_to_screen_name": "bob"
    },
    {
      "id": 1002,
      "text": "a reshare",
      "created_at": "Sun Mar 01 13:00:00 +0000 2026",
      "user": {"id": 42, "screen_name": "carol"},
      "retweeted_status": {"id_str": "900"},
      "is_quote_status": true,
      "quoted_status_id_str": "800"
    },
    {"id_str": "1003", "created_at": "not a date"},
    {"text": "no id"}
  ]
}`

func newClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return New(source.Config{
		BaseURL:        srv.URL,
		APIKey:         "secret",
		Timeout:        5 * time.Second,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}, testutil.Logger())
}

func TestSearch_MapsRecords(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/tweets.json", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "alpha", r.URL.Query().Get("q"))
		assert.Equal(t, "50", r.URL.Query().Get("count"))
		assert.Equal(t, "fa", r.URL.Query().Get("lang"))
		assert.Equal(t, "recent", r.URL.Query().Get("result_type"))
		_, _ = w.Write([]byte(searchBody))
	})

	result, err := client.Search(context.Background(), source.Query{Term: "alpha", Limit: 50, Lang: "fa"})
	require.NoError(t, err)

	require.Len(t, result.Records, 2)
	assert.Equal(t, 2, result.Malformed)

	first := result.Records[0]
	assert.Equal(t, "1001", first.RecordID)
	assert.Equal(t, "first #news item", first.Text)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), first.CreatedAt)
	assert.Equal(t, "alice", first.Author.Handle)
	assert.EqualValues(t, 5000, first.Author.FollowersCount)
	assert.EqualValues(t, 3, first.Engagement.RepostCount)
	assert.Equal(t, []string{"news"}, first.Hashtags)
	assert.True(t, first.IsReply)
	assert.Equal(t, "999", *first.InReplyToRecordID)
	assert.False(t, first.IsReshare)
	assert.NotEmpty(t, first.Raw)

	second := result.Records[1]
	assert.Equal(t, "1002", second.RecordID)
	assert.Equal(t, "42", second.Author.ID)
	assert.True(t, second.IsReshare)
	assert.Equal(t, "900", *second.ResharedRecordID)
	assert.True(t, second.IsQuoted)
	assert.Equal(t, "800", *second.QuotedRecordID)
}

func TestSearch_ClampsCount(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "100", r.URL.Query().Get("count"))
		_, _ = w.Write([]byte(`{"statuses": []}`))
	})

	result, err := client.Search(context.Background(), source.Query{Term: "alpha", Limit: 500})
	require.NoError(t, err)
	assert.Empty(t, result.Records)
}

func TestSearch_ServerErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.Search(context.Background(), source.Query{Term: "alpha"})

	var apiErr *source.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.True(t, source.IsTransient(err))
	assert.EqualValues(t, 1, calls.Load())
}

func TestSearch_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": "bad query"}`))
	})

	_, err := client.Search(context.Background(), source.Query{Term: "alpha"})

	var apiErr *source.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.False(t, source.IsTransient(err))
	assert.EqualValues(t, 1, calls.Load())
}

func TestSearch_RateLimitedExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.Search(context.Background(), source.Query{Term: "alpha"})

	assert.True(t, source.IsTransient(err))
	assert.EqualValues(t, 3, calls.Load())
}

func TestSearch_MalformedPayload(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"statuses": `))
	})

	_, err := client.Search(context.Background(), source.Query{Term: "alpha"})

	assert.ErrorIs(t, err, source.ErrMalformedPayload)
	assert.False(t, source.IsTransient(err))
}

func TestSearch_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	client := New(source.Config{BaseURL: srv.URL, MaxAttempts: 1}, testutil.Logger())

	_, err := client.Search(context.Background(), source.Query{Term: "alpha"})

	assert.ErrorIs(t, err, source.ErrConnectivity)
	assert.True(t, source.IsTransient(err))
}

func TestFetchByID(t *testing.T) {
	client := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/statuses/show.json", r.URL.Path)
		switch r.URL.Query().Get("id") {
		case "1001":
			_, _ = w.Write([]byte(`{"id_str": "1001", "full_text": "hello", "created_at": "Sun Mar 01 12:00:00 +0000 2026", "favorite_count": 120}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	record, err := client.FetchByID(context.Background(), "1001")
	require.NoError(t, err)
	assert.Equal(t, "hello", record.Text)
	assert.EqualValues(t, 120, record.Engagement.FavoriteCount)

	_, err = client.FetchByID(context.Background(), "404")
	assert.True(t, source.IsNotFound(err))
}

func TestMapStatus_Malformed(t *testing.T) {
	_, err := mapStatus([]byte(`{"id_str": "1", "created_at": "yesterday"}`))

	var malformed *source.MalformedRecordError
	require.True(t, errors.As(err, &malformed))
	assert.Equal(t, "1", malformed.RecordID)
}

func TestMapStatus_NumericReferenceIDs(t *testing.T) {
	record, err := mapStatus([]byte(`{
		"id": 1005,
		"created_at": "Sun Mar 01 12:00:00 +0000 2026",
		"in_reply_to_status_id": 42,
		"in_reply_to_user_id": 7,
		"quoted_status_id": 43
	}`))
	require.NoError(t, err)

	assert.True(t, record.IsReply)
	require.NotNil(t, record.InReplyToRecordID)
	assert.Equal(t, "42", *record.InReplyToRecordID)
	require.NotNil(t, record.InReplyToUserID)
	assert.Equal(t, "7", *record.InReplyToUserID)
	assert.True(t, record.IsQuoted)
	require.NotNil(t, record.QuotedRecordID)
	assert.Equal(t, "43", *record.QuotedRecordID)
}

func TestMapStatus_NullReferenceIDs(t *testing.T) {
	record, err := mapStatus([]byte(`{
		"id_str": "1006",
		"created_at": "Sun Mar 01 12:00:00 +0000 2026",
		"in_reply_to_status_id": null,
		"in_reply_to_status_id_str": null
	}`))
	require.NoError(t, err)

	assert.False(t, record.IsReply)
	assert.Nil(t, record.InReplyToRecordID)
	assert.False(t, record.IsQuoted)
}
