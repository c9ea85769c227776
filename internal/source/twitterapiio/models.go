package twitterapiio

import "encoding/json"

// searchResponse is the v1.1-style search envelope. Statuses are kept raw so
// a single malformed entry can be dropped without losing the rest.
type searchResponse struct {
	Statuses []json.RawMessage `json:"statuses"`
}

type status struct {
	ID            int64    `json:"id"`
	IDStr         string   `json:"id_str"`
	Text          string   `json:"text"`
	FullText      string   `json:"full_text"`
	CreatedAt     string   `json:"created_at"`
	Lang          string   `json:"lang"`
	User          user     `json:"user"`
	RetweetCount  int64    `json:"retweet_count"`
	FavoriteCount int64    `json:"favorite_count"`
	ReplyCount    int64    `json:"reply_count"`
	QuoteCount    int64    `json:"quote_count"`
	Entities      entities `json:"entities"`

	RetweetedStatus      *reference `json:"retweeted_status"`
	IsQuoteStatus        bool       `json:"is_quote_status"`
	QuotedStatusID       *int64     `json:"quoted_status_id"`
	QuotedStatusIDStr    *string    `json:"quoted_status_id_str"`
	InReplyToStatusID    *int64     `json:"in_reply_to_status_id"`
	InReplyToStatusIDStr *string    `json:"in_reply_to_status_id_str"`
	InReplyToUserID      *int64     `json:"in_reply_to_user_id"`
	InReplyToUserIDStr   *string    `json:"in_reply_to_user_id_str"`
	InReplyToScreenName  *string    `json:"in_reply_to_screen_name"`
}

type user struct {
	ID             int64  `json:"id"`
	IDStr          string `json:"id_str"`
	ScreenName     string `json:"screen_name"`
	Name           string `json:"name"`
	Verified       bool   `json:"verified"`
	FollowersCount int64  `json:"followers_count"`
	FriendsCount   int64  `json:"friends_count"`
}

type entities struct {
	Hashtags []hashtag `json:"hashtags"`
}

type hashtag struct {
	Text string `json:"text"`
}

type reference struct {
	ID    int64  `json:"id"`
	IDStr string `json:"id_str"`
}
