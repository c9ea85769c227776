package official

import "encoding/json"

type searchResponse struct {
	Data     []json.RawMessage `json:"data"`
	Includes includes          `json:"includes"`
	Meta     struct {
		ResultCount int `json:"result_count"`
	} `json:"meta"`
}

type lookupResponse struct {
	Data     json.RawMessage `json:"data"`
	Includes includes        `json:"includes"`
	Errors   []apiProblem    `json:"errors"`
}

type includes struct {
	Users []user `json:"users"`
}

type apiProblem struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Type   string `json:"type"`
}

type tweet struct {
	ID               string       `json:"id"`
	Text             string       `json:"text"`
	CreatedAt        string       `json:"created_at"`
	Lang             string       `json:"lang"`
	AuthorID         string       `json:"author_id"`
	InReplyToUserID  *string      `json:"in_reply_to_user_id"`
	PublicMetrics    tweetMetrics `json:"public_metrics"`
	Entities         entities     `json:"entities"`
	ReferencedTweets []referenced `json:"referenced_tweets"`
}

type tweetMetrics struct {
	RetweetCount int64 `json:"retweet_count"`
	ReplyCount   int64 `json:"reply_count"`
	LikeCount    int64 `json:"like_count"`
	QuoteCount   int64 `json:"quote_count"`
}

type entities struct {
	Hashtags []struct {
		Tag string `json:"tag"`
	} `json:"hashtags"`
}

type referenced struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type user struct {
	ID            string      `json:"id"`
	Username      string      `json:"username"`
	Name          string      `json:"name"`
	Verified      bool        `json:"verified"`
	PublicMetrics userMetrics `json:"public_metrics"`
}

type userMetrics struct {
	FollowersCount int64 `json:"followers_count"`
	FollowingCount int64 `json:"following_count"`
}
