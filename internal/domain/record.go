package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type Author struct {
	ID             string `json:"id"`
	Handle         string `json:"handle"`
	DisplayName    string `json:"display_name"`
	Verified       bool   `json:"verified"`
	FollowersCount int64  `json:"followers_count"`
	FollowingCount int64  `json:"following_count"`
}

// Engagement counters are overwritten with the latest observed values on every ingest.
type Engagement struct {
	RepostCount   int64 `json:"repost_count"`
	FavoriteCount int64 `json:"favorite_count"`
	ReplyCount    int64 `json:"reply_count"`
	QuoteCount    int64 `json:"quote_count"`
}

type ContentRecord struct {
	RecordID  string    `json:"record_id"`
	Text      string    `json:"text"`
	Lang      string    `json:"lang"`
	CreatedAt time.Time `json:"created_at"`

	Author     Author     `json:"author"`
	Engagement Engagement `json:"engagement"`
	Hashtags   []string   `json:"hashtags"`

	IsReshare         bool    `json:"is_reshare"`
	IsQuoted          bool    `json:"is_quoted"`
	IsReply           bool    `json:"is_reply"`
	ResharedRecordID  *string `json:"reshared_record_id,omitempty"`
	QuotedRecordID    *string `json:"quoted_record_id,omitempty"`
	InReplyToRecordID *string `json:"in_reply_to_record_id,omitempty"`
	InReplyToUserID   *string `json:"in_reply_to_user_id,omitempty"`
	InReplyToHandle   *string `json:"in_reply_to_handle,omitempty"`

	ImportanceScore float64         `json:"importance_score"`
	MatchedTerms    []string        `json:"matched_terms"`
	Raw             json.RawMessage `json:"raw,omitempty"`

	IngestedAt time.Time `json:"ingested_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Validate rejects records that cannot be stored.
func (r *ContentRecord) Validate() error {
	if r.RecordID == "" {
		return fmt.Errorf("record has no id")
	}
	if r.CreatedAt.IsZero() {
		return fmt.Errorf("record %s has no creation time", r.RecordID)
	}
	return nil
}

// FetchResult is one search response mapped to records. Malformed counts raw
// records that could not be mapped and were dropped.
type FetchResult struct {
	Records   []ContentRecord
	Malformed int
}

// IngestResult holds counts from one Ingest call.
type IngestResult struct {
	Inserted int
	Updated  int
	Skipped  int
}

func (r *IngestResult) Add(o IngestResult) {
	r.Inserted += o.Inserted
	r.Updated += o.Updated
	r.Skipped += o.Skipped
}

// RecordFilter narrows record listings.
type RecordFilter struct {
	Term     string
	MinScore float64
	Limit    uint64
	Offset   uint64
}
