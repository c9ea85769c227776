package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"content_harvester/internal/domain"
)

var recordColumns = []string{
	"record_id", "text", "lang", "created_at",
	"author_id", "author_handle", "author_name", "author_verified",
	"author_followers_count", "author_following_count",
	"repost_count", "favorite_count", "reply_count", "quote_count",
	"hashtags", "is_reshare", "is_quoted", "is_reply",
	"reshared_record_id", "quoted_record_id", "in_reply_to_record_id",
	"in_reply_to_user_id", "in_reply_to_handle",
	"importance_score", "matched_terms", "raw", "ingested_at", "updated_at",
}

type recordRow struct {
	RecordID          string         `db:"record_id"`
	Text              string         `db:"text"`
	Lang              string         `db:"lang"`
	CreatedAt         time.Time      `db:"created_at"`
	AuthorID          string         `db:"author_id"`
	AuthorHandle      string         `db:"author_handle"`
	AuthorName        string         `db:"author_name"`
	AuthorVerified    bool           `db:"author_verified"`
	AuthorFollowers   int64          `db:"author_followers_count"`
	AuthorFollowing   int64          `db:"author_following_count"`
	RepostCount       int64          `db:"repost_count"`
	FavoriteCount     int64          `db:"favorite_count"`
	ReplyCount        int64          `db:"reply_count"`
	QuoteCount        int64          `db:"quote_count"`
	Hashtags          pq.StringArray `db:"hashtags"`
	IsReshare         bool           `db:"is_reshare"`
	IsQuoted          bool           `db:"is_quoted"`
	IsReply           bool           `db:"is_reply"`
	ResharedRecordID  sql.NullString `db:"reshared_record_id"`
	QuotedRecordID    sql.NullString `db:"quoted_record_id"`
	InReplyToRecordID sql.NullString `db:"in_reply_to_record_id"`
	InReplyToUserID   sql.NullString `db:"in_reply_to_user_id"`
	InReplyToHandle   sql.NullString `db:"in_reply_to_handle"`
	ImportanceScore   float64        `db:"importance_score"`
	MatchedTerms      pq.StringArray `db:"matched_terms"`
	Raw               []byte         `db:"raw"`
	IngestedAt        time.Time      `db:"ingested_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

func (r recordRow) toDomain() domain.ContentRecord {
	return domain.ContentRecord{
		RecordID:  r.RecordID,
		Text:      r.Text,
		Lang:      r.Lang,
		CreatedAt: r.CreatedAt,
		Author: domain.Author{
			ID:             r.AuthorID,
			Handle:         r.AuthorHandle,
			DisplayName:    r.AuthorName,
			Verified:       r.AuthorVerified,
			FollowersCount: r.AuthorFollowers,
			FollowingCount: r.AuthorFollowing,
		},
		Engagement: domain.Engagement{
			RepostCount:   r.RepostCount,
			FavoriteCount: r.FavoriteCount,
			ReplyCount:    r.ReplyCount,
			QuoteCount:    r.QuoteCount,
		},
		Hashtags:          []string(r.Hashtags),
		IsReshare:         r.IsReshare,
		IsQuoted:          r.IsQuoted,
		IsReply:           r.IsReply,
		ResharedRecordID:  nullString(r.ResharedRecordID),
		QuotedRecordID:    nullString(r.QuotedRecordID),
		InReplyToRecordID: nullString(r.InReplyToRecordID),
		InReplyToUserID:   nullString(r.InReplyToUserID),
		InReplyToHandle:   nullString(r.InReplyToHandle),
		ImportanceScore:   r.ImportanceScore,
		MatchedTerms:      []string(r.MatchedTerms),
		Raw:               r.Raw,
		IngestedAt:        r.IngestedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

type RecordStore struct {
	db *sqlx.DB
}

func NewRecordStore(db *sqlx.DB) *RecordStore {
	return &RecordStore{db: db}
}

// upsertQuery inserts a record or merges it into the existing row in one
// statement. Text, author and created_at keep their first-seen values;
// matched_terms becomes the sorted union of old and new terms.
const upsertQuery = `
	INSERT INTO content_records (
		record_id, text, lang, created_at,
		author_id, author_handle, author_name, author_verified,
		author_followers_count, author_following_count,
		repost_count, favorite_count, reply_count, quote_count,
		hashtags, is_reshare, is_quoted, is_reply,
		reshared_record_id, quoted_record_id, in_reply_to_record_id,
		in_reply_to_user_id, in_reply_to_handle,
		importance_score, matched_terms, raw, ingested_at, updated_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		$15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, NOW(), NOW()
	)
	ON CONFLICT (record_id) DO UPDATE SET
		repost_count = EXCLUDED.repost_count,
		favorite_count = EXCLUDED.favorite_count,
		reply_count = EXCLUDED.reply_count,
		quote_count = EXCLUDED.quote_count,
		importance_score = EXCLUDED.importance_score,
		matched_terms = ARRAY(
			SELECT DISTINCT t
			FROM unnest(content_records.matched_terms || EXCLUDED.matched_terms) AS t
			ORDER BY t
		),
		updated_at = NOW()
	RETURNING (xmax = 0) AS inserted`

func (s *RecordStore) Upsert(ctx context.Context, record *domain.ContentRecord) (bool, error) {
	var inserted bool
	err := GetExecutor(ctx, s.db).QueryRowxContext(ctx, upsertQuery,
		record.RecordID,
		record.Text,
		record.Lang,
		record.CreatedAt,
		record.Author.ID,
		record.Author.Handle,
		record.Author.DisplayName,
		record.Author.Verified,
		record.Author.FollowersCount,
		record.Author.FollowingCount,
		record.Engagement.RepostCount,
		record.Engagement.FavoriteCount,
		record.Engagement.ReplyCount,
		record.Engagement.QuoteCount,
		nonNil(record.Hashtags),
		record.IsReshare,
		record.IsQuoted,
		record.IsReply,
		record.ResharedRecordID,
		record.QuotedRecordID,
		record.InReplyToRecordID,
		record.InReplyToUserID,
		record.InReplyToHandle,
		record.ImportanceScore,
		nonNil(record.MatchedTerms),
		nullableJSON(record.Raw),
	).Scan(&inserted)
	if err != nil {
		return false, classify(err)
	}

	return inserted, nil
}

func (s *RecordStore) GetByID(ctx context.Context, id string) (*domain.ContentRecord, error) {
	query, args, err := psql.Select(recordColumns...).
		From("content_records").
		Where(sq.Eq{"record_id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var row recordRow
	if err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRecordNotFound
		}
		return nil, classify(err)
	}

	record := row.toDomain()
	return &record, nil
}

// ListStaleImportant returns records scoring above minScore that were last
// updated before staleBefore, highest score first.
func (s *RecordStore) ListStaleImportant(ctx context.Context, minScore float64, staleBefore time.Time, limit int) ([]domain.ContentRecord, error) {
	builder := psql.Select(recordColumns...).
		From("content_records").
		Where(sq.Gt{"importance_score": minScore}).
		Where(sq.Lt{"updated_at": staleBefore}).
		OrderBy("importance_score DESC", "record_id")
	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}

	return s.selectRecords(ctx, builder)
}

func (s *RecordStore) List(ctx context.Context, filter domain.RecordFilter) ([]domain.ContentRecord, error) {
	builder := psql.Select(recordColumns...).
		From("content_records").
		OrderBy("created_at DESC", "record_id")

	if filter.Term != "" {
		builder = builder.Where(sq.Expr("? = ANY(matched_terms)", filter.Term))
	}
	if filter.MinScore > 0 {
		builder = builder.Where(sq.GtOrEq{"importance_score": filter.MinScore})
	}
	if filter.Limit > 0 {
		builder = builder.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		builder = builder.Offset(filter.Offset)
	}

	return s.selectRecords(ctx, builder)
}

func (s *RecordStore) selectRecords(ctx context.Context, builder sq.SelectBuilder) ([]domain.ContentRecord, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var rows []recordRow
	if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &rows, query, args...); err != nil {
		return nil, classify(err)
	}

	records := make([]domain.ContentRecord, len(rows))
	for i, r := range rows {
		records[i] = r.toDomain()
	}
	return records, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
