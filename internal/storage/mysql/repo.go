package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"flex_reviews/internal/domain"
)

func valStr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func valTS(p *domain.Timestamp) any {
	if p == nil {
		return nil
	}
	return p.UTC()
}

func tsPtr(t sql.NullTime) *domain.Timestamp {
	if !t.Valid {
		return nil
	}
	ts := domain.NewTimestamp(t.Time)
	return &ts
}

type Repo struct{ db *sql.DB }

func New(db *sql.DB) *Repo { return &Repo{db: db} }

func (r *Repo) UpsertReviews(ctx context.Context, rs []domain.Review) error {
	if len(rs) == 0 {
		return nil
	}
	values := make([]string, 0, len(rs))
	args := make([]any, 0, len(rs)*18)
	for _, rv := range rs {
		cats, _ := json.Marshal(rv.Categories)
		values = append(values, "(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)")
		args = append(args,
			rv.ID,
			rv.ListingID,
			rv.GuestName,
			rv.Comment,
			rv.Rating,
			string(cats),
			string(rv.ReviewType),
			string(rv.Channel),
			rv.Approved,
			valStr(rv.ResponseText),
			valTS(rv.ResponseDate),
			valTS(rv.CheckIn),
			valTS(rv.CheckOut),
			rv.CreatedAt.UTC(),
			rv.UpdatedAt.UTC(),
			valStr(rv.Language),
			valStr(rv.Source),
			string(rv.RawJSON),
		)
	}
	sqlStr := insertReviewsPrefix + strings.Join(values, ",") + insertReviewsOnDup
	_, err := r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *Repo) LogMiss(ctx context.Context, listingID int64, status int, reason string) error {
	_, err := r.db.ExecContext(ctx, insertMissSQL, listingID, status, reason)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReview(row rowScanner) (domain.Review, error) {
	var (
		rv                     domain.Review
		comment                sql.NullString
		catsJSON, rawB         []byte
		reviewType, channel    string
		respText, lang, source sql.NullString
		respDate, checkIn      sql.NullTime
		checkOut               sql.NullTime
		createdAt, updatedAt   time.Time
	)
	if err := row.Scan(
		&rv.ID,
		&rv.ListingID,
		&rv.GuestName,
		&comment,
		&rv.Rating,
		&catsJSON,
		&reviewType,
		&channel,
		&rv.Approved,
		&respText,
		&respDate,
		&checkIn,
		&checkOut,
		&createdAt,
		&updatedAt,
		&lang,
		&source,
		&rawB,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Review{}, domain.ErrNotFound
		}
		return domain.Review{}, err
	}

	rv.Comment = comment.String
	if len(catsJSON) > 0 {
		_ = json.Unmarshal(catsJSON, &rv.Categories)
	}
	rv.ReviewType = domain.ReviewType(reviewType)
	rv.Channel = domain.Channel(channel)
	if respText.Valid {
		s := respText.String
		rv.ResponseText = &s
	}
	rv.ResponseDate = tsPtr(respDate)
	rv.CheckIn = tsPtr(checkIn)
	rv.CheckOut = tsPtr(checkOut)
	rv.CreatedAt = domain.NewTimestamp(createdAt)
	rv.UpdatedAt = domain.NewTimestamp(updatedAt)
	if lang.Valid {
		s := lang.String
		rv.Language = &s
	}
	if source.Valid {
		s := source.String
		rv.Source = &s
	}
	if len(rawB) > 0 {
		rv.RawJSON = append([]byte(nil), rawB...)
	}
	return rv, nil
}

func (r *Repo) GetReview(ctx context.Context, id int64) (domain.Review, error) {
	return scanReview(r.db.QueryRowContext(ctx, getReviewSQL, id))
}

var sortColumns = map[domain.SortField]string{
	domain.SortByDate:   "created_at",
	domain.SortByRating: "rating",
	domain.SortByName:   "guest_name",
}

func (r *Repo) ListReviews(ctx context.Context, q domain.ReviewsQuery) (domain.ReviewsPage, error) {
	where := make([]string, 0, 8)
	args := make([]any, 0, 8)
	f := q.Filter

	if f.ListingID != nil {
		where = append(where, "listing_id = ?")
		args = append(args, *f.ListingID)
	}
	if f.ReviewType != nil {
		where = append(where, "review_type = ?")
		args = append(args, string(*f.ReviewType))
	}
	if f.Channel != nil {
		where = append(where, "channel = ?")
		args = append(args, string(*f.Channel))
	}
	if f.Approved != nil {
		where = append(where, "approved = ?")
		args = append(args, *f.Approved)
	}
	if f.From != nil {
		where = append(where, "created_at >= ?")
		args = append(args, f.From.UTC())
	}
	if f.To != nil {
		where = append(where, "created_at <= ?")
		args = append(args, f.To.UTC())
	}
	if f.MinRating != nil {
		where = append(where, "rating >= ?")
		args = append(args, *f.MinRating)
	}
	if f.MaxRating != nil {
		where = append(where, "rating <= ?")
		args = append(args, *f.MaxRating)
	}
	if f.HasResponse != nil {
		if *f.HasResponse {
			where = append(where, "response_text IS NOT NULL AND response_text <> ''")
		} else {
			where = append(where, "(response_text IS NULL OR response_text = '')")
		}
	}

	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM reviews"+cond, args...).Scan(&total); err != nil {
		return domain.ReviewsPage{}, err
	}

	col, ok := sortColumns[q.SortBy]
	if !ok {
		col = "created_at"
	}
	dir := "ASC"
	if q.Order == domain.OrderDesc || q.Order == "" {
		dir = "DESC"
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	page := q.Page
	if page <= 0 {
		page = 1
	}

	listSQL := fmt.Sprintf("SELECT%s FROM reviews%s ORDER BY %s %s, id %s LIMIT ? OFFSET ?",
		reviewColumns, cond, col, dir, dir)
	listArgs := append(append([]any(nil), args...), limit, (page-1)*limit)

	rows, err := r.db.QueryContext(ctx, listSQL, listArgs...)
	if err != nil {
		return domain.ReviewsPage{}, err
	}
	defer rows.Close()

	var items []domain.Review
	for rows.Next() {
		rv, err := scanReview(rows)
		if err != nil {
			return domain.ReviewsPage{}, err
		}
		items = append(items, rv)
	}
	if err := rows.Err(); err != nil {
		return domain.ReviewsPage{}, err
	}
	return domain.ReviewsPage{Items: items, Total: total}, nil
}

// approvalSnapshot is the audit before/after payload.
type approvalSnapshot struct {
	Approved     bool              `json:"approved"`
	ResponseText *string           `json:"responseText,omitempty"`
	ResponseDate *domain.Timestamp `json:"responseDate,omitempty"`
}

// SetApproval performs the conditional transition and the audit append in
// one transaction. The row lock taken by the SELECT ... FOR UPDATE makes
// concurrent identical transitions serialize; the conditional UPDATE's row
// count then decides winner vs ErrNoChange.
func (r *Repo) SetApproval(ctx context.Context, id int64, approved bool, response *string, actor string) (domain.Review, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Review{}, err
	}
	defer func() { _ = tx.Rollback() }()

	prev, err := scanReview(tx.QueryRowContext(ctx, getReviewForUpdateSQL, id))
	if err != nil {
		return domain.Review{}, err
	}

	now := time.Now().UTC()
	var respDate any
	if response != nil {
		respDate = now
	}
	res, err := tx.ExecContext(ctx, setApprovalSQL, approved, valStr(response), respDate, now, id, approved)
	if err != nil {
		return domain.Review{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Review{}, err
	}
	if n != 1 {
		return domain.Review{}, domain.ErrNoChange
	}

	updated := prev
	updated.Approved = approved
	updated.UpdatedAt = domain.NewTimestamp(now)
	if response != nil {
		updated.ResponseText = response
		ts := domain.NewTimestamp(now)
		updated.ResponseDate = &ts
	}

	action := domain.AuditApproved
	if !approved {
		action = domain.AuditUnapproved
	}
	prevJSON, _ := json.Marshal(approvalSnapshot{Approved: prev.Approved, ResponseText: prev.ResponseText, ResponseDate: prev.ResponseDate})
	newJSON, _ := json.Marshal(approvalSnapshot{Approved: updated.Approved, ResponseText: updated.ResponseText, ResponseDate: updated.ResponseDate})
	if _, err := tx.ExecContext(ctx, insertAuditSQL, id, string(action), string(prevJSON), string(newJSON), actor, now); err != nil {
		return domain.Review{}, err
	}

	if err := tx.Commit(); err != nil {
		return domain.Review{}, err
	}
	return updated, nil
}

func (r *Repo) ListAudit(ctx context.Context, reviewID int64, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, listAuditSQL, reviewID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AuditEntry
	for rows.Next() {
		var (
			e         domain.AuditEntry
			action    string
			prevB     []byte
			newB      []byte
			createdAt time.Time
		)
		if err := rows.Scan(&e.ID, &e.ReviewID, &action, &prevB, &newB, &e.Actor, &createdAt); err != nil {
			return nil, err
		}
		e.Action = domain.AuditAction(action)
		e.PreviousValue = append(json.RawMessage(nil), prevB...)
		e.NewValue = append(json.RawMessage(nil), newB...)
		e.CreatedAt = domain.NewTimestamp(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}
