package mysql

// Note: `comment` is safe unquoted, but keep the column list explicit
// everywhere so migrations and scans stay in lockstep.
const insertReviewsPrefix = "INSERT INTO reviews\n" +
	"  (id, listing_id, guest_name, comment, rating, categories, review_type, channel, approved,\n" +
	"   response_text, response_date, check_in, check_out, created_at, updated_at, language, source, raw)\nVALUES "

// COALESCE keeps the stored value when the incoming one is NULL, so a
// re-ingest never wipes an operator response.
const insertReviewsOnDup = " ON DUPLICATE KEY UPDATE\n" +
	"  guest_name    = VALUES(guest_name),\n" +
	"  comment       = VALUES(comment),\n" +
	"  rating        = VALUES(rating),\n" +
	"  categories    = VALUES(categories),\n" +
	"  review_type   = VALUES(review_type),\n" +
	"  channel       = VALUES(channel),\n" +
	"  response_text = COALESCE(reviews.response_text, VALUES(response_text)),\n" +
	"  response_date = COALESCE(reviews.response_date, VALUES(response_date)),\n" +
	"  check_in      = COALESCE(VALUES(check_in), reviews.check_in),\n" +
	"  check_out     = COALESCE(VALUES(check_out), reviews.check_out),\n" +
	"  updated_at    = VALUES(updated_at),\n" +
	"  language      = COALESCE(VALUES(language), reviews.language),\n" +
	"  source        = COALESCE(VALUES(source), reviews.source),\n" +
	"  raw           = VALUES(raw)\n"

const reviewColumns = `
  id, listing_id, guest_name, comment, rating, categories, review_type, channel, approved,
  response_text, response_date, check_in, check_out, created_at, updated_at, language, source, raw`

const getReviewSQL = `SELECT` + reviewColumns + `
FROM reviews
WHERE id = ?`

const getReviewForUpdateSQL = getReviewSQL + `
FOR UPDATE`

// The approval transition: conditional on the current state so concurrent
// identical requests resolve to exactly one affected row.
const setApprovalSQL = `
UPDATE reviews
SET approved      = ?,
    response_text = COALESCE(?, response_text),
    response_date = COALESCE(?, response_date),
    updated_at    = ?
WHERE id = ? AND approved <> ?`

const insertAuditSQL = `
INSERT INTO review_audit (review_id, action, previous_value, new_value, actor, created_at)
VALUES (?, ?, ?, ?, ?, ?)`

const listAuditSQL = `
SELECT id, review_id, action, previous_value, new_value, actor, created_at
FROM review_audit
WHERE review_id = ?
ORDER BY id DESC
LIMIT ?`

const insertMissSQL = `
INSERT INTO ingest_misses (listing_id, http_status, reason)
VALUES (?, ?, ?)
ON DUPLICATE KEY UPDATE seen_at = CURRENT_TIMESTAMP, http_status = VALUES(http_status), reason = VALUES(reason)`
