package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"flex_reviews/internal/domain"
)

// AnonymousGuest replaces empty or whitespace-only guest names.
const AnonymousGuest = "Anonymous Guest"

const (
	maxGuestNameLen = 255
	maxCommentLen   = 5000
)

type Options struct {
	// Strict aborts the batch at the first failing record. Permissive (the
	// default) skips failing records and only fails when nothing succeeded.
	Strict bool
	// DefaultRating is used when a record carries neither a direct rating
	// nor any valid category rating. Must lie within [0,10]; an out-of-range
	// default rejects the records that would need it.
	DefaultRating *float64
}

type RecordError struct {
	Index  int    `json:"index"`
	ID     *int64 `json:"id,omitempty"`
	Reason string `json:"reason"`
}

type BatchResult struct {
	Items          []domain.Review `json:"items"`
	ProcessedCount int             `json:"processedCount"`
	SkippedCount   int             `json:"skippedCount"`
	Errors         []RecordError   `json:"errors"`
	Warnings       []string        `json:"warnings"`
	OK             bool            `json:"ok"`
}

/********** alias registries (single source of truth) **********/

var fieldAliases = map[string][]string{
	"id":            {"id", "reviewId", "review_id"},
	"listing":       {"listingId", "listing_id", "listingMapId", "listing_map_id", "propertyId", "property_id"},
	"guest":         {"guestName", "guest_name", "author", "name", "reviewerName", "reviewer.name"},
	"comment":       {"comment", "publicReview", "public_review", "review", "text", "body"},
	"rating":        {"rating", "overallRating", "overall_rating", "score"},
	"categories":    {"reviewCategory", "reviewCategories", "review_categories", "categories"},
	"created":       {"createdAt", "created_at", "submittedAt", "submitted_at", "date"},
	"updated":       {"updatedAt", "updated_at", "modifiedAt", "modified_at"},
	"check_in":      {"checkIn", "check_in", "arrivalDate", "arrival_date"},
	"check_out":     {"checkOut", "check_out", "departureDate", "departure_date"},
	"type":          {"reviewType", "review_type", "type"},
	"channel":       {"channel", "channelName", "channel_name", "platform", "source_channel"},
	"approved":      {"approved", "isApproved", "is_approved", "published"},
	"response":      {"response", "responseText", "response_text", "reply", "hostResponse", "ownerResponse"},
	"response_date": {"responseDate", "response_date", "respondedAt", "responded_at"},
	"language":      {"language", "lang", "languageCode", "locale"},
	"source":        {"source", "provider", "origin"},
}

var categoryAliases = map[string][]string{
	"name":   {"category", "name", "categoryName", "category_name"},
	"rating": {"rating", "categoryRating", "category_rating", "value"},
	"max":    {"maxRating", "max_rating", "categoryMaxRating", "category_max_rating", "scale"},
}

var reviewTypeTable = map[string]domain.ReviewType{
	"guest":        domain.GuestReview,
	"guestreview":  domain.GuestReview,
	"host":         domain.HostReview,
	"hostreview":   domain.HostReview,
	"auto":         domain.AutoReview,
	"autoreview":   domain.AutoReview,
	"system":       domain.SystemReview,
	"systemreview": domain.SystemReview,
}

var channelTable = map[string]domain.Channel{
	"booking":       domain.ChannelBooking,
	"bookingcom":    domain.ChannelBooking,
	"booking.com":   domain.ChannelBooking,
	"airbnb":        domain.ChannelAirbnb,
	"google":        domain.ChannelGoogle,
	"googlemaps":    domain.ChannelGoogle,
	"direct":        domain.ChannelDirect,
	"directbooking": domain.ChannelDirect,
}

/********** tiny helpers **********/

// lookupAny: safe nested lookup with dot paths on maps.
func lookupAny(m map[string]any, path string) any {
	cur := any(m)
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		v, ok := obj[part]
		if !ok {
			return nil
		}
		cur = v
	}
	return cur
}

func lookupStr(m map[string]any, aliasKey string) string {
	for _, p := range fieldAliases[aliasKey] {
		if v := lookupAny(m, p); v != nil {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return s
			}
		}
	}
	return ""
}

// firstInt64: int64 from any aliased path (float64/int/string).
func firstInt64(m map[string]any, aliasKey string) *int64 {
	for _, p := range fieldAliases[aliasKey] {
		switch v := lookupAny(m, p).(type) {
		case float64:
			x := int64(v)
			return &x
		case int:
			x := int64(v)
			return &x
		case int64:
			x := v
			return &x
		case json.Number:
			if n, err := v.Int64(); err == nil {
				return &n
			}
		case string:
			s := strings.TrimSpace(v)
			if s == "" {
				continue
			}
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return &n
			}
		}
	}
	return nil
}

// floatAt: number at one concrete path (float64/int/string like "8,0").
func floatAt(m map[string]any, paths ...string) *float64 {
	for _, p := range paths {
		switch v := lookupAny(m, p).(type) {
		case float64:
			f := v
			return &f
		case int:
			f := float64(v)
			return &f
		case json.Number:
			if f, err := v.Float64(); err == nil {
				return &f
			}
		case string:
			s := strings.TrimSpace(strings.ReplaceAll(v, ",", "."))
			if s == "" {
				continue
			}
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return &f
			}
		}
	}
	return nil
}

func firstFloat(m map[string]any, aliasKey string) *float64 {
	return floatAt(m, fieldAliases[aliasKey]...)
}

func firstBool(m map[string]any, aliasKey string) bool {
	for _, p := range fieldAliases[aliasKey] {
		switch v := lookupAny(m, p).(type) {
		case bool:
			return v
		case float64:
			return v != 0
		case string:
			s := strings.ToLower(strings.TrimSpace(v))
			if s == "true" || s == "1" || s == "yes" {
				return true
			}
			if s == "false" || s == "0" || s == "no" {
				return false
			}
		}
	}
	return false
}

func round1(f float64) float64 { return math.Round(f*10) / 10 }

func ptrStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

/********** date normalization **********/

// dateLayouts are tried in order; zone-less layouts parse as UTC. Go also
// accepts fractional seconds after the seconds field for all of them.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseDate converts any accepted input format to a UTC Timestamp.
func ParseDate(s string) (domain.Timestamp, error) {
	in := strings.TrimSpace(s)
	if in == "" {
		return domain.Timestamp{}, fmt.Errorf("empty date: %w", domain.ErrValidation)
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, in); err == nil {
			return domain.NewTimestamp(t), nil
		}
	}
	return domain.Timestamp{}, fmt.Errorf("unparseable date %q: %w", in, domain.ErrValidation)
}

func parseOptionalDate(m map[string]any, aliasKey string, warns *[]string) *domain.Timestamp {
	s := lookupStr(m, aliasKey)
	if s == "" {
		return nil
	}
	ts, err := ParseDate(s)
	if err != nil {
		*warns = append(*warns, fmt.Sprintf("%s: %v", aliasKey, err))
		return nil
	}
	return &ts
}

/********** enum mapping **********/

// mapToken lowercases and strips everything outside the kept character set.
func mapToken(s string, keepDots bool) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if (r >= 'a' && r <= 'z') || (keepDots && r == '.') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// MapReviewType resolves a free-text token to the fixed enum. Unrecognized
// tokens fall back to guest_review; callers get a warning, not an error.
func MapReviewType(s string) (domain.ReviewType, bool) {
	if rt, ok := reviewTypeTable[mapToken(s, false)]; ok {
		return rt, true
	}
	return domain.GuestReview, false
}

func MapChannel(s string) (domain.Channel, bool) {
	if ch, ok := channelTable[mapToken(s, true)]; ok {
		return ch, true
	}
	return domain.ChannelOther, false
}

/********** text sanitation **********/

// SanitizeText strips the denylisted characters <>"'& (a simple denylist,
// not full HTML sanitization), collapses whitespace, and caps length.
func SanitizeText(s string, maxLen int) string {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '<', '>', '"', '\'', '&':
			return -1
		}
		return r
	}, s)
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if runes := []rune(cleaned); len(runes) > maxLen {
		cleaned = string(runes[:maxLen])
	}
	return cleaned
}

// slugifyCategory lowercases and collapses non-alphanumeric runs to one
// underscore, trimming leading/trailing underscores.
func slugifyCategory(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteRune('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}

/********** rating resolution **********/

// flattenCategories rescales every valid category to a 0-10 scale. A
// category with zero or negative max rating, or a rating outside [0,max],
// is invalid and excluded (never divided by zero).
func flattenCategories(raw map[string]any, warns *[]string) map[string]float64 {
	var items []any
	for _, p := range fieldAliases["categories"] {
		if arr, ok := lookupAny(raw, p).([]any); ok {
			items = arr
			break
		}
	}
	if len(items) == 0 {
		return nil
	}

	out := make(map[string]float64, len(items))
	for _, it := range items {
		c, ok := it.(map[string]any)
		if !ok {
			continue
		}
		var name string
		for _, p := range categoryAliases["name"] {
			if s, ok := lookupAny(c, p).(string); ok && s != "" {
				name = s
				break
			}
		}
		slug := slugifyCategory(name)
		if slug == "" {
			*warns = append(*warns, "category without a name skipped")
			continue
		}
		r := floatAt(c, categoryAliases["rating"]...)
		if r == nil {
			*warns = append(*warns, fmt.Sprintf("category %q without a rating skipped", slug))
			continue
		}
		maxR := 10.0
		if m := floatAt(c, categoryAliases["max"]...); m != nil {
			maxR = *m
		}
		if maxR <= 0 {
			*warns = append(*warns, fmt.Sprintf("category %q has invalid max rating %g", slug, maxR))
			continue
		}
		if *r < 0 || *r > maxR {
			*warns = append(*warns, fmt.Sprintf("category %q rating %g outside [0,%g]", slug, *r, maxR))
			continue
		}
		out[slug] = round1(*r / maxR * 10)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// resolveRating: direct rating first, then the category average, then the
// caller-supplied default. No candidate at all rejects the record.
func resolveRating(raw map[string]any, cats map[string]float64, opts Options, warns *[]string) (float64, error) {
	if direct := firstFloat(raw, "rating"); direct != nil {
		if *direct >= 0 && *direct <= 10 {
			return round1(*direct), nil
		}
		*warns = append(*warns, fmt.Sprintf("direct rating %g outside [0,10] ignored", *direct))
	}
	if len(cats) > 0 {
		sum := 0.0
		for _, v := range cats {
			sum += v
		}
		return round1(sum / float64(len(cats))), nil
	}
	if opts.DefaultRating != nil {
		// the default is caller input, so it gets the same range check as a
		// direct rating; letting it through would break the [0,10] guarantee
		if *opts.DefaultRating < 0 || *opts.DefaultRating > 10 {
			return 0, fmt.Errorf("default rating %g outside [0,10]: %w", *opts.DefaultRating, domain.ErrValidation)
		}
		return round1(*opts.DefaultRating), nil
	}
	return 0, fmt.Errorf("no usable rating: %w", domain.ErrValidation)
}

/********** engine **********/

// One normalizes a single raw record or rejects it. The returned warnings
// never imply failure.
func One(raw map[string]any, opts Options) (domain.Review, []string, error) {
	var warns []string

	id := firstInt64(raw, "id")
	if id == nil {
		return domain.Review{}, nil, fmt.Errorf("missing id: %w", domain.ErrValidation)
	}
	listingID := firstInt64(raw, "listing")
	if listingID == nil {
		return domain.Review{}, nil, fmt.Errorf("review %d: missing listing id: %w", *id, domain.ErrValidation)
	}

	cats := flattenCategories(raw, &warns)
	rating, err := resolveRating(raw, cats, opts, &warns)
	if err != nil {
		return domain.Review{}, warns, fmt.Errorf("review %d: %w", *id, err)
	}

	createdRaw := lookupStr(raw, "created")
	if createdRaw == "" {
		return domain.Review{}, warns, fmt.Errorf("review %d: missing created date: %w", *id, domain.ErrValidation)
	}
	createdAt, err := ParseDate(createdRaw)
	if err != nil {
		return domain.Review{}, warns, fmt.Errorf("review %d: %w", *id, err)
	}
	updatedAt := createdAt
	if s := lookupStr(raw, "updated"); s != "" {
		ts, err := ParseDate(s)
		if err != nil {
			return domain.Review{}, warns, fmt.Errorf("review %d: %w", *id, err)
		}
		updatedAt = ts
	}

	rt, known := MapReviewType(lookupStr(raw, "type"))
	if !known {
		warns = append(warns, fmt.Sprintf("review %d: unrecognized review type %q mapped to %s", *id, lookupStr(raw, "type"), rt))
	}
	ch, known := MapChannel(lookupStr(raw, "channel"))
	if !known {
		warns = append(warns, fmt.Sprintf("review %d: unrecognized channel %q mapped to %s", *id, lookupStr(raw, "channel"), ch))
	}

	guest := SanitizeText(lookupStr(raw, "guest"), maxGuestNameLen)
	if guest == "" {
		guest = AnonymousGuest
	}

	rawJSON, err := json.Marshal(raw)
	if err != nil {
		log.Error().Err(err).Int64("review_id", *id).Msg("marshal raw review failed")
		rawJSON = []byte("{}")
	}

	rv := domain.Review{
		ID:           *id,
		ListingID:    *listingID,
		GuestName:    guest,
		Comment:      SanitizeText(lookupStr(raw, "comment"), maxCommentLen),
		Rating:       rating,
		Categories:   cats,
		ReviewType:   rt,
		Channel:      ch,
		Approved:     firstBool(raw, "approved"),
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
		CheckIn:      parseOptionalDate(raw, "check_in", &warns),
		CheckOut:     parseOptionalDate(raw, "check_out", &warns),
		ResponseDate: parseOptionalDate(raw, "response_date", &warns),
		Language:     ptrStr(lookupStr(raw, "language")),
		Source:       ptrStr(lookupStr(raw, "source")),
		RawJSON:      rawJSON,
	}
	if resp := SanitizeText(lookupStr(raw, "response"), maxCommentLen); resp != "" {
		rv.ResponseText = &resp
	}
	return rv, warns, nil
}

// Batch normalizes a slice of raw records. Strict mode stops at the first
// failure and marks the batch failed while keeping partial results;
// permissive mode skips failures and only fails when nothing succeeded.
func Batch(raws []map[string]any, opts Options) BatchResult {
	res := BatchResult{Items: make([]domain.Review, 0, len(raws))}
	for i, raw := range raws {
		rv, warns, err := One(raw, opts)
		res.Warnings = append(res.Warnings, warns...)
		if err != nil {
			recErr := RecordError{Index: i, ID: firstInt64(raw, "id"), Reason: err.Error()}
			res.Errors = append(res.Errors, recErr)
			res.SkippedCount++
			if opts.Strict {
				res.OK = false
				return res
			}
			continue
		}
		res.Items = append(res.Items, rv)
		res.ProcessedCount++
	}
	res.OK = res.ProcessedCount > 0 || len(raws) == 0
	return res
}
