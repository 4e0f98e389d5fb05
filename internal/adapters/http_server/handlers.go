package httpserver

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"flex_reviews/internal/app"
	"flex_reviews/internal/domain"
	"flex_reviews/internal/normalize"
)

type Handlers struct {
	Q *app.QueryService
	A *app.ApprovalService
}

type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func (s *Server) MountHandlers(h *Handlers) {
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); _, _ = w.Write([]byte("ok")) })
	s.mux.Get("/v1/reviews", h.listReviews)
	s.mux.Get("/v1/reviews/{id}", h.getReview)
	s.mux.Get("/v1/reviews/{id}/audit", h.listAudit)
	s.mux.Patch("/v1/reviews/{id}/approval", h.setApproval)
	s.mux.Post("/v1/reviews/approval/bulk", h.setApprovalBulk)
	s.mux.Get("/v1/ops/cache", h.cacheStats)
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(problem{Type: "about:blank", Title: title, Status: status, Detail: detail}); err != nil {
		log.Error().Err(err).Msg("write JSON problem response failed")
	}
}

func writeDomainErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeProblem(w, http.StatusNotFound, "Not Found", "review not found")
	case errors.Is(err, domain.ErrNoChange):
		writeProblem(w, http.StatusConflict, "No Change Required", "review is already in the requested state")
	case errors.Is(err, domain.ErrValidation):
		writeProblem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		writeProblem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("write JSON response failed")
	}
}

// calcETagAndBody marshals once and hashes once, returning both ETag and body.
func calcETagAndBody(v any) (string, []byte) {
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal object for ETag/body")
		return "", nil
	}
	sum := sha1.Sum(body)
	etag := `W/"` + hex.EncodeToString(sum[:]) + `"`
	return etag, body
}

func writeWithETag(w http.ResponseWriter, r *http.Request, v any) {
	etag, body := calcETagAndBody(v)
	if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
		w.Header().Set("ETag", etag)
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		log.Error().Err(err).Msg("failed to write response body")
	}
}

// ---- query parsing ----

func parseListQuery(r *http.Request) (domain.ReviewsQuery, error) {
	var q domain.ReviewsQuery
	vals := r.URL.Query()

	if s := vals.Get("listingId"); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return q, errors.New("listingId must be a number")
		}
		q.Filter.ListingID = &id
	}
	if s := vals.Get("type"); s != "" {
		rt, ok := normalize.MapReviewType(s)
		if !ok {
			return q, errors.New("unknown review type")
		}
		q.Filter.ReviewType = &rt
	}
	if s := vals.Get("channel"); s != "" {
		ch, ok := normalize.MapChannel(s)
		if !ok {
			return q, errors.New("unknown channel")
		}
		q.Filter.Channel = &ch
	}
	if s := vals.Get("approved"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return q, errors.New("approved must be a boolean")
		}
		q.Filter.Approved = &b
	}
	if s := vals.Get("from"); s != "" {
		ts, err := normalize.ParseDate(s)
		if err != nil {
			return q, errors.New("from is not a valid date")
		}
		q.Filter.From = &ts
	}
	if s := vals.Get("to"); s != "" {
		ts, err := normalize.ParseDate(s)
		if err != nil {
			return q, errors.New("to is not a valid date")
		}
		q.Filter.To = &ts
	}
	if s := vals.Get("minRating"); s != "" {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return q, errors.New("minRating must be a number")
		}
		q.Filter.MinRating = &f
	}
	if s := vals.Get("maxRating"); s != "" {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return q, errors.New("maxRating must be a number")
		}
		q.Filter.MaxRating = &f
	}
	if s := vals.Get("hasResponse"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return q, errors.New("hasResponse must be a boolean")
		}
		q.Filter.HasResponse = &b
	}
	if s := vals.Get("limit"); s != "" {
		l, err := strconv.Atoi(s)
		if err != nil || l <= 0 || l > 200 {
			return q, errors.New("limit must be an integer between 1 and 200")
		}
		q.Limit = l
	}
	if s := vals.Get("page"); s != "" {
		p, err := strconv.Atoi(s)
		if err != nil || p <= 0 {
			return q, errors.New("page must be a positive integer")
		}
		q.Page = p
	}
	switch s := vals.Get("sortBy"); s {
	case "", "date":
		q.SortBy = domain.SortByDate
	case "rating":
		q.SortBy = domain.SortByRating
	case "name":
		q.SortBy = domain.SortByName
	default:
		return q, errors.New("sortBy must be one of date, rating, name")
	}
	switch s := vals.Get("order"); s {
	case "":
	case "asc":
		q.Order = domain.OrderAsc
	case "desc":
		q.Order = domain.OrderDesc
	default:
		return q, errors.New("order must be asc or desc")
	}
	return q, nil
}

func reviewID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// actor is whatever identity the auth layer in front of us injected;
// falls back to the client IP for unauthenticated deployments.
func actor(r *http.Request) string {
	if a := r.Header.Get("X-Actor"); a != "" {
		return a
	}
	return remoteIP(r)
}

// ---- handlers ----

func (h *Handlers) listReviews(w http.ResponseWriter, r *http.Request) {
	q, err := parseListQuery(r)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid Query", err.Error())
		return
	}
	resp, err := h.Q.ListReviews(r.Context(), q)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeWithETag(w, r, resp)
}

func (h *Handlers) getReview(w http.ResponseWriter, r *http.Request) {
	id, err := reviewID(r)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "id must be a number")
		return
	}
	rv, err := h.Q.GetReview(r.Context(), id)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeWithETag(w, r, rv)
}

func (h *Handlers) listAudit(w http.ResponseWriter, r *http.Request) {
	id, err := reviewID(r)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "id must be a number")
		return
	}
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		l, err := strconv.Atoi(s)
		if err != nil || l <= 0 || l > 200 {
			writeProblem(w, http.StatusBadRequest, "Invalid limit", "limit must be an integer between 1 and 200")
			return
		}
		limit = l
	}
	entries, err := h.Q.ListAudit(r.Context(), id, limit)
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

type approvalRequest struct {
	Approved *bool   `json:"approved"`
	Response *string `json:"response,omitempty"`
}

func (h *Handlers) setApproval(w http.ResponseWriter, r *http.Request) {
	id, err := reviewID(r)
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid ID", "id must be a number")
		return
	}
	var req approvalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Approved == nil {
		writeProblem(w, http.StatusBadRequest, "Invalid Body", "body must contain an approved boolean")
		return
	}
	rv, err := h.A.SetApproval(r.Context(), id, *req.Approved, req.Response, actor(r))
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rv)
}

type bulkApprovalRequest struct {
	IDs      []int64 `json:"ids"`
	Approved *bool   `json:"approved"`
}

func (h *Handlers) setApprovalBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkApprovalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Approved == nil || len(req.IDs) == 0 {
		writeProblem(w, http.StatusBadRequest, "Invalid Body", "body must contain ids and an approved boolean")
		return
	}
	res, err := h.A.SetApprovalBulk(r.Context(), req.IDs, *req.Approved, actor(r))
	if err != nil {
		writeDomainErr(w, err)
		return
	}
	status := http.StatusOK
	if !res.FullySuccessful() {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, res)
}

func (h *Handlers) cacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Q.CacheStats())
}
