package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// TimeLayout is the canonical rendering for every date the service emits:
// UTC, millisecond precision, trailing Z.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// Timestamp wraps time.Time so every serialization point renders the
// canonical layout instead of RFC3339Nano.
type Timestamp struct{ time.Time }

func NewTimestamp(t time.Time) Timestamp { return Timestamp{t.UTC()} }

func (t Timestamp) String() string { return t.UTC().Format(TimeLayout) }

func (t Timestamp) MarshalJSON() ([]byte, error) { return json.Marshal(t.String()) }

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := time.Parse(TimeLayout, s)
	if err != nil {
		// tolerate plain RFC3339 when reading back older payloads
		parsed, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return fmt.Errorf("timestamp %q: %w", s, err)
		}
	}
	t.Time = parsed.UTC()
	return nil
}

type ReviewType string

const (
	GuestReview  ReviewType = "guest_review"
	HostReview   ReviewType = "host_review"
	AutoReview   ReviewType = "auto_review"
	SystemReview ReviewType = "system_review"
)

type Channel string

const (
	ChannelBooking Channel = "booking.com"
	ChannelAirbnb  Channel = "airbnb"
	ChannelGoogle  Channel = "google"
	ChannelDirect  Channel = "direct"
	ChannelOther   Channel = "other"
)

// Review is the canonical record produced by normalization. Only Approved
// and the response fields mutate after ingestion, and only through the
// approval service.
type Review struct {
	ID           int64              `json:"id"`
	ListingID    int64              `json:"listingId"`
	GuestName    string             `json:"guestName"`
	Comment      string             `json:"comment"`
	Rating       float64            `json:"rating"` // always within [0,10]
	Categories   map[string]float64 `json:"categories"`
	ReviewType   ReviewType         `json:"reviewType"`
	Channel      Channel            `json:"channel"`
	Approved     bool               `json:"approved"`
	CreatedAt    Timestamp          `json:"createdAt"`
	UpdatedAt    Timestamp          `json:"updatedAt"`
	CheckIn      *Timestamp         `json:"checkIn,omitempty"`
	CheckOut     *Timestamp         `json:"checkOut,omitempty"`
	ResponseText *string            `json:"responseText,omitempty"`
	ResponseDate *Timestamp         `json:"responseDate,omitempty"`
	Language     *string            `json:"language,omitempty"`
	Source       *string            `json:"source,omitempty"`
	RawJSON      []byte             `json:"-"` // verbatim upstream record, kept for audit
}
