package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// QuoteRecord is one row of the ticker list: top of book plus last trade.
type QuoteRecord struct {
	ID              InstrumentID `json:"id"`
	Ticker          string       `json:"ticker"`
	SellQty         float64      `json:"sellqty"`
	SellPrice       float64      `json:"sellprice"`
	LTP             float64      `json:"ltp"`
	LTQ             float64      `json:"ltq"`
	Dates           []string     `json:"dates"`
	LatestTimestamp NullTime     `json:"latest_timestamp"`
}

// QuoteUpdate is a partial quote pushed by the server. A nil field was not
// present in the payload.
type QuoteUpdate struct {
	ID              InstrumentID
	Ticker          *string
	SellQty         *float64
	SellPrice       *float64
	LTP             *float64
	LTQ             *float64
	Dates           []string
	HasDates        bool
	LatestTimestamp *NullTime
}

// UnmarshalJSON records which fields were present.
func (u *QuoteUpdate) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	idRaw, ok := raw["id"]
	if !ok {
		return fmt.Errorf("quote update without id")
	}
	if err := json.Unmarshal(idRaw, &u.ID); err != nil {
		return fmt.Errorf("quote update id: %w", err)
	}

	if err := decodeOptional(raw, "ticker", &u.Ticker); err != nil {
		return err
	}
	if err := decodeOptional(raw, "sellqty", &u.SellQty); err != nil {
		return err
	}
	if err := decodeOptional(raw, "sellprice", &u.SellPrice); err != nil {
		return err
	}
	if err := decodeOptional(raw, "ltp", &u.LTP); err != nil {
		return err
	}
	if err := decodeOptional(raw, "ltq", &u.LTQ); err != nil {
		return err
	}
	if v, ok := raw["dates"]; ok {
		u.HasDates = true
		if !isNull(v) {
			if err := json.Unmarshal(v, &u.Dates); err != nil {
				return fmt.Errorf("quote update dates: %w", err)
			}
		}
	}
	if v, ok := raw["latest_timestamp"]; ok {
		var nt NullTime
		if err := json.Unmarshal(v, &nt); err != nil {
			return fmt.Errorf("quote update latest_timestamp: %w", err)
		}
		u.LatestTimestamp = &nt
	}
	return nil
}

// decodeOptional sets *dst when key is present and not null.
func decodeOptional[T any](raw map[string]json.RawMessage, key string, dst **T) error {
	v, ok := raw[key]
	if !ok || isNull(v) {
		return nil
	}
	var val T
	if err := json.Unmarshal(v, &val); err != nil {
		return fmt.Errorf("quote update %s: %w", key, err)
	}
	*dst = &val
	return nil
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

// Normalize converts an update for an unseen id into a full record, using
// zero values, an empty date list and a null timestamp for missing fields.
func (u QuoteUpdate) Normalize() QuoteRecord {
	return u.ApplyTo(QuoteRecord{ID: u.ID, Dates: []string{}})
}

// ApplyTo overlays the fields present in u onto base.
func (u QuoteUpdate) ApplyTo(base QuoteRecord) QuoteRecord {
	out := base
	out.ID = u.ID
	if u.Ticker != nil {
		out.Ticker = *u.Ticker
	}
	if u.SellQty != nil {
		out.SellQty = *u.SellQty
	}
	if u.SellPrice != nil {
		out.SellPrice = *u.SellPrice
	}
	if u.LTP != nil {
		out.LTP = *u.LTP
	}
	if u.LTQ != nil {
		out.LTQ = *u.LTQ
	}
	if u.HasDates {
		out.Dates = append([]string{}, u.Dates...)
	}
	if out.Dates == nil {
		out.Dates = []string{}
	}
	if u.LatestTimestamp != nil {
		out.LatestTimestamp = *u.LatestTimestamp
	}
	return out
}

// NullTime is a timestamp that may be JSON null.
type NullTime struct {
	Time  time.Time
	Valid bool
}

// NewNullTime returns a valid NullTime.
func NewNullTime(t time.Time) NullTime {
	return NullTime{Time: t, Valid: true}
}

// Before orders null before any valid time.
func (n NullTime) Before(o NullTime) bool {
	switch {
	case !n.Valid && !o.Valid:
		return false
	case !n.Valid:
		return true
	case !o.Valid:
		return false
	default:
		return n.Time.Before(o.Time)
	}
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

// MarshalJSON writes null or an RFC 3339 string.
func (n NullTime) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Time.Format(time.RFC3339Nano))
}

// UnmarshalJSON accepts null, RFC 3339, or naive ISO timestamps (read as UTC).
func (n *NullTime) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		*n = NullTime{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*n = NullTime{}
		return nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			*n = NullTime{Time: t, Valid: true}
			return nil
		}
	}
	return fmt.Errorf("unrecognised timestamp %q", s)
}
