package domain

import (
	"errors"
	"math"
	"time"
)

// LocationRecord is one queued GPS fix.
type LocationRecord struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	CapturedAt time.Time `json:"capturedAt"`
	Accuracy   *float64  `json:"accuracy,omitempty"`
	Speed      *float64  `json:"speed,omitempty"`
	Heading    *float64  `json:"heading,omitempty"`
}

// Validate checks coordinate ranges and capture time.
func (r LocationRecord) Validate() error {
	if math.IsNaN(r.Latitude) || r.Latitude < -90 || r.Latitude > 90 {
		return errors.New("latitude must be within [-90, 90]")
	}
	if math.IsNaN(r.Longitude) || r.Longitude < -180 || r.Longitude > 180 {
		return errors.New("longitude must be within [-180, 180]")
	}
	if r.CapturedAt.IsZero() {
		return errors.New("capturedAt is required")
	}
	if r.Accuracy != nil && *r.Accuracy < 0 {
		return errors.New("accuracy must not be negative")
	}
	return nil
}
