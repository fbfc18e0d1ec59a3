package domain

import (
	"testing"
	"time"
)

func TestLocationRecordValidate(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	negative := -1.0
	tests := []struct {
		name    string
		record  LocationRecord
		wantErr bool
	}{
		{name: "valid", record: LocationRecord{Latitude: 51.5, Longitude: -0.12, CapturedAt: now}},
		{name: "latitude out of range", record: LocationRecord{Latitude: 91, CapturedAt: now}, wantErr: true},
		{name: "longitude out of range", record: LocationRecord{Longitude: -181, CapturedAt: now}, wantErr: true},
		{name: "missing capture time", record: LocationRecord{Latitude: 1, Longitude: 1}, wantErr: true},
		{name: "negative accuracy", record: LocationRecord{CapturedAt: now, Accuracy: &negative}, wantErr: true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.record.Validate()
			if (err != nil) != tc.wantErr {
				t.Fatalf("validate error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
