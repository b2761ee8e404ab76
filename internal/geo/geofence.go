package geo

import (
	"errors"
	"math"
	"time"
)

// EarthRadiusMeters is the mean Earth radius used for great-circle distances.
const EarthRadiusMeters = 6371000.0

// Sample is a single device position fix.
type Sample struct {
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	AccuracyMeters float64   `json:"accuracy_meters"`
	CapturedAt     time.Time `json:"captured_at"`
}

// Validate checks coordinate ranges and accuracy.
func (s Sample) Validate() error {
	if math.IsNaN(s.Latitude) || s.Latitude < -90 || s.Latitude > 90 {
		return errors.New("latitude out of range")
	}
	if math.IsNaN(s.Longitude) || s.Longitude < -180 || s.Longitude > 180 {
		return errors.New("longitude out of range")
	}
	if math.IsNaN(s.AccuracyMeters) || s.AccuracyMeters < 0 {
		return errors.New("accuracy must be non-negative")
	}
	return nil
}

// Geofence is the circular campus boundary.
type Geofence struct {
	CenterLatitude  float64 `json:"center_latitude"`
	CenterLongitude float64 `json:"center_longitude"`
	RadiusMeters    float64 `json:"radius_meters"`
}

// Validate reports whether the geofence is usable.
func (g Geofence) Validate() error {
	center := Sample{Latitude: g.CenterLatitude, Longitude: g.CenterLongitude}
	if err := center.Validate(); err != nil {
		return err
	}
	if !(g.RadiusMeters > 0) {
		return errors.New("geofence radius must be positive")
	}
	return nil
}

// Verdict is the outcome of testing one sample against a geofence.
type Verdict struct {
	Inside         bool    `json:"inside"`
	DistanceMeters float64 `json:"distance_meters"`
	Sample         Sample  `json:"sample"`
}

// Distance returns the haversine distance in meters between two coordinates.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	φ1 := radians(lat1)
	φ2 := radians(lat2)
	Δφ := radians(lat2 - lat1)
	Δλ := radians(lon2 - lon1)

	a := math.Sin(Δφ/2)*math.Sin(Δφ/2) + math.Cos(φ1)*math.Cos(φ2)*math.Sin(Δλ/2)*math.Sin(Δλ/2)
	// rounding can push a marginally past 1 for antipodal points
	a = math.Min(1, math.Max(0, a))
	return 2 * EarthRadiusMeters * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// Evaluate tests a sample against the geofence. The boundary is inclusive and the
// reported accuracy is passed through untouched for the caller to apply policy.
func Evaluate(s Sample, g Geofence) Verdict {
	d := Distance(g.CenterLatitude, g.CenterLongitude, s.Latitude, s.Longitude)
	return Verdict{
		Inside:         d <= g.RadiusMeters,
		DistanceMeters: d,
		Sample:         s,
	}
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
