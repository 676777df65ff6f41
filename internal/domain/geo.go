package domain

import (
	"fmt"
	"strconv"
)

// GeoPoint is an immutable WGS 84 coordinate pair.
type GeoPoint struct {
	Lat float64
	Lon float64
}

// NewGeoPoint returns a GeoPoint after checking the coordinate ranges.
// Out-of-range values are a contract violation by the caller, so this is the
// only place the ranges are checked; code holding a GeoPoint may assume it is
// valid.
func NewGeoPoint(lat, lon float64) (GeoPoint, error) {
	if lat < -90 || lat > 90 {
		return GeoPoint{}, fmt.Errorf("latitude %v out of range [-90,90]", lat)
	}
	if lon < -180 || lon > 180 {
		return GeoPoint{}, fmt.Errorf("longitude %v out of range [-180,180]", lon)
	}
	return GeoPoint{Lat: lat, Lon: lon}, nil
}

// Pair renders the point as "lat,lon", the wire encoding the visit server
// expects for coordinate fields.
func (p GeoPoint) Pair() string {
	return strconv.FormatFloat(p.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(p.Lon, 'f', -1, 64)
}
