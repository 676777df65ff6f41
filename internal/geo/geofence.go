package geo

import "github.com/dwisurya/fieldvisit/internal/domain"

// Result is the outcome of a geofence check. Distance is only meaningful when
// HasDistance is true; it is false when the outlet has no recorded location.
type Result struct {
	InRange     bool
	Distance    float64
	HasDistance bool
}

// Validate decides whether the operator's current position is close enough to
// the outlet to begin capture.
//
// An outlet with no location fails closed: the caller must block progression
// and route the operator to the outlet-edit remediation, not show a geofence
// failure. A zero radius disables geofencing for the outlet; the distance is
// still computed so the UI can display it.
//
// The check is pure given its inputs. Callers re-evaluate it when the selected
// outlet or the last known position changes, never on a timer.
func Validate(outlet *domain.Outlet, current domain.GeoPoint) Result {
	if !outlet.CaptureEligible() {
		return Result{}
	}

	d := DistanceMeters(*outlet.Location, current)
	if outlet.GeofenceDisabled() {
		return Result{InRange: true, Distance: d, HasDistance: true}
	}

	return Result{
		InRange:     d <= float64(outlet.RadiusMeters),
		Distance:    d,
		HasDistance: true,
	}
}
