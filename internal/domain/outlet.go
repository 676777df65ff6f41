package domain

import "time"

// Outlet is the local snapshot of a sales outlet. Location is nil when the
// outlet's coordinates have never been set, which is distinct from (0,0) and
// makes the outlet ineligible for visit capture.
type Outlet struct {
	ID           int64
	Name         string
	Address      string
	Location     *GeoPoint
	RadiusMeters uint32
	UpdatedAt    time.Time
}

// CaptureEligible reports whether a visit may be captured against this outlet.
// An outlet with no recorded location must be completed through the outlet-edit
// flow before any camera access happens.
func (o *Outlet) CaptureEligible() bool {
	return o.Location != nil
}

// GeofenceDisabled reports whether the zero-radius sentinel is set, meaning
// distance is still computed for display but never blocks capture.
func (o *Outlet) GeofenceDisabled() bool {
	return o.RadiusMeters == 0
}
