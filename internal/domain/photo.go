package domain

// CapturedPhoto is a photo artifact handed between pipeline steps. Each step
// owns the photo it was given until it hands a (possibly new) photo to the
// next step; photos are never shared between concurrent steps.
type CapturedPhoto struct {
	Bytes    []byte
	MimeType string
	WidthPx  int
}

// SizeBytes returns the encoded size of the photo.
func (p CapturedPhoto) SizeBytes() int {
	return len(p.Bytes)
}

// WatermarkFields is the read-only projection burned into the photo overlay.
// OutletSubLabel is empty when the outlet has no address on record.
type WatermarkFields struct {
	OutletLabel    string
	OutletSubLabel string
	TimestampText  string
	LocationText   string
}
