package sos

import (
	"strings"

	"github.com/MrWong99/lifeline/pkg/location"
)

// LocationPlaceholder is replaced by the map link or the unavailable marker.
const LocationPlaceholder = "{location}"

// Render substitutes loc into template. A template without the placeholder
// gets loc appended after a space.
func Render(template, loc string) string {
	if !strings.Contains(template, LocationPlaceholder) {
		return strings.TrimRight(template, " ") + " " + loc
	}
	return strings.ReplaceAll(template, LocationPlaceholder, loc)
}

// locationText returns the map link for c, or the marker when c is nil.
func locationText(st Settings, c *location.Coordinates) string {
	if c == nil {
		return st.UnavailableMarker
	}
	return location.MapLink(st.MapBaseURL, *c)
}
