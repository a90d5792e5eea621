package commands

import (
	"fmt"
	"math"
	"time"
)

func formatMinutes(m float64) string {
	switch {
	case m <= 0:
		return "now"
	case m < 90:
		return fmt.Sprintf("%.1f min", m)
	default:
		h := int(m) / 60
		return fmt.Sprintf("%dh%02dm", h, int(math.Round(m))-h*60)
	}
}

func formatLatLon(lat, lon float64) string {
	ns, ew := "N", "E"
	if lat < 0 {
		ns, lat = "S", -lat
	}
	if lon < 0 {
		ew, lon = "W", -lon
	}
	return fmt.Sprintf("%.2f°%s %.2f°%s", lat, ns, lon, ew)
}

func formatAge(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return d.Truncate(time.Minute).String()
	}
}
