// Package atmos v2
// file: internal/atmos/pollutant.go
package atmos

import (
	"fmt"
	"strings"
)

// Pollutant selects which measured quantity to retrieve upstream.
type Pollutant string

const (
	PM25 Pollutant = "PM2.5"
	PM10 Pollutant = "PM10"
)

// ParamKey returns the upstream field name carrying this pollutant's
// concentration.
func (p Pollutant) ParamKey() string {
	switch p {
	case PM25:
		return "pm2.5cnc"
	case PM10:
		return "pm10cnc"
	default:
		return ""
	}
}

func (p Pollutant) Valid() bool { return p == PM25 || p == PM10 }

// ParsePollutant accepts display names ("PM2.5") and upstream param
// keys ("pm2.5cnc") in any case.
func ParsePollutant(s string) (Pollutant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pm2.5", "pm25", "pm2.5cnc":
		return PM25, nil
	case "pm10", "pm10cnc":
		return PM10, nil
	default:
		return "", fmt.Errorf("unknown pollutant %q", s)
	}
}
