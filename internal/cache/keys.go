package cache

import (
	"strconv"
	"strings"
)

// Key prefixes per request kind.
const (
	weatherPrefix  = "weather_"
	forecastPrefix = "forecast_"
	coordsPrefix   = "weather_coords_"
)

// WeatherKey returns the cache key for current weather by city name.
// City names are case-insensitive.
func WeatherKey(city string) string {
	return weatherPrefix + normalizeCity(city)
}

// ForecastKey returns the cache key for a forecast by city name.
func ForecastKey(city string) string {
	return forecastPrefix + normalizeCity(city)
}

// CoordsKey returns the cache key for current weather by coordinates.
// Both values are rounded to two decimals so nearby points (about 1km apart)
// share an entry.
func CoordsKey(lat, lon float64) string {
	return coordsPrefix + formatCoord(lat) + "_" + formatCoord(lon)
}

func normalizeCity(city string) string {
	return strings.ToLower(strings.TrimSpace(city))
}

// formatCoord rounds v half-to-even on its exact binary value to two
// decimals and prints the shortest form that keeps a fractional part:
// 40.7128 -> "40.71", 40 -> "40.0", -0.001 -> "-0.0".
func formatCoord(v float64) string {
	rounded, _ := strconv.ParseFloat(strconv.FormatFloat(v, 'f', 2, 64), 64)
	s := strconv.FormatFloat(rounded, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
