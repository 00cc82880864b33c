package validation

import (
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Error messages double as the 400 response bodies.
var (
	// ErrCityRequired is returned when city is empty or whitespace-only after trim.
	ErrCityRequired = errors.New("City parameter is required")
	// ErrCoordsRequired is returned when lat or lon is absent.
	ErrCoordsRequired = errors.New("lat and lon parameters are required")
	// ErrCoordsInvalid is returned when lat or lon is not a decimal coordinate in range.
	ErrCoordsInvalid = errors.New("lat and lon must be valid coordinates")
)

type cityQuery struct {
	City string `validate:"required"`
}

type coordsQuery struct {
	Lat string `validate:"latitude"`
	Lon string `validate:"longitude"`
}

// ValidateCity trims the input and returns it, or ErrCityRequired.
// Case folding for cache keys is left to the cache package.
func ValidateCity(input string) (string, error) {
	q := cityQuery{City: strings.TrimSpace(input)}
	if err := validate.Struct(q); err != nil {
		return "", ErrCityRequired
	}
	return q.City, nil
}

// ValidateCoords parses lat and lon as decimal degrees. Both must be present;
// latitude must lie in [-90, 90] and longitude in [-180, 180].
func ValidateCoords(lat, lon string) (float64, float64, error) {
	q := coordsQuery{Lat: strings.TrimSpace(lat), Lon: strings.TrimSpace(lon)}
	if q.Lat == "" || q.Lon == "" {
		return 0, 0, ErrCoordsRequired
	}
	if err := validate.Struct(q); err != nil {
		return 0, 0, ErrCoordsInvalid
	}

	latV, err := strconv.ParseFloat(q.Lat, 64)
	if err != nil {
		return 0, 0, ErrCoordsInvalid
	}
	lonV, err := strconv.ParseFloat(q.Lon, 64)
	if err != nil {
		return 0, 0, ErrCoordsInvalid
	}
	return latV, lonV, nil
}
