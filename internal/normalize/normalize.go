// Package normalize maps raw OpenWeatherMap payloads onto the stable output
// schema in package models. Mapping is strict: a missing required field fails
// the whole document rather than producing partial output.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kjstillabower/weather-proxy/internal/models"
)

// ErrUnexpectedShape is returned when an upstream payload lacks a required
// field or carries it with the wrong type.
var ErrUnexpectedShape = errors.New("unexpected upstream response")

// Defaults applied when optional upstream fields are absent.
const (
	DefaultWindDeg    = 0
	DefaultVisibility = 10000
)

type conditionPayload struct {
	Main        *string `json:"main"`
	Description *string `json:"description"`
	Icon        *string `json:"icon"`
}

type currentPayload struct {
	Name *string `json:"name"`
	Sys  *struct {
		Country *string `json:"country"`
		Sunrise *int64  `json:"sunrise"`
		Sunset  *int64  `json:"sunset"`
	} `json:"sys"`
	Main *struct {
		Temp      *float64 `json:"temp"`
		FeelsLike *float64 `json:"feels_like"`
		TempMin   *float64 `json:"temp_min"`
		TempMax   *float64 `json:"temp_max"`
		Humidity  *int     `json:"humidity"`
		Pressure  *int     `json:"pressure"`
	} `json:"main"`
	Wind *struct {
		Speed *float64 `json:"speed"`
		Deg   *float64 `json:"deg"`
	} `json:"wind"`
	Weather    []conditionPayload `json:"weather"`
	Visibility *int               `json:"visibility"`
	Dt         *int64             `json:"dt"`
	Timezone   *int64             `json:"timezone"`
}

type forecastPayload struct {
	City *struct {
		Name    *string `json:"name"`
		Country *string `json:"country"`
	} `json:"city"`
	List *[]struct {
		Dt   *int64 `json:"dt"`
		Main *struct {
			Temp *float64 `json:"temp"`
		} `json:"main"`
		Weather []conditionPayload `json:"weather"`
		DtTxt   *string            `json:"dt_txt"`
	} `json:"list"`
}

// field pairs a payload path with whether it was present.
type field struct {
	path    string
	present bool
}

// requireAll returns ErrUnexpectedShape naming the first absent field.
func requireAll(fields ...field) error {
	for _, f := range fields {
		if !f.present {
			return fmt.Errorf("%w: missing field %s", ErrUnexpectedShape, f.path)
		}
	}
	return nil
}

// valueOr returns *p, or def when the optional field was absent.
func valueOr[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

func decode(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrUnexpectedShape, err)
	}
	return nil
}

// firstCondition returns weather[0]. The condition array is taken to be
// ordered by relevance upstream; only the first element is used.
func firstCondition(prefix string, conds []conditionPayload) (conditionPayload, error) {
	if len(conds) == 0 {
		return conditionPayload{}, fmt.Errorf("%w: missing field %sweather[0]", ErrUnexpectedShape, prefix)
	}
	return conds[0], nil
}

// CurrentWeather normalizes a /weather payload.
func CurrentWeather(raw json.RawMessage) (models.CurrentWeather, error) {
	var p currentPayload
	if err := decode(raw, &p); err != nil {
		return models.CurrentWeather{}, err
	}
	if err := requireAll(
		field{"name", p.Name != nil},
		field{"sys", p.Sys != nil},
		field{"main", p.Main != nil},
		field{"wind", p.Wind != nil},
		field{"dt", p.Dt != nil},
		field{"timezone", p.Timezone != nil},
	); err != nil {
		return models.CurrentWeather{}, err
	}
	cond, err := firstCondition("", p.Weather)
	if err != nil {
		return models.CurrentWeather{}, err
	}
	if err := requireAll(
		field{"sys.country", p.Sys.Country != nil},
		field{"sys.sunrise", p.Sys.Sunrise != nil},
		field{"sys.sunset", p.Sys.Sunset != nil},
		field{"main.temp", p.Main.Temp != nil},
		field{"main.feels_like", p.Main.FeelsLike != nil},
		field{"main.temp_min", p.Main.TempMin != nil},
		field{"main.temp_max", p.Main.TempMax != nil},
		field{"main.humidity", p.Main.Humidity != nil},
		field{"main.pressure", p.Main.Pressure != nil},
		field{"wind.speed", p.Wind.Speed != nil},
		field{"weather[0].main", cond.Main != nil},
		field{"weather[0].description", cond.Description != nil},
		field{"weather[0].icon", cond.Icon != nil},
	); err != nil {
		return models.CurrentWeather{}, err
	}

	return models.CurrentWeather{
		City:        *p.Name,
		Country:     *p.Sys.Country,
		Temp:        *p.Main.Temp,
		FeelsLike:   *p.Main.FeelsLike,
		TempMin:     *p.Main.TempMin,
		TempMax:     *p.Main.TempMax,
		Humidity:    *p.Main.Humidity,
		Pressure:    *p.Main.Pressure,
		WindSpeed:   *p.Wind.Speed,
		WindDeg:     valueOr(p.Wind.Deg, DefaultWindDeg),
		Visibility:  valueOr(p.Visibility, DefaultVisibility),
		Condition:   *cond.Main,
		Description: *cond.Description,
		Icon:        *cond.Icon,
		Sunrise:     *p.Sys.Sunrise,
		Sunset:      *p.Sys.Sunset,
		Dt:          *p.Dt,
		Timezone:    *p.Timezone,
	}, nil
}

// Forecast normalizes a /forecast payload. Entries keep upstream order and
// count; nothing is grouped into days.
func Forecast(raw json.RawMessage) (models.Forecast, error) {
	var p forecastPayload
	if err := decode(raw, &p); err != nil {
		return models.Forecast{}, err
	}
	if err := requireAll(
		field{"city", p.City != nil},
		field{"list", p.List != nil},
	); err != nil {
		return models.Forecast{}, err
	}
	if err := requireAll(
		field{"city.name", p.City.Name != nil},
		field{"city.country", p.City.Country != nil},
	); err != nil {
		return models.Forecast{}, err
	}

	items := *p.List
	out := models.Forecast{
		City:    *p.City.Name,
		Country: *p.City.Country,
		List:    make([]models.ForecastEntry, 0, len(items)),
	}
	for i, item := range items {
		prefix := fmt.Sprintf("list[%d].", i)
		cond, err := firstCondition(prefix, item.Weather)
		if err != nil {
			return models.Forecast{}, err
		}
		if err := requireAll(
			field{prefix + "dt", item.Dt != nil},
			field{prefix + "main.temp", item.Main != nil && item.Main.Temp != nil},
			field{prefix + "weather[0].main", cond.Main != nil},
			field{prefix + "weather[0].icon", cond.Icon != nil},
			field{prefix + "dt_txt", item.DtTxt != nil},
		); err != nil {
			return models.Forecast{}, err
		}
		out.List = append(out.List, models.ForecastEntry{
			Dt:        *item.Dt,
			Temp:      *item.Main.Temp,
			Condition: *cond.Main,
			Icon:      *cond.Icon,
			DtTxt:     *item.DtTxt,
		})
	}
	return out, nil
}
