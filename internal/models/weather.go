package models

// CurrentWeather is the normalized current-conditions document served by
// /api/weather and /api/weather/coords.
type CurrentWeather struct {
	City        string  `json:"city"`
	Country     string  `json:"country"`
	Temp        float64 `json:"temp"`
	FeelsLike   float64 `json:"feels_like"`
	TempMin     float64 `json:"temp_min"`
	TempMax     float64 `json:"temp_max"`
	Humidity    int     `json:"humidity"`
	Pressure    int     `json:"pressure"`
	WindSpeed   float64 `json:"wind_speed"`
	WindDeg     float64 `json:"wind_deg"`
	Visibility  int     `json:"visibility"`
	Condition   string  `json:"condition"`
	Description string  `json:"description"`
	Icon        string  `json:"icon"`
	Sunrise     int64   `json:"sunrise"`
	Sunset      int64   `json:"sunset"`
	Dt          int64   `json:"dt"`
	Timezone    int64   `json:"timezone"`
}

// Forecast is the normalized forecast document served by /api/forecast.
// List keeps the upstream granularity (3-hour steps) and order.
type Forecast struct {
	City    string          `json:"city"`
	Country string          `json:"country"`
	List    []ForecastEntry `json:"list"`
}

type ForecastEntry struct {
	Dt        int64   `json:"dt"`
	Temp      float64 `json:"temp"`
	Condition string  `json:"condition"`
	Icon      string  `json:"icon"`
	DtTxt     string  `json:"dt_txt"`
}
