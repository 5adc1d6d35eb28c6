package briefing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/memu-digital/memu-bot/internal/httpkit"
)

// Weather is the current conditions for the household's city.
type Weather struct {
	City        string
	Temp        int
	FeelsLike   int
	Description string
	Icon        string
	Humidity    int
}

// String renders one line, e.g. "☁️ Leeds: 5°C (feels like 2°C), overcast clouds".
func (w Weather) String() string {
	return fmt.Sprintf("%s %s: %d°C (feels like %d°C), %s", w.Icon, w.City, w.Temp, w.FeelsLike, w.Description)
}

var weatherIcons = map[string]string{
	"01d": "☀️", "01n": "🌙",
	"02d": "⛅", "02n": "☁️",
	"03d": "☁️", "03n": "☁️",
	"04d": "☁️", "04n": "☁️",
	"09d": "🌧️", "09n": "🌧️",
	"10d": "🌦️", "10n": "🌧️",
	"11d": "⛈️", "11n": "⛈️",
	"13d": "🌨️", "13n": "🌨️",
	"50d": "🌫️", "50n": "🌫️",
}

func weatherEmoji(code string) string {
	if e, ok := weatherIcons[code]; ok {
		return e
	}
	return "🌤️"
}

// errNoWeatherKey means weather lookups are switched off.
var errNoWeatherKey = errors.New("no weather API key")

type owmResponse struct {
	Name string `json:"name"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  int     `json:"humidity"`
	} `json:"main"`
	Weather []struct {
		Description string `json:"description"`
		Icon        string `json:"icon"`
	} `json:"weather"`
}

// WeatherClient reads current conditions from OpenWeatherMap.
type WeatherClient struct {
	rc      *resty.Client
	apiKey  string
	city    string
	country string
}

// NewWeatherClient creates a client. baseURL defaults to the public API.
func NewWeatherClient(baseURL, apiKey, city, country string, logger *slog.Logger) *WeatherClient {
	if baseURL == "" {
		baseURL = "https://api.openweathermap.org"
	}
	return &WeatherClient{
		rc:      httpkit.NewRestClient(baseURL, httpkit.WithTimeout(10*time.Second), httpkit.WithLogger(logger)),
		apiKey:  apiKey,
		city:    city,
		country: country,
	}
}

// Current fetches the conditions in metric units.
func (c *WeatherClient) Current(ctx context.Context) (Weather, error) {
	if c == nil || c.apiKey == "" || c.city == "" {
		return Weather{}, errNoWeatherKey
	}
	q := c.city
	if c.country != "" {
		q += "," + c.country
	}

	var body owmResponse
	resp, err := c.rc.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"q": q, "appid": c.apiKey, "units": "metric"}).
		SetResult(&body).
		Get("/data/2.5/weather")
	if err != nil {
		return Weather{}, fmt.Errorf("weather: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return Weather{}, fmt.Errorf("weather: status %d", resp.StatusCode())
	}
	if len(body.Weather) == 0 {
		return Weather{}, fmt.Errorf("weather: empty conditions")
	}

	w := Weather{
		City:        body.Name,
		Temp:        int(math.Round(body.Main.Temp)),
		FeelsLike:   int(math.Round(body.Main.FeelsLike)),
		Description: body.Weather[0].Description,
		Icon:        weatherEmoji(body.Weather[0].Icon),
		Humidity:    body.Main.Humidity,
	}
	if w.City == "" {
		w.City = c.city
	}
	return w, nil
}
