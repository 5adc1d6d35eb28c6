package config

import (
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// envOverrides mirrors the variables of the household .env file. Pointer
// fields stay nil when the variable is unset so the YAML value survives.
type envOverrides struct {
	HomeserverURL *string `envconfig:"MATRIX_HOMESERVER_URL"`
	BotUsername   *string `envconfig:"MATRIX_BOT_USERNAME"`
	BotToken      *string `envconfig:"MATRIX_BOT_TOKEN"`
	BotName       *string `envconfig:"MATRIX_BOT_DISPLAY_NAME"`

	DatabaseURL *string `envconfig:"DATABASE_URL"`
	DBDriver    *string `envconfig:"DB_DRIVER"`
	DBHost      *string `envconfig:"DB_HOST"`
	DBPort      *int    `envconfig:"DB_PORT"`
	DBName      *string `envconfig:"DB_NAME"`
	DBUser      *string `envconfig:"DB_USER"`
	DBPassword  *string `envconfig:"DB_PASSWORD"`
	DBPath      *string `envconfig:"DB_PATH"`

	OllamaHost *string `envconfig:"OLLAMA_HOST"`
	Model      *string `envconfig:"OLLAMA_MODEL"`
	AIEnabled  *bool   `envconfig:"AI_ENABLED"`
	// AITimeout is in seconds, as in the original deployment.
	AITimeout *int `envconfig:"AI_TIMEOUT"`

	CalDAVURL      *string `envconfig:"CALDAV_URL"`
	CalDAVUsername *string `envconfig:"CALDAV_USERNAME"`
	CalDAVPassword *string `envconfig:"CALDAV_PASSWORD"`

	ImmichURL *string `envconfig:"IMMICH_API_URL"`
	ImmichKey *string `envconfig:"IMMICH_API_KEY"`

	BriefingEnabled *bool   `envconfig:"BRIEFING_ENABLED"`
	BriefingTime    *string `envconfig:"BRIEFING_TIME"`
	PrimaryRoom     *string `envconfig:"PRIMARY_ROOM_ID"`

	WeatherKey     *string `envconfig:"WEATHER_API_KEY"`
	WeatherCity    *string `envconfig:"WEATHER_CITY"`
	WeatherCountry *string `envconfig:"WEATHER_COUNTRY"`

	NewsFeeds *string `envconfig:"NEWS_FEEDS"` // comma separated

	MQTTBroker *string `envconfig:"MQTT_BROKER"`

	Timezone *string `envconfig:"TIMEZONE"`
	LogLevel *string `envconfig:"LOG_LEVEL"`
}

// applyEnv overlays set environment variables onto c.
func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return err
	}

	setString(&c.Matrix.HomeserverURL, env.HomeserverURL)
	setString(&c.Matrix.UserID, env.BotUsername)
	setString(&c.Matrix.AccessToken, env.BotToken)
	setString(&c.Matrix.DisplayName, env.BotName)

	setString(&c.Database.DSN, env.DatabaseURL)
	setString(&c.Database.Driver, env.DBDriver)
	setString(&c.Database.Host, env.DBHost)
	if env.DBPort != nil {
		c.Database.Port = *env.DBPort
	}
	setString(&c.Database.Name, env.DBName)
	setString(&c.Database.User, env.DBUser)
	setString(&c.Database.Password, env.DBPassword)
	setString(&c.Database.Path, env.DBPath)

	setString(&c.AI.OllamaURL, env.OllamaHost)
	setString(&c.AI.Model, env.Model)
	if env.AIEnabled != nil {
		c.AI.Enabled = *env.AIEnabled
	}
	if env.AITimeout != nil {
		c.AI.Timeout = time.Duration(*env.AITimeout) * time.Second
	}

	setString(&c.Calendar.URL, env.CalDAVURL)
	setString(&c.Calendar.Username, env.CalDAVUsername)
	setString(&c.Calendar.Password, env.CalDAVPassword)

	setString(&c.Photos.URL, env.ImmichURL)
	setString(&c.Photos.APIKey, env.ImmichKey)

	if env.BriefingEnabled != nil {
		c.Briefing.Enabled = *env.BriefingEnabled
	}
	setString(&c.Briefing.Time, env.BriefingTime)
	setString(&c.Briefing.PrimaryRoom, env.PrimaryRoom)

	setString(&c.Weather.APIKey, env.WeatherKey)
	setString(&c.Weather.City, env.WeatherCity)
	setString(&c.Weather.Country, env.WeatherCountry)

	if env.NewsFeeds != nil {
		c.News.Feeds = splitList(*env.NewsFeeds)
	}

	setString(&c.MQTT.Broker, env.MQTTBroker)

	setString(&c.Timezone, env.Timezone)
	setString(&c.LogLevel, env.LogLevel)
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
