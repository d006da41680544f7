// Package config предоставялет структуры и функцию для парсинга и загрузки конфига
package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config общая структура для хранения настроек
type Config struct {
	Env                     string `yaml:"env" env:"ENV" env-default:"local"`
	StorageConnectionString string `yaml:"storage_connection_string" env:"STORAGE_CONNECTION_STRING"`
	MigrationsPath          string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"./migrations"`
	RedisConnection         `yaml:"redis_connection"`
	RabbitMQ                `yaml:"rabbitmq"`
	HTTPServer              `yaml:"http_server"`
	Session                 `yaml:"session"`
	Checkout                `yaml:"checkout"`
	Panel                   `yaml:"panel"`
	SubscriptionAPI         `yaml:"subscription_api"`
	Stripe                  `yaml:"stripe"`
	PayPal                  `yaml:"paypal"`
	Scheduler               `yaml:"scheduler"`
}

// HTTPServer структура для настройки сервера
type HTTPServer struct {
	AddressHTTP string        `yaml:"addresshttp" env:"HTTP_ADDRESS" env-default:":8080"`
	TimeoutHTTP time.Duration `yaml:"timeouthttp" env-default:"10s"`
	IdleTimeout time.Duration `yaml:"idle_timeout" env-default:"60s"`
	// RateLimit и RateBurst ограничивают POST /api/subscription.
	RateLimit float64 `yaml:"rate_limit" env-default:"1"`
	RateBurst int     `yaml:"rate_burst" env-default:"3"`
}

// RedisConnection структура для настройки подключения к redis
type RedisConnection struct {
	AddressRedis string        `yaml:"addressredis" env:"REDIS_ADDRESS"`
	Password     string        `yaml:"password" env:"REDIS_PASSWORD"`
	User         string        `yaml:"user"`
	DB           int           `yaml:"db"`
	MaxRetries   int           `yaml:"max_retries"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	TimeoutRedis time.Duration `yaml:"timeoutredis"`
	CacheTTL     time.Duration `yaml:"cache_ttl" env-default:"10m"`
}

// RabbitMQ структура для подключения к брокеру событий
type RabbitMQ struct {
	RabbitMQURL        string        `yaml:"url" env:"RABBITMQ_URL"`
	RabbitMQMaxRetries int           `yaml:"max_retries" env-default:"5"`
	RabbitMQRetryDelay time.Duration `yaml:"retry_delay" env-default:"2s"`
	Exchange           string        `yaml:"exchange" env-default:"notifications"`
}

// Session структура для проверки сессионного токена
type Session struct {
	JWTSecretKey string        `yaml:"jwt_secret_key" env:"SESSION_SECRET"`
	CookieName   string        `yaml:"cookie_name" env-default:"session"`
	TokenTTL     time.Duration `yaml:"token_ttl" env-default:"720h"`
}

// Checkout содержит внешние ссылки на оплату у провайдеров
type Checkout struct {
	StripeMonthlyURL string `yaml:"stripe_monthly_url" env:"STRIPE_MONTHLY_URL"`
	StripeYearlyURL  string `yaml:"stripe_yearly_url" env:"STRIPE_YEARLY_URL"`
	PayPalMonthlyURL string `yaml:"paypal_monthly_url" env:"PAYPAL_MONTHLY_URL"`
	PayPalYearlyURL  string `yaml:"paypal_yearly_url" env:"PAYPAL_YEARLY_URL"`
}

// Panel задержки перед перенаправлениями на странице биллинга
type Panel struct {
	ReloadDelay        time.Duration `yaml:"reload_delay" env-default:"2s"`
	LoginRedirectDelay time.Duration `yaml:"login_redirect_delay" env-default:"3s"`
}

// SubscriptionAPI адрес API подтверждения подписки
type SubscriptionAPI struct {
	BaseURL string        `yaml:"base_url" env:"SUBSCRIPTION_API_URL" env-default:"http://localhost:8080"`
	Timeout time.Duration `yaml:"timeout" env-default:"5s"`
}

// Stripe ключи Stripe
type Stripe struct {
	SecretKey     string `yaml:"secret_key" env:"STRIPE_SECRET_KEY"`
	WebhookSecret string `yaml:"webhook_secret" env:"STRIPE_WEBHOOK_SECRET"`
}

// PayPal ключи PayPal
type PayPal struct {
	ClientID     string `yaml:"client_id" env:"PAYPAL_CLIENT_ID"`
	ClientSecret string `yaml:"client_secret" env:"PAYPAL_CLIENT_SECRET"`
	APIURL       string `yaml:"api_url" env:"PAYPAL_API_URL" env-default:"https://api-m.paypal.com"`
	WebhookID    string `yaml:"webhook_id" env:"PAYPAL_WEBHOOK_ID"`
}

// Scheduler расписания фоновых задач в формате cron
type Scheduler struct {
	ExpireSpec      string `yaml:"expire_spec" env-default:"@every 1h"`
	TrialNoticeSpec string `yaml:"trial_notice_spec" env-default:"0 9 * * *"`
}

// MustLoad функция для загрузки конфига, возвращает конфиг, прочитанный из файла CONFIG_PATH
func MustLoad() *Config {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		log.Fatal("CONFIG_PATH is not set")
	}
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		log.Fatalf("file: %s - does not exist", configPath)
	}
	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return &cfg
}

func (c *Config) String() string {
	return fmt.Sprintf(
		"Env: %s\n"+
			"StorageConnectionString: %s\n"+
			"RedisConnection:\n"+
			"  Addr: %s\n"+
			"  DB: %d\n"+
			"  CacheTTL: %s\n"+
			"RabbitMQ:\n"+
			"  URL: %s\n"+
			"  Exchange: %s\n"+
			"HTTPServer:\n"+
			"  Address: %s\n"+
			"  Timeout: %s\n"+
			"  IdleTimeout: %s\n"+
			"Panel:\n"+
			"  ReloadDelay: %s\n"+
			"  LoginRedirectDelay: %s\n"+
			"SubscriptionAPI:\n"+
			"  BaseURL: %s\n",
		c.Env,
		mask(c.StorageConnectionString),
		c.AddressRedis,
		c.DB,
		c.CacheTTL,
		mask(c.RabbitMQURL),
		c.Exchange,
		c.AddressHTTP,
		c.TimeoutHTTP,
		c.IdleTimeout,
		c.ReloadDelay,
		c.LoginRedirectDelay,
		c.BaseURL,
	)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}
