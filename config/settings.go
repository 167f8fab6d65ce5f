package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/mmdatafocus/order_printer/utils"
)

const (
	defaultPort        = "8080"
	defaultAPIVersion  = "v202108"
	defaultShopHeader  = "X-AllValue-Shop-Domain"
	defaultPollSeconds = 3600
	defaultPageSize    = 50
)

func init() {
	// Load env from .env
	godotenv.Load()
}

// Settings is the process configuration read from the environment at startup.
// Operational toggles (printer, auto print, polling, print method) are NOT here;
// they live in the settings table and are read per decision.
type Settings struct {
	Port  string `validate:"required,numeric"`
	GoEnv string

	DBDriver   string `validate:"oneof=mysql postgres sqlite"`
	DBUser     string
	DBPassword string
	DBHost     string
	DBPort     string
	DBName     string
	DBPath     string `validate:"required_if=DBDriver sqlite"`

	RedisAddress string

	ShopName        string `validate:"required"`
	ShopDisplayName string
	GraphQLEndpoint string `validate:"required,url"`
	WebhookSecret   string
	ShopDomain      string
	ShopHeader      string `validate:"required"`

	PermanentToken    string
	OAuthClientID     string
	OAuthClientSecret string `validate:"required_with=OAuthClientID"`
	OAuthTokenURL     string `validate:"required_with=OAuthClientID,omitempty,url"`

	HTTPTimeout     time.Duration `validate:"min=1s"`
	RateLimitPerMin int           `validate:"min=1"`

	PollInterval time.Duration `validate:"min=1s"`
	PollPageSize int           `validate:"min=1,max=250"`

	AdminAPIToken      string
	CORSAllowedOrigins []string `validate:"dive,cors_origin"`

	PDFFontPath      string
	PDFArchiveBucket string
	PDFArchiveDir    string

	OrderEventsTopic string
	PubSubProjectID  string

	OTLPEndpoint string
}

// Load reads Settings from the environment and validates it.
func Load() (Settings, error) {
	shop := utils.EnvString("", "SHOP_NAME")
	apiVersion := utils.EnvString(defaultAPIVersion, "ALLVALUE_API_VERSION")
	endpoint := utils.EnvString("", "ALLVALUE_GRAPHQL_ENDPOINT")
	if endpoint == "" && shop != "" {
		endpoint = fmt.Sprintf("https://%s.myallvalue.com/admin/api/open/graphql/%s", shop, apiVersion)
	}
	shopDomain := utils.EnvString("", "ALLVALUE_SHOP_DOMAIN")
	if shopDomain == "" && shop != "" {
		shopDomain = shop + ".myallvalue.com"
	}

	s := Settings{
		Port:  utils.EnvString(defaultPort, "ORDER_SYNC_PORT", "PORT"),
		GoEnv: utils.EnvString("", "GO_ENV"),

		DBDriver:   strings.ToLower(utils.EnvString("sqlite", "DB_DRIVER")),
		DBUser:     utils.EnvString("", "DB_USER"),
		DBPassword: utils.EnvString("", "DB_PASSWORD"),
		DBHost:     utils.EnvString("", "DB_HOST"),
		DBPort:     utils.EnvString("", "DB_PORT"),
		DBName:     utils.EnvString("orders", "DB_NAME"),
		DBPath:     utils.EnvString("data/orders.db", "DB_PATH"),

		RedisAddress: utils.EnvString("", "REDIS_ADDRESS"),

		ShopName:        shop,
		ShopDisplayName: utils.EnvString(shop, "SHOP_DISPLAY_NAME"),
		GraphQLEndpoint: endpoint,
		WebhookSecret:   utils.EnvString("", "ALLVALUE_WEBHOOK_SECRET"),
		ShopDomain:      shopDomain,
		ShopHeader:      utils.EnvString(defaultShopHeader, "ALLVALUE_SHOP_HEADER"),

		PermanentToken:    utils.EnvString("", "ALLVALUE_PERMANENT_TOKEN"),
		OAuthClientID:     utils.EnvString("", "ALLVALUE_CLIENT_ID"),
		OAuthClientSecret: utils.EnvString("", "ALLVALUE_CLIENT_SECRET"),
		OAuthTokenURL:     utils.EnvString("", "ALLVALUE_TOKEN_URL"),

		HTTPTimeout:     utils.DurationSecondsFromEnv("ALLVALUE_HTTP_TIMEOUT_SECONDS", 10*time.Second),
		RateLimitPerMin: utils.IntFromEnv("ALLVALUE_RATE_LIMIT_PER_MIN", 120),

		PollInterval: utils.DurationSecondsFromEnv("POLL_INTERVAL_SECONDS", defaultPollSeconds*time.Second),
		PollPageSize: utils.IntFromEnv("POLL_PAGE_SIZE", defaultPageSize),

		AdminAPIToken:      utils.EnvString("", "ADMIN_API_TOKEN"),
		CORSAllowedOrigins: utils.SplitAndTrim(utils.EnvString("", "CORS_ALLOWED_ORIGINS")),

		PDFFontPath:      utils.EnvString("", "PDF_FONT_PATH"),
		PDFArchiveBucket: utils.EnvString("", "PDF_ARCHIVE_BUCKET"),
		PDFArchiveDir:    utils.EnvString("", "PDF_ARCHIVE_DIR"),

		OrderEventsTopic: utils.EnvString("", "ORDER_EVENTS_TOPIC"),
		PubSubProjectID:  utils.EnvString("", "PUBSUB_PROJECT_ID", "GOOGLE_CLOUD_PROJECT", "GCP_PROJECT"),

		OTLPEndpoint: utils.EnvString("", "OTEL_EXPORTER_OTLP_ENDPOINT"),
	}
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

func (s Settings) Validate() error {
	validate := validator.New()
	if err := validate.RegisterValidation("cors_origin", isCORSOrigin); err != nil {
		return err
	}
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// isCORSOrigin accepts a bare http(s) origin such as https://admin.example.com.
func isCORSOrigin(fl validator.FieldLevel) bool {
	u, err := url.Parse(fl.Field().String())
	if err != nil || u.Host == "" {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && (u.Path == "" || u.Path == "/")
}

func (s Settings) IsProduction() bool {
	return strings.EqualFold(s.GoEnv, "production")
}
