// Package config loads worker and dispatcher process configuration the way
// the teacher's internal/config/config.go does: godotenv.Load populates the
// environment from a .env file, getEnvOrDefault-style helpers read it, and
// the one required key (BROKER_URL) fails fast with a validation error
// before anything else runs. The per-scan detection tuning (browser/login_page/
// idp/recognition/keyword_recognition/logo_recognition/artifacts, §6) is a
// separate, larger document loaded from YAML via gopkg.in/yaml.v3, the way
// the teacher tags its own Config struct with yaml:"..." fields.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/BetterCallFirewall/authlandscape/internal/models"
)

// ProcessConfig holds the environment-derived settings common to both
// cmd/worker and cmd/dispatcher: broker connection, reply-channel
// credentials, and backing-store endpoints (§6 "Configuration", §4.8/§4.9).
type ProcessConfig struct {
	BrokerURL string

	// ReplyBasicAuthUser/Pass authenticate the worker's PUT back to the
	// dispatcher's reply_to URL (§4.8).
	ReplyBasicAuthUser string
	ReplyBasicAuthPass string

	MongoURI    string
	MongoDBName string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioUseSSL    bool

	// DispatcherReplyBaseURL is the base URL the dispatcher publishes as
	// reply_to on every task it materializes (§4.9).
	DispatcherReplyBaseURL string

	// WallTimeBudget bounds one task's total processing time in the
	// worker's child supervisor (§4.8, default 3h per §5).
	WallTimeBudget time.Duration

	// CookieStoreDir, if set, names a directory of per-IdP cookie-jar JSON
	// files the worker restores into a fresh context before a run and
	// writes back after each run (supplemented feature 1). Empty
	// disables the cookie store entirely.
	CookieStoreDir string

	LogLevel string
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Load reads .env (if present) plus the process environment into a
// ProcessConfig, failing validation if BROKER_URL is unset — the one key
// with no sane default, since both worker and dispatcher are useless
// without a broker to talk to.
func Load() (*ProcessConfig, error) {
	// godotenv.Load returns an error when no .env file exists; that is not
	// fatal here since environment variables alone are a valid
	// configuration (unlike the teacher, which treats a missing .env as
	// fatal because it has no non-LLM deployment mode).
	_ = godotenv.Load()

	brokerURL := os.Getenv("BROKER_URL")
	if brokerURL == "" {
		return nil, errors.New("BROKER_URL environment variable is required but not set")
	}

	return &ProcessConfig{
		BrokerURL:              brokerURL,
		ReplyBasicAuthUser:     os.Getenv("REPLY_BASIC_AUTH_USER"),
		ReplyBasicAuthPass:     os.Getenv("REPLY_BASIC_AUTH_PASS"),
		MongoURI:               getEnvOrDefault("MONGO_URI", "mongodb://localhost:27017"),
		MongoDBName:            getEnvOrDefault("MONGO_DB_NAME", "authlandscape"),
		MinioEndpoint:          getEnvOrDefault("MINIO_ENDPOINT", "localhost:9000"),
		MinioAccessKey:         os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey:         os.Getenv("MINIO_SECRET_KEY"),
		MinioUseSSL:            getEnvOrDefault("MINIO_USE_SSL", "false") == "true",
		DispatcherReplyBaseURL: getEnvOrDefault("DISPATCHER_REPLY_BASE_URL", "http://localhost:8000/reply"),
		WallTimeBudget:         durationOrDefault("TASK_WALL_TIME_BUDGET", 3*time.Hour),
		CookieStoreDir:         os.Getenv("COOKIE_STORE_DIR"),
		LogLevel:               getEnvOrDefault("LOG_LEVEL", "info"),
	}, nil
}

func durationOrDefault(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

// LoadScanConfig reads the §6 detection-tuning document (browser,
// login_page, idp, recognition, keyword_recognition, logo_recognition,
// artifacts) from a YAML file, used as the default ScanConfig for a scan
// that doesn't override it and as the --config flag's payload for
// cmd/worker's single-domain CLI mode.
func LoadScanConfig(path string) (models.ScanConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return models.ScanConfig{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := DefaultScanConfig()
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return models.ScanConfig{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// idpRulesetDocument is the top-level shape of the IdP ruleset YAML file:
// a flat list under an `idps:` key, one entry per detectable identity
// provider (§3 IdpRuleset, §6).
type idpRulesetDocument struct {
	IdPs []models.IdPRuleset `yaml:"idps"`
}

// LoadIdPRulesets reads the static, process-wide IdP detection rulesets
// (§3 IdpRuleset) a worker loads once at startup and holds read-only for
// the lifetime of the process (§5 "hot-swappable via an atomic pointer" —
// the swap itself is an operational concern outside this module's scope).
func LoadIdPRulesets(path string) ([]models.IdPRuleset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read idp rulesets %s: %w", path, err)
	}

	var doc idpRulesetDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("config: parse idp rulesets %s: %w", path, err)
	}
	return doc.IdPs, nil
}

// DefaultScanConfig returns the §6 defaults used when no YAML override is
// given: sensible browser timeouts (models.DefaultBrowserConfig), the
// HOMEPAGE, PATHS, CRAWLING, SITEMAP and ROBOTS login-page strategies
// enabled (MANUAL and METASEARCH are not), NORMAL recognition mode, and
// artifact storage on for screenshots only.
func DefaultScanConfig() models.ScanConfig {
	return models.ScanConfig{
		Browser: models.DefaultBrowserConfig(),
		LoginPage: models.LoginPageConfig{
			StrategyScope: []models.LoginPageStrategy{
				models.StrategyHomepage,
				models.StrategyPaths,
				models.StrategyCrawling,
				models.StrategySitemap,
				models.StrategyRobots,
			},
			Paths: models.PathsStrategyConfig{
				Schemes: []string{"https", "http"},
				Paths:   []string{"login", "signin", "account/login", "users/sign_in"},
			},
			Crawling: models.CrawlingStrategyConfig{
				LoginRegex:         `(?i)(log[\s_-]?in|sign[\s_-]?in)`,
				GenericKeywords:    []string{"log in", "sign in", "login", "account"},
				MaxElementsToClick: 5,
			},
			Sitemap: models.SitemapStrategyConfig{
				LoginRegex:     `(?i)(log[\s_-]?in|sign[\s_-]?in)`,
				MaxDepth:       2,
				MaxSitemapURLs: 5000,
			},
			Robots: models.RobotsStrategyConfig{
				LoginRegex: `(?i)(log[\s_-]?in|sign[\s_-]?in)`,
			},
			URLRegexes: []models.PriorityRule{
				{Regex: `(?i)/login`, Priority: 10},
				{Regex: `(?i)/signin`, Priority: 10},
				{Regex: `(?i)/account`, Priority: 5},
			},
		},
		Recognition: models.RecognitionConfig{
			Mode: models.RecognitionNormal,
			StrategyScope: []models.RecognitionStrategy{
				models.RecognitionKeywordCSS,
				models.RecognitionKeywordXPath,
				models.RecognitionLogo,
			},
		},
		KeywordRecognition: models.KeywordRecognitionConfig{
			MaxElementsToClick: 3,
		},
		LogoRecognition: models.LogoRecognitionConfig{
			LogoSize:           64,
			MaxElementsToClick: 3,
			MaxMatching:        0.95,
			UpperBound:         0.8,
			LowerBound:         0.5,
			ScaleUpperBound:    1.5,
			ScaleLowerBound:    0.5,
			ScaleMethod:        models.ScaleTemplate,
			ScaleSpace:         models.ScaleLinspace,
			ScaleOrder:         models.ScaleDescending,
			MatchIntensity:     5,
			MatchAlgorithm:     models.MatchCorrelation,
		},
		Artifacts: models.ArtifactConfig{
			StoreIdPScreenshot:                 true,
			StoreSSOButtonDetectionScreenshot:  true,
		},
	}
}
