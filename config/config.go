package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	DBHost     string `envconfig:"DB_HOST" default:"localhost"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"trialhand"`
	DBPassword string `envconfig:"DB_PASSWORD"`
	DBName     string `envconfig:"DB_NAME" default:"trialhand"`

	HTTPPort string `envconfig:"HTTP_PORT" default:"4243"`

	CTGovBaseURL string `envconfig:"CTGOV_BASE_URL" default:"https://clinicaltrials.gov/api/query"`
	// Seitengröße der Registry-Paginierung; die API liefert höchstens 1000
	// Studien pro Anfrage.
	CTGovPageSize int `envconfig:"CTGOV_PAGE_SIZE" default:"1000"`
	// Wartezeit in Sekunden vor jeder Anfrage nach der ersten.
	CTGovFetchDelaySeconds int `envconfig:"CTGOV_FETCH_DELAY_SECONDS" default:"3"`

	// Erhebungsfenster: Studien mit Startjahr außerhalb [From, To] werden verworfen.
	WindowFromYear int `envconfig:"WINDOW_FROM_YEAR" default:"2007"`
	WindowToYear   int `envconfig:"WINDOW_TO_YEAR" default:"2021"`

	// Verzeichnis für die flachen Cache-Dateien (Roh- und bereinigter Datensatz).
	DataDir string `envconfig:"DATA_DIR" default:"./data"`
	// Optionale YAML-Datei mit Topics und Alias-Tabellen; fehlt sie, gelten
	// die eingebauten Standardtabellen.
	TopicsFile string `envconfig:"TOPICS_FILE" default:"topics.yaml"`

	// ForceRefresh ignoriert vorhandene Cache-Dateien beim nächsten Lauf.
	ForceRefresh bool `envconfig:"FORCE_REFRESH" default:"false"`

	CronSchedule string `envconfig:"CRON_SCHEDULE" default:"0 4 * * 0"`

	APISecretKey string `envconfig:"API_SECRET_KEY"`

	DebugMaxRecords int `envconfig:"DEBUG_MAX_RECORDS" default:"30"`

	// Strato-HiDrive-Zugang für Snapshots; ohne Key bleibt der Upload aus.
	StratoS3Key    string `envconfig:"STRATO_S3_KEY"`
	StratoS3Secret string `envconfig:"STRATO_S3_SECRET"`
	StratoS3URL    string `envconfig:"STRATO_S3_URL"`
	StratoS3Region string `envconfig:"STRATO_S3_REGION"`
	StratoS3Bucket string `envconfig:"STRATO_S3_BUCKET"`
	SnapshotPrefix string `envconfig:"SNAPSHOT_PREFIX" default:"snapshots"`
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// FetchDelay gibt die Wartezeit zwischen zwei Registry-Anfragen zurück.
func (c *Config) FetchDelay() time.Duration {
	return time.Duration(c.CTGovFetchDelaySeconds) * time.Second
}

// WindowStart ist der erste Tag des Erhebungsfensters (1. Januar des Startjahres).
func (c *Config) WindowStart() time.Time {
	return time.Date(c.WindowFromYear, time.January, 1, 0, 0, 0, 0, time.UTC)
}

// WindowEnd ist der letzte Tag des Erhebungsfensters (31. Dezember des Endjahres).
func (c *Config) WindowEnd() time.Time {
	return time.Date(c.WindowToYear, time.December, 31, 0, 0, 0, 0, time.UTC)
}

// S3Enabled meldet, ob ein Snapshot-Upload konfiguriert ist.
func (c *Config) S3Enabled() bool {
	return c.StratoS3Key != "" && c.StratoS3Bucket != ""
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	err := envconfig.Process("", &c)
	return &c, err
}
