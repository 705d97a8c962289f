package config

import (
	"log"
	"sync"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config contient la configuration principale de l'API.
type Config struct {
	Env  string `env:"API_ENV" envDefault:"development"`
	Port string `env:"API_PORT" envDefault:"8080"`

	JWTSecret string `env:"API_JWT_SECRET" envDefault:"changeme-super-secret"`

	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL" envDefault:"redis://localhost:6379"`

	// SMTP (désactivé si vide : les mails sont seulement journalisés)
	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser     string `env:"SMTP_USER"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	MailFrom     string `env:"MAIL_FROM" envDefault:"noreply@trackdechets.beta.gouv.fr"`

	LogFile  string `env:"LOG_FILE"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Constantes de politique métier, configurables mais avec les
	// valeurs réglementaires par défaut.
	MaxPendingAdminRequests int           `env:"MAX_PENDING_ADMIN_REQUESTS" envDefault:"5"`
	MaxCodeAttempts         int           `env:"MAX_CODE_ATTEMPTS" envDefault:"3"`
	AdminRequestExpiry      time.Duration `env:"ADMIN_REQUEST_EXPIRY" envDefault:"336h"` // 14 jours
	AdminOnlyWindow         time.Duration `env:"ADMIN_ONLY_WINDOW" envDefault:"24h"`

	AdminRequestLockTTL     time.Duration `env:"ADMIN_REQUEST_LOCK_TTL" envDefault:"10s"`
	AdminRequestLockTimeout time.Duration `env:"ADMIN_REQUEST_LOCK_TIMEOUT" envDefault:"5s"`
}

var (
	cfg  Config
	once sync.Once
)

// Load charge la configuration à partir des variables d'environnement.
// Le fichier .env est optionnel.
func Load() Config {
	once.Do(func() {
		if err := godotenv.Load(); err != nil {
			log.Println("pas de .env trouvé")
		}
		if err := env.Parse(&cfg); err != nil {
			log.Fatal("Erreur lecture configuration:", err)
		}
		if cfg.Env == "production" && cfg.JWTSecret == "changeme-super-secret" {
			log.Println("[AVERTISSEMENT] API_JWT_SECRET utilise la valeur par défaut. Ne pas utiliser en production.")
		}
	})
	return cfg
}

func (c Config) HTTPAddr() string {
	return ":" + c.Port
}
