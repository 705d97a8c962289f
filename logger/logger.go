package logger

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/MTES-MCT/trackdechets-sub030/config"
)

var (
	instance *logrus.Logger
	once     sync.Once
)

// Get renvoie le logger applicatif partagé. Initialisé au premier appel
// à partir de la configuration (niveau, fichier avec rotation).
func Get() *logrus.Logger {
	once.Do(func() {
		cfg := config.Load()

		instance = logrus.New()
		instance.SetFormatter(&logrus.JSONFormatter{})

		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			level = logrus.InfoLevel
		}
		instance.SetLevel(level)

		if cfg.LogFile != "" {
			instance.SetOutput(&lumberjack.Logger{
				Filename:   cfg.LogFile,
				MaxSize:    100, // Mo
				MaxBackups: 5,
				MaxAge:     30, // jours
				Compress:   true,
			})
		} else {
			instance.SetOutput(os.Stdout)
			instance.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		}
	})
	return instance
}
