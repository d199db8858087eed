package main

import (
	"os"
	"time"

	log "github.com/sirupsen/logrus"
)

// InitLogger sets the level and encoding of the agent log.
func InitLogger(level, encoding string) {
	switch level {
	case "debug":
		log.SetLevel(log.DebugLevel)
	case "warning":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}

	if encoding == "json" {
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})
	} else {
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339Nano,
		})
	}
	log.SetOutput(os.Stdout)
}
