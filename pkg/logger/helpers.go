package logger

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// LogRequest logs a completed HTTP exchange at a level matching its status
func LogRequest(log Logger, method, url string, statusCode int, duration time.Duration) {
	fields := map[string]interface{}{
		"method":      method,
		"url":         url,
		"status_code": statusCode,
		"duration_ms": duration.Milliseconds(),
	}

	switch {
	case statusCode >= 500:
		log.WarnWithFields("HTTP request server error", fields)
	case statusCode >= 400:
		log.WarnWithFields("HTTP request client error", fields)
	default:
		log.DebugWithFields("HTTP request completed", fields)
	}
}

// LogUpload logs the result of mirroring one post
func LogUpload(log Logger, postID, tagCount int, err error) {
	l := log.WithFields(map[string]interface{}{
		"post_id": postID,
		"tags":    tagCount,
	})

	if err != nil {
		l.WithError(err).Error("Upload failed")
		return
	}
	l.Debug("Upload completed")
}

// LogSyncProgress logs how far a sync run has come
func LogSyncProgress(log Logger, strategy string, downloaded, goal int) {
	percentage := 0.0
	if goal > 0 {
		percentage = float64(downloaded) / float64(goal) * 100
	}

	log.WithFields(map[string]interface{}{
		"strategy":   strategy,
		"downloaded": downloaded,
		"goal":       goal,
		"percentage": fmt.Sprintf("%.1f%%", percentage),
	}).Debug("Sync progress")
}

// LogComponentStart logs when a component starts
func LogComponentStart(log Logger, component string, config map[string]interface{}) {
	l := log.WithField("component", component)
	if len(config) > 0 {
		l = l.WithFields(config)
	}
	l.Info("Component started")
}

// NewNopLogger returns a Logger that discards everything
func NewNopLogger() Logger {
	return &zerologLogger{zl: zerolog.Nop()}
}
