package log

import (
	"crypto/sha256"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
)

// SanitizationMode controls how sensitive data is handled in logs
type SanitizationMode int

const (
	// ProductionMode hashes sensitive data for production use
	ProductionMode SanitizationMode = iota
	// DevelopmentMode shows truncated sensitive data for debugging
	DevelopmentMode
	// DebugMode shows full sensitive data (only for development)
	DebugMode
)

// ModeEnv selects the sanitization mode: production, development or debug.
const ModeEnv = "HNSFS_LOG_MODE"

var currentMode = ProductionMode

func init() {
	if mode, ok := ParseMode(os.Getenv(ModeEnv)); ok {
		currentMode = mode
	}
}

// ParseMode maps a mode name to its SanitizationMode.
func ParseMode(name string) (SanitizationMode, bool) {
	switch strings.ToLower(name) {
	case "production":
		return ProductionMode, true
	case "development":
		return DevelopmentMode, true
	case "debug":
		return DebugMode, true
	}
	return ProductionMode, false
}

// SetMode changes the process-wide sanitization mode and returns the previous one.
func SetMode(mode SanitizationMode) SanitizationMode {
	prev := currentMode
	currentMode = mode
	return prev
}

// SanitizePath sanitizes file paths for logging based on the current mode
func SanitizePath(path string) string {
	if path == "" {
		return ""
	}

	switch currentMode {
	case DebugMode:
		return path
	case DevelopmentMode:
		if len(path) <= 20 {
			return path
		}
		return path[:10] + "..." + path[len(path)-7:]
	default:
		// Hash the path to prevent leaking sensitive filenames
		hash := sha256.Sum256([]byte(path))
		return fmt.Sprintf("hash:%x", hash[:8])
	}
}

// SanitizeUserID sanitizes user IDs for logging
func SanitizeUserID(userID string) string {
	if userID == "" {
		return ""
	}

	switch currentMode {
	case DebugMode:
		return userID
	case DevelopmentMode:
		if len(userID) <= 8 {
			return userID
		}
		return userID[:4] + "****"
	default:
		hash := sha256.Sum256([]byte(userID))
		return fmt.Sprintf("user_hash:%x", hash[:6])
	}
}

// SanitizeSize sanitizes file size information (generally safe to log)
func SanitizeSize(size int64) int64 {
	switch currentMode {
	case ProductionMode:
		// Round to nearest KB to obscure exact sizes
		return (size + 512) / 1024 * 1024
	default:
		return size
	}
}

// PathField returns a zap field carrying a sanitized path.
func PathField(key, path string) zap.Field {
	return zap.String(key, SanitizePath(path))
}

// UserField returns a zap field carrying a sanitized user ID.
func UserField(userID string) zap.Field {
	return zap.String("user_id", SanitizeUserID(userID))
}
