package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress   string
	AssemblyAIKey string
	GeminiKey     string
	GeminiModelID string

	// TokenExpiry is the lifetime requested for temporary realtime tokens.
	TokenExpiry time.Duration
	// TokenURL is where the realtime transcription client fetches its
	// temporary token; defaults to this server's own token route.
	TokenURL string

	// ContinuationWindow is how close in time two final fragments from the
	// same speaker must be for the second to merge into the first.
	ContinuationWindow time.Duration
	// SilenceGap is how long audio energy must stay low before a speaker
	// turn is assumed.
	SilenceGap time.Duration
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Error loading .env file")
	}

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = ":8080"
	}

	assemblyAIKey := os.Getenv("ASSEMBLYAI_API_KEY")
	if assemblyAIKey == "" {
		log.Println("Warning: ASSEMBLYAI_API_KEY not set - transcription tokens cannot be issued")
	}

	geminiKey := os.Getenv("GEMINI_API_KEY")
	geminiModel := os.Getenv("GEMINI_MODEL_ID")
	if geminiModel == "" {
		geminiModel = "gemini-1.5-flash"
	}
	if geminiKey == "" {
		log.Println("Warning: GEMINI_API_KEY not set - answer generation will not work")
	}

	tokenURL := os.Getenv("ASSEMBLY_TOKEN_URL")
	if tokenURL == "" {
		host := addr
		if strings.HasPrefix(host, ":") {
			host = "127.0.0.1" + host
		}
		tokenURL = "http://" + host + "/api/assembly-token"
	}

	log.Printf("config: HTTP_ADDRESS=%s", addr)
	return Config{
		HTTPAddress:        addr,
		AssemblyAIKey:      assemblyAIKey,
		TokenURL:           tokenURL,
		GeminiKey:          geminiKey,
		GeminiModelID:      geminiModel,
		TokenExpiry:        durationEnv("TOKEN_EXPIRY_SECONDS", time.Hour),
		ContinuationWindow: durationEnv("CONTINUATION_WINDOW_MS", 3*time.Second),
		SilenceGap:         durationEnv("SILENCE_GAP_MS", 1500*time.Millisecond),
	}
}

// durationEnv reads an integer env var scaled by the unit the name declares
// (_SECONDS or _MS).
func durationEnv(name string, def time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		log.Printf("Warning: %s=%q is not a positive integer, using default", name, raw)
		return def
	}
	if strings.HasSuffix(name, "_SECONDS") {
		return time.Duration(n) * time.Second
	}
	return time.Duration(n) * time.Millisecond
}
