package internal

import (
	"fmt"
	"strings"
	"time"
)

type Config struct {
	Host              string        `env:"HOST,required=true"`
	Port              int           `env:"PORT,required=true"`
	BadgerFilepath    string        `env:"BADGER_FILEPATH,required=true"`
	LogLevel          string        `env:"LOG_LEVEL,required=true"`
	JWTSecret         string        `env:"JWT_SECRET,required=true"`
	AuthTokenDuration time.Duration `env:"AUTH_TOKEN_DURATION,required=true"`
	SessionBufferSize int           `env:"SESSION_BUFFER_SIZE,required=true"`
	MetricInterval    time.Duration `env:"METRIC_INTERVAL,required=true"`
	LimitMessages     *int          `env:"LIMIT_MESSAGES"`
	CensoredWords     string        `env:"CENSORED_WORDS"`
	CharReplacement   string        `env:"CHARACTER_REPLACEMENT"`
	DebugPort         int           `env:"DEBUG_PORT"`
}

// CharacterRune validates that the configured replacement is one character.
func CharacterRune(str string) (rune, error) {
	if str == "" {
		return '*', nil
	}
	r := []rune(str)
	if len(r) != 1 {
		return 0, fmt.Errorf(
			"CHARACTER_REPLACEMENT must be a single character, got %q",
			str,
		)
	}
	return r[0], nil
}

// SplitWords parses the comma-separated censored word list.
func SplitWords(csv string) []string {
	if csv == "" {
		return nil
	}
	var words []string
	for _, w := range strings.Split(csv, ",") {
		if trimmed := strings.TrimSpace(w); trimmed != "" {
			words = append(words, trimmed)
		}
	}
	return words
}
