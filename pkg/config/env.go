package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// envReader reads typed environment values and remembers the ones that failed to parse.
type envReader struct {
	invalid []string
}

// GetEnv returns the value of an environment variable or a default value if not set.
func GetEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func (r *envReader) str(key, defaultValue string) string {
	return GetEnv(key, defaultValue)
}

func (r *envReader) integer(key string, defaultValue int) int {
	value := GetEnv(key, "")
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		r.invalid = append(r.invalid, fmt.Sprintf("%s=%q is not an integer", key, value))
		return defaultValue
	}
	return parsed
}

func (r *envReader) int64(key string, defaultValue int64) int64 {
	value := GetEnv(key, "")
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		r.invalid = append(r.invalid, fmt.Sprintf("%s=%q is not an integer", key, value))
		return defaultValue
	}
	return parsed
}

func (r *envReader) boolean(key string, defaultValue bool) bool {
	value := GetEnv(key, "")
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.ParseBool(value)
	if err != nil {
		r.invalid = append(r.invalid, fmt.Sprintf("%s=%q is not a boolean", key, value))
		return defaultValue
	}
	return parsed
}

// seconds reads a float number of seconds into a duration.
func (r *envReader) seconds(key string, defaultValue time.Duration) time.Duration {
	value := GetEnv(key, "")
	if value == "" {
		return defaultValue
	}

	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		r.invalid = append(r.invalid, fmt.Sprintf("%s=%q is not a number of seconds", key, value))
		return defaultValue
	}
	return time.Duration(parsed * float64(time.Second))
}

// list splits a comma separated value, dropping empty entries.
func (r *envReader) list(key string) []string {
	var out []string
	for _, part := range strings.Split(GetEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
