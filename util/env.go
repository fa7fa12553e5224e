// Package util provides utility functions for the engine.
//
//revive:disable-next-line:var-naming
package util

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// GetEnvDefault is a convenience function for handling env vars
func GetEnvDefault(key, defVal string) string {
	val, ex := os.LookupEnv(key) // get the env var
	if !ex {                     // not found return default
		return defVal
	}
	return val // return value for env var
}

// GetEnvInt reads an integer env var, falling back on absence or parse failure
func GetEnvInt(key string, defVal int) int {
	if v, err := strconv.Atoi(GetEnvDefault(key, "")); err == nil {
		return v
	}
	return defVal
}

// GetEnvFloat reads a float env var, falling back on absence or parse failure
func GetEnvFloat(key string, defVal float64) float64 {
	if v, err := strconv.ParseFloat(GetEnvDefault(key, ""), 64); err == nil {
		return v
	}
	return defVal
}

// GetEnvDuration reads a Go duration string such as "90s" or "72h"
func GetEnvDuration(key string, defVal time.Duration) time.Duration {
	if v, err := time.ParseDuration(GetEnvDefault(key, "")); err == nil {
		return v
	}
	return defVal
}

// GetEnvBool reads a boolean env var
func GetEnvBool(key string, defVal bool) bool {
	if v, err := strconv.ParseBool(GetEnvDefault(key, "")); err == nil {
		return v
	}
	return defVal
}

// SplitList splits a comma separated value and trims each element
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
