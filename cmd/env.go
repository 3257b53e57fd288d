package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/promptsync/internal/config"
)

// ConfigCheckResult holds the result of configuration validation
type ConfigCheckResult struct {
	Missing   []string          // Required settings that are missing
	Present   map[string]string // Settings that are set (masked values)
	Warnings  []string          // Non-fatal warnings
	StoreType string
}

// CheckRequiredConfig reports the settings the configured store needs
func CheckRequiredConfig(cfg *config.Config) *ConfigCheckResult {
	result := &ConfigCheckResult{
		Missing:   []string{},
		Present:   make(map[string]string),
		Warnings:  []string{},
		StoreType: cfg.Store.Type,
	}

	check := func(name, value string, required bool) {
		switch {
		case value != "":
			result.Present[name] = maskSecret(value)
		case required:
			result.Missing = append(result.Missing, name)
		}
	}

	switch cfg.Store.Type {
	case "postgres":
		check("store.database_url", cfg.Store.DatabaseURL, true)
	case "redis":
		check("store.redis_addr", cfg.Store.RedisAddr, true)
		check("store.redis_password", cfg.Store.RedisPassword, false)
	case "memory":
		result.Warnings = append(result.Warnings, "memory store loses tenant configuration on restart")
	}

	check("store.encryption_key", cfg.Store.EncryptionKey, false)
	if cfg.Store.EncryptionKey == "" {
		result.Warnings = append(result.Warnings, "store.encryption_key is not set; private repositories cannot be configured")
	}

	if cfg.Cache.Revalidate {
		result.Warnings = append(result.Warnings, "cache.revalidate serves stale prompts while refreshing in the background")
	}

	return result
}

// PrintConfigCheck prints the configuration check results
func PrintConfigCheck(w io.Writer, result *ConfigCheckResult) {
	fmt.Fprintln(w, "=== Configuration Check ===")
	fmt.Fprintf(w, "Store: %s\n", result.StoreType)
	fmt.Fprintln(w, "")

	if len(result.Missing) > 0 {
		fmt.Fprintln(w, "❌ Missing required settings:")
		for _, v := range result.Missing {
			fmt.Fprintf(w, "   - %s\n", v)
		}
		fmt.Fprintln(w, "")
	}

	if len(result.Present) > 0 {
		keys := make([]string, 0, len(result.Present))
		for k := range result.Present {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		fmt.Fprintln(w, "✓ Configured settings:")
		for _, k := range keys {
			fmt.Fprintf(w, "   - %s = %s\n", k, result.Present[k])
		}
		fmt.Fprintln(w, "")
	}

	for _, warning := range result.Warnings {
		fmt.Fprintf(w, "⚠ Warning: %s\n", warning)
	}

	if len(result.Missing) == 0 {
		fmt.Fprintln(w, "✓ All required configuration is present")
	}

	fmt.Fprintln(w, "============================")
}

// maskSecret masks a secret value for display, showing only first and last 2 chars
func maskSecret(value string) string {
	if len(value) <= 8 {
		return "****"
	}
	return value[:2] + "****" + value[len(value)-2:]
}

// LoadEnvFile loads environment variables from a file, overwriting existing ones.
func LoadEnvFile(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		if len(value) >= 2 && ((value[0] == '"' && value[len(value)-1] == '"') || (value[0] == '\'' && value[len(value)-1] == '\'')) {
			value = value[1 : len(value)-1]
		}

		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("failed to set env var %s: %w", key, err)
		}
	}

	return scanner.Err()
}
