package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// EnvString returns the trimmed value of key when it is set and non-empty.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses key as a base-10 integer.
func EnvInt(key string) (int, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// EnvBool parses key with strconv.ParseBool.
func EnvBool(key string) (bool, bool, error) {
	raw, ok := EnvString(key)
	if !ok {
		return false, false, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, fmt.Errorf("%s: %w", key, err)
	}
	return value, true, nil
}

// ApplyEnv overrides fields from PNP_* environment variables.
func (c *Config) ApplyEnv() error {
	if value, ok := EnvString("PNP_API_BASE"); ok {
		c.APIBase = value
	}
	if value, ok := EnvString("PNP_PRODUCTS_FILE"); ok {
		c.ProductsFile = value
	}
	if value, ok := EnvString("PNP_IMAGE_TOOL"); ok {
		c.ImageTool = strings.ToLower(value)
	}
	if value, ok := EnvString("PNP_METRICS_ADDR"); ok {
		c.MetricsAddr = value
	}
	if value, ok, err := EnvInt("PNP_WORKERS"); err != nil {
		return err
	} else if ok {
		c.Workers = value
	}
	if value, ok, err := EnvBool("PNP_STRICT_STAGES"); err != nil {
		return err
	} else if ok {
		c.StrictStages = value
	}
	return nil
}
