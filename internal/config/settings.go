// Package config holds both configuration layers: a viper-backed static
// layer read once at startup, and a gorm-backed dynamic layer an operator
// can flip at runtime without a restart.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"

	"github.com/kmkr/telegrab-go/internal/storage"
)

// Keys for the dynamic AppSetting table.
const (
	KeyEnableIngress        = "enable_ingress"
	KeyIngressToken         = "ingress_token"
	KeyEnableIntegrityCheck = "enable_integrity_check"
	KeyUserAgent            = "user_agent"
	KeyBandwidthLimit       = "bandwidth_limit_bytes_per_sec"
)

// ConfigManager is the dynamic layer: settings an operator can change at
// runtime, persisted in the AppSetting table.
type ConfigManager struct {
	repo storage.Repository
}

func NewConfigManager(repo storage.Repository) *ConfigManager {
	return &ConfigManager{repo: repo}
}

func (c *ConfigManager) getString(key string) string {
	val, ok, err := c.repo.GetSetting(key)
	if err != nil || !ok {
		return ""
	}
	return val
}

func (c *ConfigManager) GetEnableIngress() bool {
	val := c.getString(KeyEnableIngress)
	if val == "" {
		return true // default on
	}
	return val == "true"
}

func (c *ConfigManager) SetEnableIngress(enabled bool) error {
	return c.repo.SetSetting(KeyEnableIngress, boolString(enabled))
}

func (c *ConfigManager) GetIngressToken() string {
	val := c.getString(KeyIngressToken)
	if val != "" {
		return val
	}
	token := generateSecureToken()
	_ = c.repo.SetSetting(KeyIngressToken, token)
	return token
}

func (c *ConfigManager) GetEnableIntegrityCheck() bool {
	val := c.getString(KeyEnableIntegrityCheck)
	if val == "" {
		return true // default on
	}
	return val != "false"
}

func (c *ConfigManager) SetEnableIntegrityCheck(enabled bool) error {
	return c.repo.SetSetting(KeyEnableIntegrityCheck, boolString(enabled))
}

// GetUserAgent returns the operator-configured User-Agent, or "" to fall
// back to the Fetcher's built-in default.
func (c *ConfigManager) GetUserAgent() string {
	return c.getString(KeyUserAgent)
}

func (c *ConfigManager) SetUserAgent(ua string) error {
	return c.repo.SetSetting(KeyUserAgent, ua)
}

// GetBandwidthLimit returns the configured download throughput cap in
// bytes/sec, 0 meaning unlimited.
func (c *ConfigManager) GetBandwidthLimit() int {
	val := c.getString(KeyBandwidthLimit)
	if val == "" {
		return 0
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0
	}
	return n
}

func (c *ConfigManager) SetBandwidthLimit(bytesPerSec int) error {
	return c.repo.SetSetting(KeyBandwidthLimit, strconv.Itoa(bytesPerSec))
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

func generateSecureToken() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "telegrab-fallback-token-change-me"
	}
	return hex.EncodeToString(b)
}
