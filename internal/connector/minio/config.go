package minio

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

const (
	defaultBucket     = "ingest-staging"
	defaultBasePrefix = "artifacts"
	defaultTenantID   = "default"
)

// Config captures the object.minio endpoint configuration.
type Config struct {
	EndpointURL      string
	Region           string
	UseSSL           bool
	AccessKeyID      string
	SecretAccessKey  string
	Bucket           string
	BasePrefix       string
	TenantID         string
	RootPathOverride string
}

// ParseConfig builds a Config from loose parameters.
func ParseConfig(params map[string]any) *Config {
	cfg := &Config{
		EndpointURL:     firstString(params, "endpointUrl", "endpoint_url", "url"),
		Region:          firstString(params, "region"),
		UseSSL:          firstBool(params, false, "useSSL", "use_ssl"),
		AccessKeyID:     firstString(params, "accessKeyId", "access_key_id", "accessKeyID"),
		SecretAccessKey: firstString(params, "secretAccessKey", "secret_access_key", "secretKey"),
		Bucket:          firstString(params, "bucket"),
		BasePrefix:      firstString(params, "basePrefix", "base_prefix", "prefix"),
		TenantID:        firstString(params, "tenantId", "tenant_id"),
		RootPathOverride: firstString(params,
			"rootPath", "root_path", "devRoot", "dev_root"),
	}
	cfg.normalizeDefaults()
	return cfg
}

// Validate enforces required fields. A file:// endpoint runs on the local
// store and needs no credentials.
func (c *Config) Validate() error {
	if c.EndpointURL == "" {
		return wrapError(CodeEndpointUnreachable, true, fmt.Errorf("endpointUrl is required"))
	}
	if _, err := url.Parse(c.EndpointURL); err != nil {
		return wrapError(CodeEndpointUnreachable, true, err)
	}
	if c.isRemote() && (c.AccessKeyID == "" || c.SecretAccessKey == "") {
		return wrapError(CodeAuthInvalid, false, fmt.Errorf("accessKeyId and secretAccessKey are required"))
	}
	return nil
}

func (c *Config) isRemote() bool {
	return strings.HasPrefix(c.EndpointURL, "http://") || strings.HasPrefix(c.EndpointURL, "https://")
}

func (c *Config) normalizeDefaults() {
	if c.Bucket == "" {
		c.Bucket = defaultBucket
	}
	if c.BasePrefix == "" {
		c.BasePrefix = defaultBasePrefix
	}
	c.BasePrefix = strings.Trim(c.BasePrefix, "/")
	if c.TenantID == "" {
		c.TenantID = defaultTenantID
	}
}

// objectRoot resolves the on-disk root for the local store fallback.
func (c *Config) objectRoot() string {
	if c.RootPathOverride != "" {
		return c.RootPathOverride
	}
	if strings.HasPrefix(c.EndpointURL, "file://") {
		if u, err := url.Parse(c.EndpointURL); err == nil && u.Path != "" {
			return u.Path
		}
	}
	host := c.EndpointURL
	if u, err := url.Parse(c.EndpointURL); err == nil && u.Host != "" {
		host = u.Host
	}
	return filepath.Join(os.TempDir(), "minio-"+sanitizePath(host))
}

func firstString(params map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := params[key]; ok {
			switch t := v.(type) {
			case string:
				return strings.TrimSpace(t)
			case fmt.Stringer:
				return strings.TrimSpace(t.String())
			}
		}
	}
	return ""
}

func firstBool(params map[string]any, defaultVal bool, keys ...string) bool {
	for _, key := range keys {
		if v, ok := params[key]; ok {
			switch t := v.(type) {
			case bool:
				return t
			case string:
				lowered := strings.ToLower(strings.TrimSpace(t))
				if lowered == "true" {
					return true
				}
				if lowered == "false" {
					return false
				}
			}
		}
	}
	return defaultVal
}

func sanitizePath(raw string) string {
	replacer := strings.NewReplacer(":", "_", "/", "_", "\\", "_")
	return replacer.Replace(raw)
}
