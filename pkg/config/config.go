/*
Copyright 2017 Google LLC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    https://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"fmt"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/spf13/viper"
)

// Config holds every tunable named in the external interface contract.
// Time values are parsed as Go durations; the submission pipeline and
// session manager that embed this module are responsible for converting
// their own millisecond-based configuration into these fields.
type Config struct {
	AppLookupTimeout      time.Duration `mapstructure:"app_lookup_timeout"`
	PollInterval          time.Duration `mapstructure:"poll_interval"`
	LeakageCheckInterval  time.Duration `mapstructure:"leakage_check_interval"`
	LeakageCheckTimeout   time.Duration `mapstructure:"leakage_check_timeout"`
	SparkLogsCacheSize    int           `mapstructure:"spark_logs_cache_size"`
	Namespaces            []string      `mapstructure:"namespaces"`
	IngressCreate         bool          `mapstructure:"ingress_create"`
	IngressProtocol       string        `mapstructure:"ingress_protocol"`
	IngressHost           string        `mapstructure:"ingress_host"`
	IngressTLSSecretName  string        `mapstructure:"ingress_tls_secret_name"`
	IngressAnnotations    string        `mapstructure:"ingress_additional_annotations"`
	IngressConfSnippet    string        `mapstructure:"ingress_additional_conf_snippet"`
	GrafanaLokiEnabled    bool          `mapstructure:"grafana_loki_enabled"`
	GrafanaURL            string        `mapstructure:"grafana_url"`
	GrafanaTimeRange      string        `mapstructure:"grafana_time_range"`
	GrafanaLokiDatasource string        `mapstructure:"grafana_loki_datasource"`
	UIHistoryServerURL    string        `mapstructure:"ui_history_server_url"`
	SparkMaster           string        `mapstructure:"spark_master"`
	OauthTokenFile        string        `mapstructure:"oauth_token_file"`
	OauthTokenValue       string        `mapstructure:"oauth_token_value"`
	CACertFile            string        `mapstructure:"ca_cert_file"`
	ClientKeyFile         string        `mapstructure:"client_key_file"`
	ClientCertFile        string        `mapstructure:"client_cert_file"`
	DefaultNamespace      string        `mapstructure:"default_namespace"`
}

// Defaults returns the baseline configuration applied before any
// user-supplied values are merged in.
func Defaults() Config {
	return Config{
		AppLookupTimeout:      2 * time.Minute,
		PollInterval:          5 * time.Second,
		LeakageCheckInterval:  1 * time.Minute,
		LeakageCheckTimeout:   10 * time.Minute,
		SparkLogsCacheSize:    200,
		IngressCreate:         true,
		IngressProtocol:       "http",
		GrafanaTimeRange:      "1h",
		GrafanaLokiDatasource: "loki",
		DefaultNamespace:      "default",
	}
}

// Load reads configuration from v (flags, environment, optional config
// file already bound by the caller) and merges it over Defaults(): a
// zero-valued field in the decoded config never overrides a default,
// except ingress_create, which is applied whenever v has it set so that
// an explicit false disables ingress creation.
func Load(v *viper.Viper) (*Config, error) {
	cfg := Defaults()

	var loaded Config
	if err := v.Unmarshal(&loaded); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if err := mergo.Merge(&cfg, loaded, mergo.WithOverride, mergo.WithOverrideEmptySlice); err != nil {
		return nil, fmt.Errorf("failed to merge configuration: %w", err)
	}
	if v.IsSet("ingress_create") {
		cfg.IngressCreate = loaded.IngressCreate
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configuration conflicts that would otherwise only
// surface once the client factory tries to build a client.
func (c *Config) Validate() error {
	if c.OauthTokenFile != "" && c.OauthTokenValue != "" {
		return fmt.Errorf("oauth_token_file and oauth_token_value are mutually exclusive")
	}
	return nil
}

// ParseKVList parses the "k=v;k=v" form used by ingress_additional_annotations
// into a map. Empty segments and segments without '=' are skipped.
func ParseKVList(s string) map[string]string {
	out := map[string]string{}
	if strings.TrimSpace(s) == "" {
		return out
	}
	for _, pair := range strings.Split(s, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		idx := strings.Index(pair, "=")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(pair[:idx])
		value := strings.TrimSpace(pair[idx+1:])
		if key == "" {
			continue
		}
		out[key] = value
	}
	return out
}
