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

package k8sclient

import (
	"fmt"
	"os"
	"strings"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/livy-project/spark-k8s-monitor/pkg/config"
)

// Factory builds a Client from explicit connection options (host, TLS
// material, bearer token) rather than an ambient kubeconfig, since the
// monitor is embedded in a multi-tenant session manager that may be
// targeting a cluster with no local kubeconfig or service account to
// fall back on.
type Factory struct {
	cfg config.Config
}

// NewFactory captures cfg for later Build calls.
func NewFactory(cfg config.Config) *Factory {
	return &Factory{cfg: cfg}
}

// Build constructs a rest.Config from the factory's options and wraps
// a clientset built from it into a Client.
func (f *Factory) Build() (Client, error) {
	if err := f.cfg.Validate(); err != nil {
		return nil, err
	}

	restCfg := &rest.Config{
		Host: MasterURL(f.cfg.SparkMaster),
	}

	if f.cfg.CACertFile != "" {
		restCfg.TLSClientConfig.CAFile = f.cfg.CACertFile
	}
	if f.cfg.ClientCertFile != "" {
		restCfg.TLSClientConfig.CertFile = f.cfg.ClientCertFile
	}
	if f.cfg.ClientKeyFile != "" {
		restCfg.TLSClientConfig.KeyFile = f.cfg.ClientKeyFile
	}

	token, err := ReadOauthToken(f.cfg)
	if err != nil {
		return nil, err
	}
	restCfg.BearerToken = token

	kube, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build Kubernetes client: %w", err)
	}

	return New(kube, reportConfigFrom(f.cfg), f.cfg.DefaultNamespace), nil
}

// MasterURL strips a leading "k8s://" scheme marker and prepends
// "https://" if the result has no http(s) scheme. Idempotent: applying
// it twice yields the same result as applying it once.
func MasterURL(master string) string {
	master = strings.TrimPrefix(master, "k8s://")
	if strings.HasPrefix(master, "http://") || strings.HasPrefix(master, "https://") {
		return master
	}
	return "https://" + master
}

// ReadOauthToken returns the bearer token for the configured option,
// reading OauthTokenFile as UTF-8 when OauthTokenValue is unset. The
// two are mutually exclusive, enforced by config.Validate.
func ReadOauthToken(cfg config.Config) (string, error) {
	if cfg.OauthTokenValue != "" {
		return cfg.OauthTokenValue, nil
	}
	if cfg.OauthTokenFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(cfg.OauthTokenFile)
	if err != nil {
		return "", fmt.Errorf("failed to read oauth token file: %w", err)
	}
	return string(data), nil
}

func reportConfigFrom(cfg config.Config) ReportConfig {
	return ReportConfig{
		GrafanaLokiEnabled:    cfg.GrafanaLokiEnabled,
		GrafanaURL:            cfg.GrafanaURL,
		GrafanaTimeRange:      cfg.GrafanaTimeRange,
		GrafanaLokiDatasource: cfg.GrafanaLokiDatasource,
		IngressProtocol:       cfg.IngressProtocol,
	}
}
