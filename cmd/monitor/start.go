/*
Copyright 2024 The Kubeflow authors.

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

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/livy-project/spark-k8s-monitor/internal/k8sclient"
	"github.com/livy-project/spark-k8s-monitor/internal/metrics"
	"github.com/livy-project/spark-k8s-monitor/internal/reaper"
	"github.com/livy-project/spark-k8s-monitor/pkg/config"
	"github.com/livy-project/spark-k8s-monitor/pkg/util"
)

var (
	configFile         string
	development        bool
	metricsBindAddress string
	healthBindAddress  string
)

// NewStartCommand starts the leak reaper and metrics/health servers that
// back every App Monitor a submitter embeds against this module.
// Per-application monitors are started by the embedding submitter
// directly through the internal/monitor API, not by this command.
func NewStartCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "start",
		Short: "Start the leak reaper and metrics server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return start()
		},
	}

	command.Flags().StringVar(&configFile, "config", "", "Path to a YAML configuration file.")
	command.Flags().BoolVar(&development, "development", false, "Use development-mode console logging instead of production JSON logging.")
	command.Flags().StringVar(&metricsBindAddress, "metrics-bind-address", ":8080", "Address the Prometheus metrics endpoint binds to.")
	command.Flags().StringVar(&healthBindAddress, "health-probe-bind-address", ":8081", "Address the liveness/readiness probe endpoint binds to.")

	bindConfigFlags(command)

	return command
}

// bindConfigFlags registers one flag per pkg/config.Config field and
// binds each to the viper key sharing its mapstructure tag, so flags,
// environment variables (SPARK_MONITOR_*) and an optional config file
// all resolve through the same keys.
func bindConfigFlags(command *cobra.Command) {
	flags := command.Flags()

	bind := func(name string) {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}

	flags.Duration("app_lookup_timeout", 0, "Deadline for a driver pod to appear after submission.")
	flags.Duration("poll_interval", 0, "Interval between Application Report polls.")
	flags.Duration("leakage_check_interval", 0, "Interval between leak-reaper cycles.")
	flags.Duration("leakage_check_timeout", 0, "Age at which an unresolved leaked tag expires.")
	flags.Int("spark_logs_cache_size", 0, "Maximum number of driver log lines cached per poll.")
	flags.StringSlice("namespaces", nil, "Namespaces to watch; empty watches all namespaces.")
	flags.Bool("ingress_create", true, "Create a Spark UI Service/Ingress pair for each resolved application.")
	flags.String("ingress_protocol", "", "Protocol advertised in the Spark UI tracking URL.")
	flags.String("ingress_host", "", "Host used in the Spark UI Ingress rule.")
	flags.String("ingress_tls_secret_name", "", "TLS secret backing the Spark UI Ingress, when ingress_protocol ends in 's'.")
	flags.String("ingress_additional_annotations", "", "Extra Ingress annotations in 'k=v;k=v' form.")
	flags.String("ingress_additional_conf_snippet", "", "Extra traefik router-middlewares annotation value.")
	flags.Bool("grafana_loki_enabled", false, "Derive Grafana/Loki explore URLs for driver and executor logs.")
	flags.String("grafana_url", "", "Base Grafana URL used to build explore links.")
	flags.String("grafana_time_range", "", "Lookback window (e.g. '1h') used in explore links.")
	flags.String("grafana_loki_datasource", "", "Grafana datasource name for the Loki explore links.")
	flags.String("ui_history_server_url", "", "Base URL of the Spark history server.")
	flags.String("spark_master", "", "Kubernetes API master URL, optionally prefixed with 'k8s://'.")
	flags.String("oauth_token_file", "", "Path to a file whose contents are the bearer token.")
	flags.String("oauth_token_value", "", "Literal bearer token value; mutually exclusive with oauth_token_file.")
	flags.String("ca_cert_file", "", "Path to the cluster CA certificate.")
	flags.String("client_key_file", "", "Path to the client TLS key.")
	flags.String("client_cert_file", "", "Path to the client TLS certificate.")
	flags.String("default_namespace", "", "Namespace used when a submission does not specify one.")

	for _, name := range []string{
		"app_lookup_timeout", "poll_interval", "leakage_check_interval", "leakage_check_timeout",
		"spark_logs_cache_size", "namespaces", "ingress_create", "ingress_protocol", "ingress_host",
		"ingress_tls_secret_name", "ingress_additional_annotations", "ingress_additional_conf_snippet",
		"grafana_loki_enabled", "grafana_url", "grafana_time_range", "grafana_loki_datasource",
		"ui_history_server_url", "spark_master", "oauth_token_file", "oauth_token_value",
		"ca_cert_file", "client_key_file", "client_cert_file", "default_namespace",
	} {
		bind(name)
	}
}

func start() error {
	log, err := newLogger()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer log.Sync()
	sugar := log.Sugar()

	viper.SetEnvPrefix("SPARK_MONITOR")
	viper.AutomaticEnv()
	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	factory := k8sclient.NewFactory(*cfg)
	client, err := factory.Build()
	if err != nil {
		return fmt.Errorf("failed to build Kubernetes client: %w", err)
	}

	m := metrics.NewMetrics()
	registry := prometheus.NewRegistry()
	if err := m.Register(registry); err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	table := reaper.NewLeakTable()
	r := reaper.New(client, table, m, sugar.Named("reaper"), reaper.Options{
		Interval:   cfg.LeakageCheckInterval,
		Timeout:    cfg.LeakageCheckTimeout,
		Namespaces: cfg.Namespaces,
	})

	ctx, cancel := context.WithCancel(context.Background())
	srv := newHTTPServers(registry)

	handler := util.NewInterruptHandler(func(os.Signal) {
		cancel()
	})
	return handler.Run(func() error {
		go func() {
			sugar.Infow("starting metrics server", "address", metricsBindAddress)
			if err := srv.metrics.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				sugar.Errorw("metrics server stopped", "error", err)
			}
		}()
		go func() {
			sugar.Infow("starting health probe server", "address", healthBindAddress)
			if err := srv.health.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				sugar.Errorw("health probe server stopped", "error", err)
			}
		}()

		sugar.Info("starting leak reaper")
		r.Run(ctx)

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		srv.metrics.Shutdown(shutdownCtx)
		srv.health.Shutdown(shutdownCtx)
		return nil
	})
}

type httpServers struct {
	metrics *http.Server
	health  *http.Server
}

func newHTTPServers(registry *prometheus.Registry) *httpServers {
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	healthMux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	return &httpServers{
		metrics: &http.Server{Addr: metricsBindAddress, Handler: metricsMux},
		health:  &http.Server{Addr: healthBindAddress, Handler: healthMux},
	}
}

func newLogger() (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
