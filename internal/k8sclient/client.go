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

// Package k8sclient is the thin typed facade over a Kubernetes API
// client the rest of the monitor calls through: listing applications,
// fetching a report, killing an application, and provisioning its
// Spark UI ingress.
//
// Duplicate-tag semantics: ListApplications and driver-pod resolution
// are first-match-wins when more than one pod carries the same tag;
// the reaper invokes KillApplication on every match in a tag group. The two halves of the codebase must not silently diverge on
// this.
package k8sclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes"

	"github.com/livy-project/spark-k8s-monitor/internal/app"
	"github.com/livy-project/spark-k8s-monitor/internal/ingress"
	"github.com/livy-project/spark-k8s-monitor/internal/report"
	"github.com/livy-project/spark-k8s-monitor/pkg/config"
)

// Client is the facade the monitor and reaper depend on. All methods
// must be safe for concurrent use; the underlying kubernetes.Interface
// already is.
type Client interface {
	// ListApplications lists driver pods across the configured
	// namespace set (all namespaces if empty) that carry both the tag
	// and the app-id label, wrapped into Applications.
	ListApplications(ctx context.Context, namespaces []string) ([]app.Application, error)
	// GetReport fetches the driver pod, executor pods, a bounded log
	// window and the Spark UI ingress for app's tag in its namespace.
	GetReport(ctx context.Context, a app.Application, logWindow int) (report.Report, error)
	// KillApplication deletes the driver pod, returning true if the
	// cluster confirms deletion (including "already gone").
	KillApplication(ctx context.Context, a app.Application) (bool, error)
	// CreateSparkUIIngress creates or replaces the Service+Ingress pair
	// fronting the driver pod's Spark UI, owned by the driver pod.
	CreateSparkUIIngress(ctx context.Context, a app.Application, cfg IngressConfig) error
}

// IngressConfig is the subset of pkg/config.Config the ingress builder needs.
type IngressConfig struct {
	Host             string
	Protocol         string
	TLSSecretName    string
	Annotations      map[string]string
	ConfSnippet      string
}

// ReportConfig is the subset of pkg/config.Config the report builder needs.
type ReportConfig = report.Config

type client struct {
	kube             kubernetes.Interface
	cfg              report.Config
	defaultNamespace string
}

// New wraps kube into a Client. reportCfg configures the Grafana/Loki
// URL building performed by GetReport. defaultNamespace is the
// fallback namespace used when a caller passes an Application with no
// namespace set; ListApplications with an empty namespace set still
// lists all namespaces.
func New(kube kubernetes.Interface, reportCfg ReportConfig, defaultNamespace string) Client {
	return &client{kube: kube, cfg: reportCfg, defaultNamespace: defaultNamespace}
}

// resolveNamespace falls back to the configured default namespace when
// ns is empty, rather than metav1.NamespaceAll, per the Client Factory's
// "default namespace sets the fallback namespace" option.
func (c *client) resolveNamespace(ns string) string {
	if ns != "" {
		return ns
	}
	if c.defaultNamespace != "" {
		return c.defaultNamespace
	}
	return metav1.NamespaceAll
}

func (c *client) ListApplications(ctx context.Context, namespaces []string) ([]app.Application, error) {
	selector := fmt.Sprintf("%s=%s,%s,%s", config.SparkRoleLabel, config.SparkRoleDriver, config.SparkAppTagLabel, config.SparkAppSelectorLabel)

	if len(namespaces) == 0 {
		// An empty namespace set means "watch every namespace", a
		// distinct contract from resolveNamespace's per-Application
		// fallback: it must not collapse to defaultNamespace.
		return c.listApplicationsInNamespace(ctx, metav1.NamespaceAll, selector)
	}

	var out []app.Application
	for _, ns := range namespaces {
		apps, err := c.listApplicationsInNamespace(ctx, ns, selector)
		if err != nil {
			return nil, err
		}
		out = append(out, apps...)
	}
	return out, nil
}

func (c *client) listApplicationsInNamespace(ctx context.Context, namespace, selector string) ([]app.Application, error) {
	pods, err := c.kube.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return nil, err
	}

	var out []app.Application
	for i := range pods.Items {
		pod := pods.Items[i]
		tag, hasTag := pod.Labels[config.SparkAppTagLabel]
		appID, hasID := pod.Labels[config.SparkAppSelectorLabel]
		if !hasTag || !hasID {
			continue
		}
		out = append(out, app.Application{
			Tag:       tag,
			Namespace: pod.Namespace,
			AppID:     appID,
			DriverPod: &pod,
		})
	}
	return out, nil
}

func (c *client) GetReport(ctx context.Context, a app.Application, logWindow int) (report.Report, error) {
	namespace := c.resolveNamespace(a.Namespace)
	selector := fmt.Sprintf("%s=%s", config.SparkAppTagLabel, a.Tag)
	pods, err := c.kube.CoreV1().Pods(namespace).List(ctx, metav1.ListOptions{LabelSelector: selector})
	if err != nil {
		return report.Report{}, err
	}

	var driver *corev1.Pod
	var executors []corev1.Pod
	for i := range pods.Items {
		pod := pods.Items[i]
		switch {
		case app.IsDriver(&pod):
			if driver == nil {
				driver = &pod
			}
		case app.IsExecutor(&pod):
			executors = append(executors, pod)
		}
	}

	var window []string
	if driver != nil {
		window, _ = c.tailLog(ctx, driver, logWindow)
	}

	ing, err := c.kube.NetworkingV1().Ingresses(namespace).Get(ctx, ingressNameFor(a), metav1.GetOptions{})
	if err != nil {
		ing = nil
	}

	return report.Build(driver, executors, window, ing, a.Tag, c.cfg), nil
}

// tailLog fetches at most maxLines of the driver container's log. A
// fetch failure yields an empty window rather than an error, matching
// the "best-effort log fetch" contract.
func (c *client) tailLog(ctx context.Context, pod *corev1.Pod, maxLines int) ([]string, error) {
	if maxLines <= 0 {
		return nil, nil
	}
	tail := int64(maxLines)
	req := c.kube.CoreV1().Pods(pod.Namespace).GetLogs(pod.Name, &corev1.PodLogOptions{TailLines: &tail})
	stream, err := req.Stream(ctx)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var lines []string
	scanner := bufio.NewScanner(stream)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, nil
}

func (c *client) KillApplication(ctx context.Context, a app.Application) (bool, error) {
	if a.DriverPod == nil {
		return false, fmt.Errorf("cannot kill application %s: no driver pod resolved", a.Tag)
	}
	err := c.kube.CoreV1().Pods(c.resolveNamespace(a.Namespace)).Delete(ctx, a.DriverPod.Name, metav1.DeleteOptions{})
	if apierrors.IsNotFound(err) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *client) CreateSparkUIIngress(ctx context.Context, a app.Application, cfg IngressConfig) error {
	if a.DriverPod == nil {
		return fmt.Errorf("cannot create Spark UI ingress for %s: no driver pod resolved", a.Tag)
	}

	svc := ingress.BuildService(a.DriverPod, a.Tag)
	if err := c.createOrReplaceService(ctx, svc); err != nil {
		return err
	}

	annotations := ingress.WithConfSnippet(cfg.Annotations, cfg.ConfSnippet)
	ing := ingress.BuildIngress(a.DriverPod, svc, a.Tag, cfg.Host, cfg.Protocol, cfg.TLSSecretName, annotations)
	if err := c.createOrReplaceIngress(ctx, ing); err != nil {
		return err
	}

	if cfg.Host == "" {
		return nil
	}
	return c.labelDriverWithSparkUIURL(ctx, a, report.BuildTrackingURL(cfg.Host, a.Tag, cfg.Protocol))
}

// labelDriverWithSparkUIURL stamps the externally reachable Spark UI
// URL onto the driver pod's spark-ui-url label, so a later GetReport
// can recover the tracking URL even if the Ingress Get call fails.
func (c *client) labelDriverWithSparkUIURL(ctx context.Context, a app.Application, url string) error {
	patch, err := json.Marshal(map[string]interface{}{
		"metadata": map[string]interface{}{
			"labels": map[string]string{config.SparkUIURLLabel: url},
		},
	})
	if err != nil {
		return err
	}
	_, err = c.kube.CoreV1().Pods(a.DriverPod.Namespace).Patch(ctx, a.DriverPod.Name, types.StrategicMergePatchType, patch, metav1.PatchOptions{})
	return err
}

// createOrReplaceService deletes then recreates the headless Service:
// clusterIP is immutable once set, so an Update cannot retarget it to
// a different driver pod's selector without Kubernetes rejecting the
// request.
func (c *client) createOrReplaceService(ctx context.Context, svc *corev1.Service) error {
	services := c.kube.CoreV1().Services(svc.Namespace)
	if err := services.Delete(ctx, svc.Name, metav1.DeleteOptions{}); err != nil && !apierrors.IsNotFound(err) {
		return err
	}
	_, err := services.Create(ctx, svc, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		return nil
	}
	return err
}

// createOrReplaceIngress performs a real update when the Ingress
// already exists, since every field on its spec is mutable, and falls
// back to Create otherwise.
func (c *client) createOrReplaceIngress(ctx context.Context, ing *networkingv1.Ingress) error {
	ingresses := c.kube.NetworkingV1().Ingresses(ing.Namespace)
	existing, err := ingresses.Get(ctx, ing.Name, metav1.GetOptions{})
	if apierrors.IsNotFound(err) {
		_, err = ingresses.Create(ctx, ing, metav1.CreateOptions{})
		return err
	}
	if err != nil {
		return err
	}
	ing.ResourceVersion = existing.ResourceVersion
	_, err = ingresses.Update(ctx, ing, metav1.UpdateOptions{})
	return err
}

func ingressNameFor(a app.Application) string {
	if a.DriverPod == nil {
		return ""
	}
	return ingress.Name(a.DriverPod.Name)
}
