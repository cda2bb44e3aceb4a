package k8sclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	kubeclientfake "k8s.io/client-go/kubernetes/fake"

	"github.com/livy-project/spark-k8s-monitor/internal/app"
	"github.com/livy-project/spark-k8s-monitor/pkg/config"
)

func driverPod(namespace, name, tag, appID string) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
			Labels: map[string]string{
				config.SparkRoleLabel:        config.SparkRoleDriver,
				config.SparkAppTagLabel:      tag,
				config.SparkAppSelectorLabel: appID,
			},
		},
	}
}

func TestListApplicationsAcrossAllNamespacesWhenUnscoped(t *testing.T) {
	kube := kubeclientfake.NewSimpleClientset(
		driverPod("ns1", "d1", "tag-1", "app-1"),
		driverPod("ns2", "d2", "tag-2", "app-2"),
	)
	c := New(kube, ReportConfig{}, "default")

	apps, err := c.ListApplications(context.Background(), nil)
	require.NoError(t, err)
	assert.Len(t, apps, 2)
}

func TestListApplicationsScopedToConfiguredNamespaces(t *testing.T) {
	kube := kubeclientfake.NewSimpleClientset(
		driverPod("ns1", "d1", "tag-1", "app-1"),
		driverPod("ns2", "d2", "tag-2", "app-2"),
	)
	c := New(kube, ReportConfig{}, "default")

	apps, err := c.ListApplications(context.Background(), []string{"ns1"})
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, "ns1", apps[0].Namespace)
}

func TestListApplicationsSkipsPodsMissingIDLabel(t *testing.T) {
	pod := driverPod("ns1", "d1", "tag-1", "app-1")
	delete(pod.Labels, config.SparkAppSelectorLabel)
	kube := kubeclientfake.NewSimpleClientset(pod)
	c := New(kube, ReportConfig{}, "default")

	apps, err := c.ListApplications(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, apps)
}

func TestKillApplicationDeletesDriverPod(t *testing.T) {
	pod := driverPod("ns1", "d1", "tag-1", "app-1")
	kube := kubeclientfake.NewSimpleClientset(pod)
	c := New(kube, ReportConfig{}, "default")

	ok, err := c.KillApplication(context.Background(), app.Application{Tag: "tag-1", Namespace: "ns1", DriverPod: pod})
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = kube.CoreV1().Pods("ns1").Get(context.Background(), "d1", metav1.GetOptions{})
	assert.Error(t, err)
}

func TestKillApplicationIsIdempotentWhenPodAlreadyGone(t *testing.T) {
	kube := kubeclientfake.NewSimpleClientset()
	c := New(kube, ReportConfig{}, "default")

	pod := driverPod("ns1", "gone", "tag-1", "app-1")
	ok, err := c.KillApplication(context.Background(), app.Application{Tag: "tag-1", Namespace: "ns1", DriverPod: pod})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGetReportSeparatesDriverAndExecutors(t *testing.T) {
	driver := driverPod("ns1", "d1", "tag-1", "app-1")
	executor := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "e1",
			Namespace: "ns1",
			Labels: map[string]string{
				config.SparkRoleLabel:   config.SparkRoleExecutor,
				config.SparkAppTagLabel: "tag-1",
			},
		},
	}
	kube := kubeclientfake.NewSimpleClientset(driver, executor)
	c := New(kube, ReportConfig{}, "default")

	r, err := c.GetReport(context.Background(), app.Application{Tag: "tag-1", Namespace: "ns1", DriverPod: driver}, 0)
	require.NoError(t, err)
	require.NotNil(t, r.DriverPod)
	assert.Equal(t, "d1", r.DriverPod.Name)
	require.Len(t, r.Executors, 1)
	assert.Equal(t, "e1", r.Executors[0].Name)
}

func TestCreateSparkUIIngressCreatesServiceAndIngress(t *testing.T) {
	driver := driverPod("ns1", "d1", "tag-1", "app-1")
	kube := kubeclientfake.NewSimpleClientset(driver)
	c := New(kube, ReportConfig{}, "default")

	err := c.CreateSparkUIIngress(context.Background(), app.Application{Tag: "tag-1", Namespace: "ns1", DriverPod: driver}, IngressConfig{
		Host:     "spark.example.com",
		Protocol: "http",
	})
	require.NoError(t, err)

	_, err = kube.CoreV1().Services("ns1").Get(context.Background(), "d1-ui", metav1.GetOptions{})
	require.NoError(t, err)
	_, err = kube.NetworkingV1().Ingresses("ns1").Get(context.Background(), "d1-ui", metav1.GetOptions{})
	require.NoError(t, err)
}

func TestCreateSparkUIIngressTwiceIsIdempotent(t *testing.T) {
	driver := driverPod("ns1", "d1", "tag-1", "app-1")
	kube := kubeclientfake.NewSimpleClientset(driver)
	c := New(kube, ReportConfig{}, "default")

	ingCfg := IngressConfig{Host: "spark.example.com", Protocol: "http"}
	require.NoError(t, c.CreateSparkUIIngress(context.Background(), app.Application{Tag: "tag-1", Namespace: "ns1", DriverPod: driver}, ingCfg))
	require.NoError(t, c.CreateSparkUIIngress(context.Background(), app.Application{Tag: "tag-1", Namespace: "ns1", DriverPod: driver}, ingCfg))

	svc, err := kube.CoreV1().Services("ns1").Get(context.Background(), "d1-ui", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "d1-ui", svc.Name)
}

func TestCreateSparkUIIngressLabelsDriverWithSparkUIURLBitExact(t *testing.T) {
	driver := driverPod("ns1", "d1", "tag-1", "app-1")
	kube := kubeclientfake.NewSimpleClientset(driver)
	c := New(kube, ReportConfig{}, "default")

	require.NoError(t, c.CreateSparkUIIngress(context.Background(), app.Application{Tag: "tag-1", Namespace: "ns1", DriverPod: driver}, IngressConfig{
		Host:     "spark.example.com",
		Protocol: "http",
	}))

	updated, err := kube.CoreV1().Pods("ns1").Get(context.Background(), "d1", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "http://spark.example.com/tag-1", updated.Labels[config.SparkUIURLLabel])

	// The label round-trips back out through GetReport's TrackingURL
	// once the Ingress lookup itself fails to find a rule host.
	require.NoError(t, kube.NetworkingV1().Ingresses("ns1").Delete(context.Background(), "d1-ui", metav1.DeleteOptions{}))
	r, err := c.GetReport(context.Background(), app.Application{Tag: "tag-1", Namespace: "ns1", DriverPod: updated}, 0)
	require.NoError(t, err)
	assert.Equal(t, "http://spark.example.com/tag-1", r.TrackingURL)
}

func TestGetReportFallsBackToDefaultNamespaceWhenApplicationNamespaceEmpty(t *testing.T) {
	driver := driverPod("default", "d1", "tag-1", "app-1")
	kube := kubeclientfake.NewSimpleClientset(driver)
	c := New(kube, ReportConfig{}, "default")

	r, err := c.GetReport(context.Background(), app.Application{Tag: "tag-1", DriverPod: driver}, 0)
	require.NoError(t, err)
	require.NotNil(t, r.DriverPod)
	assert.Equal(t, "d1", r.DriverPod.Name)
}
