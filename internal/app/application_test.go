package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/livy-project/spark-k8s-monitor/pkg/config"
)

func TestPodPhaseToStateMapping(t *testing.T) {
	cases := []struct {
		phase string
		want  State
	}{
		{"pending", StateStarting},
		{"Pending", StateStarting},
		{"RUNNING", StateRunning},
		{"succeeded", StateFinished},
		{"Succeeded", StateFinished},
		{"failed", StateFailed},
		{"Failed", StateFailed},
		{"unknown", StateFailed},
		{"CrashLoopBackOff", StateFailed},
		{"", StateFailed},
	}
	for _, tc := range cases {
		t.Run(tc.phase, func(t *testing.T) {
			assert.Equal(t, tc.want, PodPhaseToState(tc.phase))
		})
	}
}

func TestStateIsTerminal(t *testing.T) {
	assert.False(t, StateStarting.IsTerminal())
	assert.False(t, StateRunning.IsTerminal())
	assert.True(t, StateFinished.IsTerminal())
	assert.True(t, StateFailed.IsTerminal())
	assert.True(t, StateKilled.IsTerminal())
}

func TestIsDriverAndIsExecutor(t *testing.T) {
	driver := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Labels: map[string]string{
		config.SparkRoleLabel: config.SparkRoleDriver,
	}}}
	executor := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Labels: map[string]string{
		config.SparkRoleLabel: config.SparkRoleExecutor,
	}}}
	neither := &corev1.Pod{}

	assert.True(t, IsDriver(driver))
	assert.False(t, IsExecutor(driver))
	assert.True(t, IsExecutor(executor))
	assert.False(t, IsDriver(executor))
	assert.False(t, IsDriver(neither))
	assert.False(t, IsExecutor(neither))
}

func TestAppInfoEqual(t *testing.T) {
	a := AppInfo{DriverLogURL: "a", TrackingURL: "b"}
	b := AppInfo{DriverLogURL: "a", TrackingURL: "b"}
	c := AppInfo{DriverLogURL: "a", TrackingURL: "different"}

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}
