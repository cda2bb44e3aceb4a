package reaper

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/livy-project/spark-k8s-monitor/internal/app"
	"github.com/livy-project/spark-k8s-monitor/internal/k8sclient"
	"github.com/livy-project/spark-k8s-monitor/internal/report"
)

// fakeClient is a minimal, in-memory k8sclient.Client double used to
// drive the reaper's reconciliation logic without a real cluster.
type fakeClient struct {
	mu         sync.Mutex
	apps       []app.Application
	killErr    error
	killOK     bool
	killedTags []string
}

func (f *fakeClient) ListApplications(ctx context.Context, namespaces []string) ([]app.Application, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]app.Application(nil), f.apps...), nil
}

func (f *fakeClient) GetReport(ctx context.Context, a app.Application, logWindow int) (report.Report, error) {
	return report.Report{}, nil
}

func (f *fakeClient) KillApplication(ctx context.Context, a app.Application) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killedTags = append(f.killedTags, a.Tag)
	return f.killOK, f.killErr
}

func (f *fakeClient) CreateSparkUIIngress(ctx context.Context, a app.Application, cfg k8sclient.IngressConfig) error {
	return nil
}

var _ = Describe("Reaper", func() {
	var (
		table *LeakTable
		fc    *fakeClient
		log   *zap.SugaredLogger
	)

	BeforeEach(func() {
		table = NewLeakTable()
		fc = &fakeClient{killOK: true}
		log = zap.NewNop().Sugar()
	})

	It("kills a leaked tag whose pod reappeared and removes it from the table", func() {
		table.Record("T3", time.Now())
		fc.apps = []app.Application{{Tag: "T3", Namespace: "ns"}}

		r := New(fc, table, nil, log, Options{Interval: time.Hour, Timeout: time.Minute})
		r.runCycle(context.Background())

		Expect(table.Len()).To(Equal(0))
		Expect(fc.killedTags).To(ContainElement("T3"))
	})

	It("expires a leaked tag whose pod never reappeared after the timeout", func() {
		t0 := time.Now().Add(-10 * time.Second)
		table.Record("T4", t0)

		r := New(fc, table, nil, log, Options{Interval: time.Hour, Timeout: 5 * time.Second})
		r.runCycle(context.Background())

		Expect(table.Len()).To(Equal(0))
	})

	It("leaves a leaked tag in the table before its timeout elapses", func() {
		table.Record("T5", time.Now())

		r := New(fc, table, nil, log, Options{Interval: time.Hour, Timeout: time.Hour})
		r.runCycle(context.Background())

		Expect(table.Len()).To(Equal(1))
	})

	It("leaves an entry in place when the kill attempt fails", func() {
		table.Record("T6", time.Now())
		fc.apps = []app.Application{{Tag: "T6", Namespace: "ns"}}
		fc.killOK = false

		r := New(fc, table, nil, log, Options{Interval: time.Hour, Timeout: time.Hour})
		r.runCycle(context.Background())

		Expect(table.Len()).To(Equal(1))
	})

	It("does nothing on a cycle with no leaked tags", func() {
		r := New(fc, table, nil, log, Options{Interval: time.Hour, Timeout: time.Hour})
		r.runCycle(context.Background())

		Expect(fc.killedTags).To(BeEmpty())
	})
})
