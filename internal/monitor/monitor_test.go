package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/livy-project/spark-k8s-monitor/internal/app"
	"github.com/livy-project/spark-k8s-monitor/internal/k8sclient"
	"github.com/livy-project/spark-k8s-monitor/internal/reaper"
	"github.com/livy-project/spark-k8s-monitor/internal/report"
	"github.com/livy-project/spark-k8s-monitor/pkg/config"
)

// fakeMonitorClient is an in-memory k8sclient.Client double driving a
// Monitor under test without a real cluster. reports is consumed in
// order; the last entry repeats once exhausted.
type fakeMonitorClient struct {
	mu           sync.Mutex
	apps         []app.Application
	reports      []report.Report
	reportErr    error
	ingressErr   error
	ingressCalls int
	killed       []string
}

func (f *fakeMonitorClient) ListApplications(ctx context.Context, namespaces []string) ([]app.Application, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]app.Application(nil), f.apps...), nil
}

func (f *fakeMonitorClient) GetReport(ctx context.Context, a app.Application, logWindow int) (report.Report, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reportErr != nil {
		return report.Report{}, f.reportErr
	}
	if len(f.reports) == 0 {
		return report.Report{}, nil
	}
	r := f.reports[0]
	if len(f.reports) > 1 {
		f.reports = f.reports[1:]
	}
	return r, nil
}

func (f *fakeMonitorClient) KillApplication(ctx context.Context, a app.Application) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = append(f.killed, a.Tag)
	return true, nil
}

func (f *fakeMonitorClient) CreateSparkUIIngress(ctx context.Context, a app.Application, cfg k8sclient.IngressConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ingressCalls++
	return f.ingressErr
}

type fakeListener struct {
	mu          sync.Mutex
	appIDs      []string
	transitions [][2]app.State
	infos       []app.AppInfo
}

func (l *fakeListener) AppIDKnown(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.appIDs = append(l.appIDs, id)
}

func (l *fakeListener) StateChanged(old, new app.State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transitions = append(l.transitions, [2]app.State{old, new})
}

func (l *fakeListener) InfoChanged(info app.AppInfo) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, info)
}

func (l *fakeListener) lastInfo() app.AppInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.infos[len(l.infos)-1]
}

func (l *fakeListener) appIDsSnapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.appIDs...)
}

type fakeChild struct {
	mu        sync.Mutex
	destroyed int
}

func (c *fakeChild) Destroy() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destroyed++
}
func (c *fakeChild) destroyCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}
func (c *fakeChild) InputLines() []string { return nil }
func (c *fakeChild) ErrorLines() []string { return nil }

func fastConfig() config.Config {
	cfg := config.Defaults()
	cfg.AppLookupTimeout = 60 * time.Millisecond
	cfg.PollInterval = 5 * time.Millisecond
	cfg.IngressCreate = false
	cfg.UIHistoryServerURL = "http://history"
	return cfg
}

var _ = Describe("Monitor", func() {
	var (
		fc    *fakeMonitorClient
		fl    *fakeListener
		child *fakeChild
		table *reaper.LeakTable
		log   *zap.SugaredLogger
	)

	BeforeEach(func() {
		fc = &fakeMonitorClient{}
		fl = &fakeListener{}
		child = &fakeChild{}
		table = reaper.NewLeakTable()
		log = zap.NewNop().Sugar()
	})

	It("resolves, tracks Starting->Running->Finished, and emits a final history-server AppInfo", func() {
		fc.apps = []app.Application{{Tag: "T1", Namespace: "ns", AppID: "app-T1"}}
		fc.reports = []report.Report{
			{State: app.StateRunning, TrackingURL: "http://h/T1"},
			{State: app.StateFinished, TrackingURL: "http://h/T1"},
		}

		m := New("T1", uuid.New(), fc, table, fl, child, fastConfig(), nil, log)
		m.Start(context.Background())

		Expect(fl.appIDs).To(Equal([]string{"app-T1"}))
		Expect(fl.transitions).To(Equal([][2]app.State{
			{app.StateStarting, app.StateRunning},
			{app.StateRunning, app.StateFinished},
		}))
		Expect(child.destroyCount()).To(Equal(1))
		Expect(table.Len()).To(Equal(0))
		Expect(fl.lastInfo().SparkUIURL).To(Equal("http://history/history/app-T1"))
	})

	It("records a leak and fails the monitor when the driver pod never appears", func() {
		m := New("T2", uuid.New(), fc, table, fl, child, fastConfig(), nil, log)
		m.Start(context.Background())

		Expect(fl.transitions).To(Equal([][2]app.State{
			{app.StateStarting, app.StateFailed},
		}))
		Expect(table.Len()).To(Equal(1))
		Expect(child.destroyCount()).To(Equal(1))
		Expect(m.Diagnostics()).To(ContainSubstring("lookup timeout"))
	})

	It("fails the monitor when the cluster client errors on every poll", func() {
		fc.apps = []app.Application{{Tag: "T3", Namespace: "ns", AppID: "app-T3"}}
		fc.reportErr = errors.New("transient cluster error")

		m := New("T3", uuid.New(), fc, table, fl, child, fastConfig(), nil, log)
		m.Start(context.Background())

		Expect(fl.transitions).To(Equal([][2]app.State{
			{app.StateStarting, app.StateRunning},
			{app.StateRunning, app.StateFailed},
		}))
		Expect(child.destroyCount()).To(Equal(1))
	})

	It("fails the monitor when ingress provisioning cannot succeed after retries", func() {
		fc.apps = []app.Application{{Tag: "T4", Namespace: "ns", AppID: "app-T4"}}
		fc.ingressErr = errors.New("ingress rejected")

		cfg := fastConfig()
		cfg.IngressCreate = true

		m := New("T4", uuid.New(), fc, table, fl, child, cfg, nil, log)
		m.Start(context.Background())

		Expect(fl.transitions).To(Equal([][2]app.State{
			{app.StateStarting, app.StateFailed},
		}))
		Expect(fc.ingressCalls).To(BeNumerically(">=", 1))
	})

	It("cancels the monitor and swallows the timeout when killed before resolution", func() {
		cfg := fastConfig()
		cfg.AppLookupTimeout = 500 * time.Millisecond

		m := New("T5", uuid.New(), fc, table, fl, child, cfg, nil, log)

		done := make(chan struct{})
		go func() {
			m.Start(context.Background())
			close(done)
		}()

		killCtx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
		defer cancel()
		m.Kill(killCtx)

		Eventually(done, time.Second).Should(BeClosed())
		Expect(child.destroyCount()).To(Equal(1))
		Expect(fl.transitions).To(HaveLen(1))
		Expect(fl.transitions[0][1]).To(Equal(app.StateKilled))
		Expect(fc.killed).To(BeEmpty())
	})

	It("kills the resolved application and lets the poll loop observe cancellation", func() {
		fc.apps = []app.Application{{Tag: "T6", Namespace: "ns", AppID: "app-T6"}}
		fc.reports = []report.Report{{State: app.StateRunning}}

		cfg := fastConfig()
		cfg.PollInterval = 200 * time.Millisecond

		m := New("T6", uuid.New(), fc, table, fl, child, cfg, nil, log)

		done := make(chan struct{})
		go func() {
			m.Start(context.Background())
			close(done)
		}()

		Eventually(fl.appIDsSnapshot, time.Second).Should(Equal([]string{"app-T6"}))

		m.Kill(context.Background())

		Eventually(done, time.Second).Should(BeClosed())
		Expect(fc.killed).To(Equal([]string{"T6"}))
		Expect(child.destroyCount()).To(Equal(1))
	})
})
