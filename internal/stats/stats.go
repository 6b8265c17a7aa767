package stats

import (
	"encoding/json"
	"expvar"
	"net/http"
	"sync"
	"time"
)

const (
	ActiveConnections = "ActiveConnections"
	TotalConnections  = "TotalConnections"
	MessagesPublished = "MessagesPublished"
	NotificationsSent = "NotificationsSent"
	ActiveGroups      = "ActiveGroups"
	DroppedDeliveries = "DroppedDeliveries"
	ActiveMeetings    = "ActiveMeetings"
)

type StatsProvider interface {
	Incr(name string)
	Decr(name string)
	RegisterMetric(name string)
}

type StatsUpdater struct {
	vars       *expvar.Map
	updateChan chan *metricsUpdateReq
	done       chan struct{}
	stopOnce   sync.Once
}

type metricsUpdateReq struct {
	name  string
	value int
}

func (su *StatsUpdater) expvarHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	expvarData := make(map[string]any)
	su.vars.Do(func(kv expvar.KeyValue) {
		var value any
		json.Unmarshal([]byte(kv.Value.String()), &value)
		expvarData[kv.Key] = value
	})

	json.NewEncoder(w).Encode(expvarData)
}

// NewStatsUpdater creates a stats updater and mounts its handler on mux.
// The expvar map is not published globally so several updaters can coexist in tests.
func NewStatsUpdater(mux *http.ServeMux) *StatsUpdater {
	su := &StatsUpdater{
		vars:       new(expvar.Map).Init(),
		updateChan: make(chan *metricsUpdateReq, 512),
		done:       make(chan struct{}),
	}
	if mux != nil {
		mux.Handle("GET /debug/vars", http.HandlerFunc(su.expvarHandler))
	}
	su.initializeMetrics()

	return su
}

func (su *StatsUpdater) initializeMetrics() {
	startTime := time.Now()
	su.vars.Set("Uptime", expvar.Func(func() any {
		return time.Since(startTime).Milliseconds()
	}))

	for _, name := range []string{
		ActiveConnections,
		TotalConnections,
		MessagesPublished,
		NotificationsSent,
		ActiveGroups,
		DroppedDeliveries,
		ActiveMeetings,
	} {
		su.RegisterMetric(name)
	}
}

func (su *StatsUpdater) updateMetrics() {
	for {
		select {
		case <-su.done:
			return
		case req := <-su.updateChan:
			metric, ok := su.vars.Get(req.name).(*expvar.Int)
			if !ok {
				continue
			}

			metric.Add(int64(req.value))
		}
	}
}

func (su *StatsUpdater) Incr(name string) {
	su.send(&metricsUpdateReq{name: name, value: 1})
}

func (su *StatsUpdater) Decr(name string) {
	su.send(&metricsUpdateReq{name: name, value: -1})
}

// send drops the update rather than block a hot path when the updater is saturated.
func (su *StatsUpdater) send(req *metricsUpdateReq) {
	select {
	case <-su.done:
	case su.updateChan <- req:
	default:
	}
}

func (su *StatsUpdater) RegisterMetric(name string) {
	if su.vars.Get(name) != nil {
		return
	}
	su.vars.Set(name, new(expvar.Int))
}

// Value returns the current value of an integer metric.
func (su *StatsUpdater) Value(name string) int64 {
	if metric, ok := su.vars.Get(name).(*expvar.Int); ok {
		return metric.Value()
	}
	return 0
}

func (su *StatsUpdater) Run() {
	go su.updateMetrics()
}

func (su *StatsUpdater) Stop() {
	su.stopOnce.Do(func() {
		close(su.done)
	})
}
