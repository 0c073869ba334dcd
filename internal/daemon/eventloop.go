package daemon

import (
	"context"
	"time"
)

// EventLoop runs periodic housekeeping: gauge refresh, queue stats logging
// and degraded-health broadcasts. It never touches the trial hot path.
type EventLoop struct {
	daemon *Daemon

	lastSourceHealthy bool
	lastQualityOK     bool
}

// NewEventLoop creates the housekeeping loop.
func NewEventLoop(d *Daemon) *EventLoop {
	return &EventLoop{
		daemon:            d,
		lastSourceHealthy: true,
		lastQualityOK:     true,
	}
}

// Run ticks until the context is cancelled.
func (e *EventLoop) Run(ctx context.Context) {
	e.daemon.logger.Info().Msg("Event loop started")

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.daemon.logger.Info().Msg("Event loop stopping")
			return
		case <-ticker.C:
			e.refreshGauges()
			e.checkHealth()
			e.logQueueStats()
		}
	}
}

func (e *EventLoop) refreshGauges() {
	d := e.daemon

	report := d.generator.Report()
	d.gauges.TimingErrorAvgMs.Set(report.AvgErrorMs)
	d.gauges.TimingErrorMaxMs.Set(report.MaxErrorMs)

	if d.source.Healthy() && d.quality.Acceptable() {
		d.gauges.SourceDegraded.Set(0)
	} else {
		d.gauges.SourceDegraded.Set(1)
	}
	if d.maint.Healthy() {
		d.gauges.StoreUnhealthy.Set(0)
	} else {
		d.gauges.StoreUnhealthy.Set(1)
	}
}

// checkHealth broadcasts health transitions to the gateway, once per edge.
func (e *EventLoop) checkHealth() {
	d := e.daemon

	healthy := d.source.Healthy()
	if healthy != e.lastSourceHealthy {
		e.lastSourceHealthy = healthy
		event := "health.source_recovered"
		if !healthy {
			event = "health.source_degraded"
			d.logger.Warn().Str("source", d.source.Name()).Msg("Trial source degraded")
		}
		if d.gateway != nil {
			d.gateway.Publish(event, map[string]interface{}{"source": d.source.Name()})
		}
	}

	qualityOK := d.quality.Acceptable()
	if qualityOK != e.lastQualityOK {
		e.lastQualityOK = qualityOK
		event := "health.quality_recovered"
		if !qualityOK {
			event = "health.quality_degraded"
			d.logger.Warn().Float64("score", d.quality.Score()).Msg("Source quality below threshold")
		}
		if d.gateway != nil {
			d.gateway.Publish(event, map[string]interface{}{"score": d.quality.Score()})
		}
	}
}

func (e *EventLoop) logQueueStats() {
	d := e.daemon

	for lane, laneStats := range d.queue.GetStats() {
		if laneStats["queued"] > 0 || laneStats["running"] > 0 {
			d.logger.Debug().
				Str("lane", lane).
				Int("queued", laneStats["queued"]).
				Int("running", laneStats["running"]).
				Msg("Queue stats")
		}
	}

	if buffered := d.writer.Buffered(); buffered > 0 {
		d.logger.Debug().Int("buffered", buffered).Msg("Trials awaiting flush")
	}
}

// statusPayload is the snapshot broadcast to gateway clients and returned
// by the CLI status command.
func (d *Daemon) statusPayload() interface{} {
	payload := map[string]interface{}{
		"generator_running": d.generator.Running(),
		"frequency":         d.config.Timing.Frequency,
		"source":            d.source.Name(),
		"source_healthy":    d.source.Healthy(),
		"quality_score":     d.quality.Score(),
		"store_healthy":     d.maint.Healthy(),
		"buffered":          d.writer.Buffered(),
		"session_status":    string(d.sessions.Status()),
		"timing":            d.generator.Report(),
		"performance":       d.perfmon.Latest(),
	}

	if current, ok := d.sessions.Current(); ok {
		payload["session_id"] = current.ID
		payload["session_intention"] = string(current.Intention)
		if snapshot, err := d.statsEng.Snapshot(current.ID); err == nil {
			payload["session_snapshot"] = snapshot
		}
	}
	if period, ok := d.periods.Current(); ok {
		payload["period_id"] = period.ID
		payload["period_intention"] = string(period.Intention)
		if snapshot, err := d.statsEng.Snapshot(period.ID); err == nil {
			payload["period_snapshot"] = snapshot
		}
	}

	return payload
}
