package telemetry

import (
	"context"
	"log/slog"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// InstrumentPerfStats records process gauges every 30 seconds until ctx is done.
// The meter is resolved at call time so it binds to the provider installed by Setup.
func InstrumentPerfStats(ctx context.Context) {
	meter := otel.Meter("pyqfetch.perf_stats")
	cpuGauge, _ := meter.Float64Gauge("cpu_usage", metric.WithUnit("%"))
	memoryGauge, _ := meter.Int64Gauge("allocated_mb", metric.WithUnit("MBy"))
	goroutineGauge, _ := meter.Int64Gauge("goroutine_count", metric.WithUnit("{goroutine}"))

	go func() {
		var memStats runtime.MemStats
		ticker := time.NewTicker(time.Second * 30)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				runtime.ReadMemStats(&memStats)

				cpuUsage, err := cpu.Percent(time.Second, false)
				if err == nil && len(cpuUsage) > 0 {
					cpuGauge.Record(ctx, cpuUsage[0])
				} else if err != nil {
					slog.Debug("failed to read cpu usage", "err", err)
				}

				memoryGauge.Record(ctx, int64(memStats.Alloc/1_000_000))
				goroutineGauge.Record(ctx, int64(runtime.NumGoroutine()))
			case <-ctx.Done():
				return
			}
		}
	}()
}
