package process

import (
	"time"

	"github.com/camsift/camsift/internal/sysmon"
	"github.com/camsift/camsift/internal/worker"
)

// RunSysStatus logs a resource status line immediately and then at the given
// interval.
func (p *Processor) RunSysStatus(w *worker.Worker, every time.Duration) error {
	var last time.Time
	for !w.Aborting() {
		if last.IsZero() || time.Since(last) >= every {
			last = time.Now()
			p.store.LogActivity("sys mem free %.0fMB, process mem usage %.0fMB, temp %s",
				sysmon.MemoryFreeMB(), sysmon.MemoryUsageMB(), sysmon.TemperatureString())
		}
		w.Sleep(time.Second)
	}
	return nil
}
