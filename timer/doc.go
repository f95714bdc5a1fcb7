// Package timer provides a cooperative registry of interval and one-shot
// callbacks for device firmware style main loops.
//
// Timers are identified by an opaque ID. They are advanced either by calling
// Run from your own loop, or by Start, which polls on a background goroutine:
//
//	t := timer.New()
//	id, _ := t.SetInterval(2*time.Second, func() {
//	    client.VirtualWrite(0, readTemperature())
//	})
//	t.SetTimeout(10*time.Second, func() { t.Disable(id) })
//
//	for {
//	    t.Run()
//	    time.Sleep(10 * time.Millisecond)
//	}
//
// Callbacks run synchronously on the goroutine that advances the timer, in
// due order, outside the registry lock, so they may freely add, change or
// delete timers. A callback that overruns its period does not cause a burst
// of catch-up calls; missed periods are skipped.
package timer
