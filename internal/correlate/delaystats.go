package correlate

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// recentWindow bounds the sample buffer used for quantile estimates. The
// running mean is cumulative over the whole process lifetime; quantiles are
// computed over at most this many recent samples so memory stays fixed no
// matter how many matches occur.
const recentWindow = 1024

// delayAggregate folds match delays into a running sum plus a bounded ring
// of recent samples. It is only ever touched by the engine goroutine.
type delayAggregate struct {
	count int64
	sum   time.Duration

	recent [recentWindow]time.Duration
	next   int
	filled bool
}

func (d *delayAggregate) add(delay time.Duration) {
	d.count++
	d.sum += delay
	d.recent[d.next] = delay
	d.next++
	if d.next == recentWindow {
		d.next = 0
		d.filled = true
	}
}

// mean returns the cumulative average delay, or zero before any match.
func (d *delayAggregate) mean() time.Duration {
	if d.count == 0 {
		return 0
	}
	return d.sum / time.Duration(d.count)
}

// quantile estimates the q-th quantile over the recent sample window, or
// zero before any match.
func (d *delayAggregate) quantile(q float64) time.Duration {
	n := d.next
	if d.filled {
		n = recentWindow
	}
	if n == 0 {
		return 0
	}
	xs := make([]float64, n)
	for i := 0; i < n; i++ {
		xs[i] = d.recent[i].Seconds()
	}
	sort.Float64s(xs)
	return time.Duration(stat.Quantile(q, stat.Empirical, xs, nil) * float64(time.Second))
}
