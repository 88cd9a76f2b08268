package slab

import (
	"fmt"
	"io"

	"github.com/VictoriaMetrics/metrics"
)

// slabMetrics holds the counters of one slab in its own metrics set, so that
// several slabs can run in one process.
type slabMetrics struct {
	set *metrics.Set

	memosReceived  *metrics.Counter
	memosRedundant *metrics.Counter
	memosBuffered  *metrics.Counter
	retirements    *metrics.Counter
	stored         *metrics.Counter
}

func newSlabMetrics(s *Slab) *slabMetrics {
	set := metrics.NewSet()
	name := func(metric string) string {
		return fmt.Sprintf(`dslab_%s{slab=%q}`, metric, s.name)
	}

	m := &slabMetrics{
		set:            set,
		memosReceived:  set.NewCounter(name("memos_received_total")),
		memosRedundant: set.NewCounter(name("memos_redundant_total")),
		memosBuffered:  set.NewCounter(name("memos_buffered_total")),
		retirements:    set.NewCounter(name("retirements_total")),
		stored:         set.NewCounter(name("records_stored_total")),
	}
	set.NewGauge(name("records"), func() float64 {
		return float64(s.records.Size())
	})
	set.NewGauge(name("peerings"), func() float64 {
		return float64(s.peerings.Len())
	})
	set.NewGauge(name("under_replicated"), func() float64 {
		return float64(s.Info().UnderReplicated)
	})
	return m
}

// WriteMetrics writes the slab's metrics in Prometheus text format.
func (s *Slab) WriteMetrics(w io.Writer) {
	s.metrics.set.WritePrometheus(w)
}
