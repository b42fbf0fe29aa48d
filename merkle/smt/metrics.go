package smt

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments a Tree's operations. A nil *Metrics is valid and
// records nothing, so instrumentation is opt-in.
type Metrics struct {
	inserts   prometheus.Counter
	deletes   prometheus.Counter
	lookups   prometheus.Counter
	proofs    prometheus.Counter
	treeNodes prometheus.Gauge
}

// NewMetrics registers a Metrics set on reg under the "fuel_smt" namespace.
// Pass prometheus.DefaultRegisterer to publish on the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		inserts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "fuel_smt",
			Name:      "inserts_total",
			Help:      "Number of Insert calls across all instrumented trees.",
		}),
		deletes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "fuel_smt",
			Name:      "deletes_total",
			Help:      "Number of Delete calls across all instrumented trees.",
		}),
		lookups: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "fuel_smt",
			Name:      "lookups_total",
			Help:      "Number of Lookup calls across all instrumented trees.",
		}),
		proofs: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "fuel_smt",
			Name:      "proofs_generated_total",
			Help:      "Number of GenerateProof calls across all instrumented trees.",
		}),
		treeNodes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "fuel_smt",
			Name:      "in_memory_nodes",
			Help:      "Node count of the last in-memory backend passed to Metrics.ObserveMemoryNodeCount.",
		}),
	}
}

// InstrumentedTree wraps a Tree, counting every Insert, Delete, Lookup and
// GenerateProof call that returns no error.
type InstrumentedTree struct {
	*Tree
	metrics *Metrics
}

// Instrument wraps tr so its operations are recorded against m. A nil m
// makes every recording a no-op.
func Instrument(tr *Tree, m *Metrics) *InstrumentedTree {
	return &InstrumentedTree{Tree: tr, metrics: m}
}

func (it *InstrumentedTree) Insert(key Hash, value []byte) error {
	err := it.Tree.Insert(key, value)
	if it.metrics != nil && err == nil {
		it.metrics.inserts.Inc()
	}
	return err
}

func (it *InstrumentedTree) Delete(key Hash) error {
	err := it.Tree.Delete(key)
	if it.metrics != nil && err == nil {
		it.metrics.deletes.Inc()
	}
	return err
}

func (it *InstrumentedTree) Lookup(key Hash) (Hash, bool, error) {
	vh, ok, err := it.Tree.Lookup(key)
	if it.metrics != nil && err == nil {
		it.metrics.lookups.Inc()
	}
	return vh, ok, err
}

func (it *InstrumentedTree) GenerateProof(key Hash) (*Proof, error) {
	proof, err := it.Tree.GenerateProof(key)
	if it.metrics != nil && err == nil {
		it.metrics.proofs.Inc()
	}
	return proof, err
}

// ObserveMemoryNodeCount publishes the node count of an in-memory backend.
// It is a no-op for other Storage implementations, whose size isn't
// cheaply observable from outside.
func (m *Metrics) ObserveMemoryNodeCount(s Storage) {
	if m == nil {
		return
	}
	if mem, ok := s.(*memoryStorage); ok {
		m.treeNodes.Set(float64(len(mem.nodes)))
	}
}
