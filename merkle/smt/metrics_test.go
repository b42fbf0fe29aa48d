package smt

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInstrumentedTreeCountsInserts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	tr := Instrument(NewTree(NewMemoryStorage()), m)

	if err := tr.Insert(key([]byte("a")), []byte("DATA")); err != nil {
		t.Fatal(err)
	}
	if err := tr.Insert(key([]byte("b")), []byte("DATA")); err != nil {
		t.Fatal(err)
	}

	if got := testutil.ToFloat64(m.inserts); got != 2 {
		t.Fatalf("inserts_total = %v, want 2", got)
	}
}

func TestNilMetricsIsANoOp(t *testing.T) {
	tr := Instrument(NewTree(NewMemoryStorage()), nil)
	if err := tr.Insert(key([]byte("a")), []byte("DATA")); err != nil {
		t.Fatal(err)
	}
}
