package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordQuery(t *testing.T) {
	before := testutil.ToFloat64(QueriesTotal.WithLabelValues("text", "ok"))
	RecordQuery("text", "ok", 0.02)
	after := testutil.ToFloat64(QueriesTotal.WithLabelValues("text", "ok"))
	if after != before+1 {
		t.Errorf("queries_total: got %v, want %v", after, before+1)
	}
}

func TestReadyGauge(t *testing.T) {
	Ready.Set(1)
	if v := testutil.ToFloat64(Ready); v != 1 {
		t.Errorf("ready = %v", v)
	}
	Ready.Set(0)
}
