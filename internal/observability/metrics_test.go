package observability

import (
	"testing"
	"time"

	"github.com/danmuck/cellwarden/internal/testutil/testlog"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)

	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("GET", "/cells", 200, 12*time.Millisecond)
	RecordRemoteExec("create", 24*time.Millisecond, true)
	RecordProbe(false)
	RecordReclaim(true)

	before := testutil.ToFloat64(reservationActions.WithLabelValues("borrow", "ok"))
	RecordAction("borrow", "ok")
	if got := testutil.ToFloat64(reservationActions.WithLabelValues("borrow", "ok")); got != before+1 {
		t.Fatalf("unexpected borrow count: %v", got)
	}

	SetReservedCells(3)
	if got := testutil.ToFloat64(reservedCells); got != 3 {
		t.Fatalf("unexpected reserved gauge: %v", got)
	}
}
