// Aegis - Real-time Request Threat Scoring and Incident Response
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/aegis

package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordEvaluation(t *testing.T) {
	before := testutil.ToFloat64(RequestsEvaluated.WithLabelValues("MONITOR"))
	RecordEvaluation("MONITOR", 0.65, 2*time.Millisecond)
	after := testutil.ToFloat64(RequestsEvaluated.WithLabelValues("MONITOR"))

	if after-before != 1 {
		t.Errorf("expected MONITOR counter to increase by 1, got %v", after-before)
	}
}

func TestRecordDetector(t *testing.T) {
	ok := testutil.ToFloat64(DetectorFailures.WithLabelValues("geographic", "timeout"))
	RecordDetector("geographic", time.Millisecond, "")
	RecordDetector("geographic", 60*time.Millisecond, "timeout")

	if got := testutil.ToFloat64(DetectorFailures.WithLabelValues("geographic", "timeout")) - ok; got != 1 {
		t.Errorf("expected one timeout failure recorded, got %v", got)
	}
}

func TestRecordDBQuery(t *testing.T) {
	before := testutil.ToFloat64(DBQueryErrors.WithLabelValues("insert", "threat_logs"))
	RecordDBQuery("insert", "threat_logs", time.Millisecond, nil)
	RecordDBQuery("insert", "threat_logs", time.Millisecond, errors.New("disk full"))

	if got := testutil.ToFloat64(DBQueryErrors.WithLabelValues("insert", "threat_logs")) - before; got != 1 {
		t.Errorf("expected one error recorded, got %v", got)
	}
}

func TestRecordAlertDelivery(t *testing.T) {
	sent := testutil.ToFloat64(AlertDeliveries.WithLabelValues("webhook", "sent"))
	failed := testutil.ToFloat64(AlertDeliveries.WithLabelValues("email", "failed"))

	RecordAlertDelivery("webhook", true, 10*time.Millisecond)
	RecordAlertDelivery("email", false, 10*time.Millisecond)

	if testutil.ToFloat64(AlertDeliveries.WithLabelValues("webhook", "sent"))-sent != 1 {
		t.Error("expected webhook sent counter to increase")
	}
	if testutil.ToFloat64(AlertDeliveries.WithLabelValues("email", "failed"))-failed != 1 {
		t.Error("expected email failed counter to increase")
	}
}

func TestTrackActiveRequest(t *testing.T) {
	before := testutil.ToFloat64(APIActiveRequests)
	TrackActiveRequest(true)
	if testutil.ToFloat64(APIActiveRequests) != before+1 {
		t.Error("expected gauge to increase")
	}
	TrackActiveRequest(false)
	if testutil.ToFloat64(APIActiveRequests) != before {
		t.Error("expected gauge to return to baseline")
	}
}
