package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRecordRequest(t *testing.T) {
	RecordRequest("GET", "/health", 200, 1*time.Millisecond)
	RecordRequest("POST", "/v1/reminders/run", 200, 2*time.Second)
	RecordRequest("POST", "/v1/reminders/run", 409, 10*time.Millisecond)
}

func TestRecordRun(t *testing.T) {
	RecordRun(RunCompleted, 3*time.Second)
	RecordRun(RunFailed, 100*time.Millisecond)
	RecordRun(RunSkipped, 0)
}

func TestObserveStage(t *testing.T) {
	ObserveStage("dispatching", 250*time.Millisecond)
	ObserveStage("rescheduling", 40*time.Millisecond)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	for _, want := range []string{
		`verdant_reminder_stage_duration_seconds_count{stage="dispatching"}`,
		`verdant_reminder_stage_duration_seconds_count{stage="rescheduling"}`,
	} {
		if !strings.Contains(rec.Body.String(), want) {
			t.Errorf("metrics response should expose %s", want)
		}
	}
}

func TestPipelineCounters(t *testing.T) {
	AddPlantsDue(12)
	AddNotificationsSent(4)
	AddPlantsRescheduled(12)
	RecordStageFailure("dispatching")
	RecordDeliveryError("receipt", "DeviceNotRegistered")
	RecordDeliveryError("ticket", "")
	RecordTokenRemoved()
	RecordRateLimitRejection("/v1/reminders/run")
}

func TestHandler(t *testing.T) {
	AddPlantsDue(1)

	handler := Handler()
	if handler == nil {
		t.Fatal("Handler should not return nil")
	}

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	if !strings.Contains(rec.Body.String(), "verdant_plants_due_total") {
		t.Error("metrics response should expose verdant_plants_due_total")
	}
}

func TestMiddleware(t *testing.T) {
	innerCalled := false
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		innerCalled = true
		w.WriteHeader(http.StatusAccepted)
	})

	handler := Middleware(inner)
	req := httptest.NewRequest("POST", "/v1/reminders/run", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if !innerCalled {
		t.Error("inner handler should have been called")
	}

	if rec.Code != http.StatusAccepted {
		t.Errorf("expected status 202, got %d", rec.Code)
	}
}

func TestResponseWriter_ExplicitStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, status: http.StatusOK}

	rw.WriteHeader(http.StatusNotFound)

	if rw.status != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rw.status)
	}
}
