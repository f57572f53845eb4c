package monitor

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"
)

func newTestService() *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(Options{CPUInterval: 50 * time.Millisecond}, logger)
}

func resultString(t *testing.T, body map[string]any) string {
	t.Helper()
	s, ok := body["result"].(string)
	if !ok {
		t.Fatalf("body has no string result: %v", body)
	}
	return s
}

func TestExecuteCPUIsPercentString(t *testing.T) {
	svc := newTestService()

	body, status := svc.Execute(context.Background(), Request{Type: "cpu"})
	if status != http.StatusOK {
		t.Fatalf("HTTP status = %d", status)
	}
	value, err := strconv.ParseFloat(resultString(t, body), 64)
	if err != nil {
		t.Fatalf("cpu result is not numeric: %v", err)
	}
	if value < 0 || value > 100 {
		t.Fatalf("cpu percent out of range: %v", value)
	}
}

func TestExecuteDefaultsToCPU(t *testing.T) {
	svc := newTestService()

	body, status := svc.Execute(context.Background(), Request{})
	if status != http.StatusOK {
		t.Fatalf("HTTP status = %d", status)
	}
	if _, err := strconv.ParseFloat(resultString(t, body), 64); err != nil {
		t.Fatalf("default type should be cpu: %v", body)
	}
}

func TestExecuteMemoryIsEncodedJSON(t *testing.T) {
	svc := newTestService()

	body, status := svc.Execute(context.Background(), Request{Type: "memory"})
	if status != http.StatusOK {
		t.Fatalf("HTTP status = %d", status)
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(resultString(t, body)), &data); err != nil {
		t.Fatalf("memory result is not JSON: %v", err)
	}
	for _, key := range []string{"total_gb", "used_gb", "percent"} {
		if _, ok := data[key]; !ok {
			t.Errorf("missing key %q: %v", key, data)
		}
	}
}

func TestExecuteNetworkCounters(t *testing.T) {
	svc := newTestService()

	body, status := svc.Execute(context.Background(), Request{Type: "network"})
	if status != http.StatusOK {
		t.Fatalf("HTTP status = %d", status)
	}
	var data map[string]any
	if err := json.Unmarshal([]byte(resultString(t, body)), &data); err != nil {
		t.Fatalf("network result is not JSON: %v", err)
	}
	if _, ok := data["bytes_sent"]; !ok {
		t.Fatalf("data = %v", data)
	}
}

func TestExecutePerformanceCombines(t *testing.T) {
	svc := newTestService()

	body, status := svc.Execute(context.Background(), Request{Type: "performance"})
	if status != http.StatusOK {
		t.Fatalf("HTTP status = %d", status)
	}
	var data map[string]float64
	if err := json.Unmarshal([]byte(resultString(t, body)), &data); err != nil {
		t.Fatalf("performance result is not JSON: %v", err)
	}
	for _, key := range []string{"cpu_percent", "memory_percent", "disk_percent"} {
		if _, ok := data[key]; !ok {
			t.Errorf("missing key %q: %v", key, data)
		}
	}
}

func TestExecuteTypeIsCaseInsensitive(t *testing.T) {
	svc := newTestService()

	_, status := svc.Execute(context.Background(), Request{Type: "Memory"})
	if status != http.StatusOK {
		t.Fatalf("HTTP status = %d", status)
	}
}

func TestExecuteLivePointsAtWebsocket(t *testing.T) {
	svc := newTestService()

	body, status := svc.Execute(context.Background(), Request{Type: "cpu", Live: true})
	if status != http.StatusOK {
		t.Fatalf("HTTP status = %d", status)
	}
	if !strings.Contains(resultString(t, body), "WebSocket") {
		t.Fatalf("body = %v", body)
	}
}

func TestExecuteStubTypes(t *testing.T) {
	svc := newTestService()

	tests := map[string]string{
		"logs":   "Log stream not yet implemented",
		"custom": "Custom monitoring not implemented. Please specify details.",
	}
	for metricType, want := range tests {
		body, status := svc.Execute(context.Background(), Request{Type: metricType})
		if status != http.StatusOK {
			t.Fatalf("%s: HTTP status = %d", metricType, status)
		}
		if resultString(t, body) != want {
			t.Fatalf("%s: body = %v", metricType, body)
		}
	}
}

func TestExecuteUnknownType(t *testing.T) {
	svc := newTestService()

	body, status := svc.Execute(context.Background(), Request{Type: "quantum"})
	if status != http.StatusBadRequest {
		t.Fatalf("HTTP status = %d, want 400", status)
	}
	msg, ok := body["error"].(string)
	if !ok || !strings.Contains(msg, "Unknown monitor type: quantum") {
		t.Fatalf("body = %v", body)
	}
}

func TestSnapshot(t *testing.T) {
	svc := newTestService()

	snapshot, err := svc.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	for _, key := range []string{"cpu_percent", "memory_percent", "disk_percent"} {
		v, ok := snapshot[key].(float64)
		if !ok || v < 0 || v > 100 {
			t.Errorf("%s = %v", key, snapshot[key])
		}
	}
}
