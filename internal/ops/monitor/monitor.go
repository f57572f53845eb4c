// Package monitor implements the /monitor operation: point-in-time host
// metrics (cpu, memory, disk, network, filesystem, performance) plus a
// snapshot feed for the live websocket stream.
//
// Metric payloads are JSON-encoded strings under "result", a wire quirk
// kept for caller compatibility.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/net"
)

// HealthMessage answers the GET liveness probe.
const HealthMessage = "Monitor endpoint is live."

var supportedTypes = []string{
	"cpu", "memory", "disk", "network", "logs", "filesystem", "performance", "custom",
}

// Request is the /monitor request body.
type Request struct {
	Type string `json:"type"`
	Live bool   `json:"live"`
}

// Options configures the monitor service.
type Options struct {
	// CPUInterval is the sampling window for cpu percent. Default 1s.
	CPUInterval time.Duration
	// DiskPath is the mount point measured by the disk type. Default "/".
	DiskPath string
}

// Service reads host metrics.
type Service struct {
	opts   Options
	logger *slog.Logger
}

// NewService creates the monitor service.
func NewService(opts Options, logger *slog.Logger) *Service {
	if opts.CPUInterval <= 0 {
		opts.CPUInterval = time.Second
	}
	if opts.DiskPath == "" {
		opts.DiskPath = "/"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{opts: opts, logger: logger}
}

// Execute handles one /monitor request and returns the response body with
// its HTTP status.
func (s *Service) Execute(ctx context.Context, req Request) (map[string]any, int) {
	metricType := strings.ToLower(req.Type)
	if metricType == "" {
		metricType = "cpu"
	}

	if req.Live {
		return result(fmt.Sprintf("Live %s monitoring not implemented. Use WebSocket or polling.", metricType)), http.StatusOK
	}

	switch metricType {
	case "cpu":
		return s.metric(ctx, metricType, s.cpuPercent)
	case "memory":
		return s.metric(ctx, metricType, s.memory)
	case "disk":
		return s.metric(ctx, metricType, s.disk)
	case "network":
		return s.metric(ctx, metricType, s.network)
	case "filesystem":
		return s.metric(ctx, metricType, s.filesystem)
	case "performance":
		return s.metric(ctx, metricType, s.performance)
	case "logs":
		return result("Log stream not yet implemented"), http.StatusOK
	case "custom":
		return result("Custom monitoring not implemented. Please specify details."), http.StatusOK
	default:
		msg := fmt.Sprintf("Unknown monitor type: %s. Supported: %s.",
			metricType, strings.Join(supportedTypes, ", "))
		return map[string]any{"error": msg}, http.StatusBadRequest
	}
}

func (s *Service) metric(ctx context.Context, metricType string, read func(context.Context) (string, error)) (map[string]any, int) {
	value, err := read(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "metric read failed",
			slog.String("type", metricType),
			slog.String("error", err.Error()),
		)
		return map[string]any{"error": fmt.Sprintf("Internal error: %s", err)}, http.StatusInternalServerError
	}
	return result(value), http.StatusOK
}

func (s *Service) cpuPercent(ctx context.Context) (string, error) {
	percents, err := cpu.PercentWithContext(ctx, s.opts.CPUInterval, false)
	if err != nil {
		return "", err
	}
	if len(percents) == 0 {
		return "0.0", nil
	}
	return strconv.FormatFloat(round1(percents[0]), 'f', 1, 64), nil
}

func (s *Service) memory(ctx context.Context) (string, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return "", err
	}
	return encode(map[string]any{
		"total_gb": roundGB(vm.Total),
		"used_gb":  roundGB(vm.Used),
		"percent":  round2(vm.UsedPercent),
	})
}

func (s *Service) disk(ctx context.Context) (string, error) {
	usage, err := disk.UsageWithContext(ctx, s.opts.DiskPath)
	if err != nil {
		return "", err
	}
	return encode(map[string]any{
		"total_gb": roundGB(usage.Total),
		"used_gb":  roundGB(usage.Used),
		"percent":  round2(usage.UsedPercent),
	})
}

func (s *Service) network(ctx context.Context) (string, error) {
	counters, err := net.IOCountersWithContext(ctx, false)
	if err != nil {
		return "", err
	}
	var sent, recv uint64
	if len(counters) > 0 {
		sent, recv = counters[0].BytesSent, counters[0].BytesRecv
	}
	return encode(map[string]any{
		"bytes_sent": sent,
		"bytes_recv": recv,
	})
}

func (s *Service) filesystem(ctx context.Context) (string, error) {
	partitions, err := disk.PartitionsWithContext(ctx, false)
	if err != nil {
		return "", err
	}
	data := make(map[string]any, len(partitions))
	for _, p := range partitions {
		usage, err := disk.UsageWithContext(ctx, p.Mountpoint)
		if err != nil {
			data[p.Mountpoint] = "unavailable"
			continue
		}
		data[p.Mountpoint] = map[string]any{
			"total_gb": roundGB(usage.Total),
			"used_gb":  roundGB(usage.Used),
			"percent":  round2(usage.UsedPercent),
		}
	}
	return encode(data)
}

func (s *Service) performance(ctx context.Context) (string, error) {
	snapshot, err := s.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	return encode(snapshot)
}

// Snapshot returns the combined cpu/memory/disk percentages. The live
// websocket stream emits these on an interval.
func (s *Service) Snapshot(ctx context.Context) (map[string]any, error) {
	percents, err := cpu.PercentWithContext(ctx, s.opts.CPUInterval, false)
	if err != nil {
		return nil, err
	}
	cpuPercent := 0.0
	if len(percents) > 0 {
		cpuPercent = percents[0]
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, err
	}
	usage, err := disk.UsageWithContext(ctx, s.opts.DiskPath)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"cpu_percent":    round2(cpuPercent),
		"memory_percent": round2(vm.UsedPercent),
		"disk_percent":   round2(usage.UsedPercent),
	}, nil
}

func result(v any) map[string]any {
	return map[string]any{"result": v}
}

func encode(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func roundGB(bytes uint64) float64 {
	return round2(float64(bytes) / 1e9)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
