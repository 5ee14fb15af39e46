package storagenode

import (
	"bufio"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"

	"nodebroker/pkg/log"
	"nodebroker/pkg/models"
)

const (
	procLoadAvg = "/proc/loadavg"
	procMemInfo = "/proc/meminfo"
	kbToBytes   = 1024
	fullPercent = 100.0
)

// UsageSource reports the node's current resource usage.
type UsageSource func() (*models.ResourceUsage, error)

// ProcUsage reads CPU load and memory usage from /proc. CPU usage is the one
// minute load average relative to the number of CPUs.
func ProcUsage() (*models.ResourceUsage, error) {
	load1, err := readLoadAverage(procLoadAvg)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(procMemInfo)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			log.Warn().Err(closeErr).Msg("Failed to close /proc/meminfo file")
		}
	}()

	total, used, err := parseMemInfo(file)
	if err != nil {
		return nil, err
	}

	cpu := load1 / float64(runtime.NumCPU()) * fullPercent
	if cpu > fullPercent {
		cpu = fullPercent
	}

	return &models.ResourceUsage{
		CPUPercent:  cpu,
		MemoryUsed:  used,
		MemoryTotal: total,
	}, nil
}

func readLoadAverage(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	fields := strings.Fields(string(data))
	if len(fields) < 1 {
		return 0, io.ErrUnexpectedEOF
	}
	return strconv.ParseFloat(fields[0], 64)
}

// parseMemInfo returns total and used memory in bytes. Used memory excludes
// reclaimable caches.
func parseMemInfo(reader io.Reader) (uint64, uint64, error) {
	var total, free, available, buffers, cached uint64

	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}

		value, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		value *= kbToBytes

		switch strings.TrimSuffix(fields[0], ":") {
		case "MemTotal":
			total = value
		case "MemFree":
			free = value
		case "MemAvailable":
			available = value
		case "Buffers":
			buffers = value
		case "Cached":
			cached = value
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, 0, err
	}

	if available == 0 {
		available = free + buffers + cached
	}
	if available > total {
		available = total
	}
	return total, total - available, nil
}
