// Command coveragegate checks a go coverage profile against per-file
// thresholds for the driver's codec and I/O files.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

type coverage struct {
	covered int
	total   int
}

// codecFiles hold no I/O and are expected to be fully covered.
var codecFiles = []string{
	"bunny/protocol.go",
	"bunny/packet.go",
	"bunny/frame.go",
	"bunny/request.go",
	"bunny/errors.go",
	"bunny/command.go",
	"bunny/pipeline.go",
	"bunny/outbox.go",
	"bunny/state.go",
	"bunny/reconnect_strategy.go",
	"bunny/server_chooser.go",
}

var ioFiles = []string{
	"bunny/client.go",
	"bunny/client_loop.go",
	"bunny/transport.go",
	"internal/broker/session.go",
	"internal/broker/queue.go",
}

type thresholds struct {
	overall float64
	codec   float64
	io      float64
}

func parseProfile(r io.Reader) (map[string]coverage, error) {
	result := map[string]coverage{}
	scanner := bufio.NewScanner(r)
	first := true
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if first {
			first = false
			if strings.HasPrefix(line, "mode:") {
				continue
			}
		}

		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}

		statements, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("invalid statement count in line %q: %w", line, err)
		}
		hitCount, err := strconv.Atoi(fields[2])
		if err != nil {
			return nil, fmt.Errorf("invalid hit count in line %q: %w", line, err)
		}

		fileName, _, ok := strings.Cut(fields[0], ":")
		if !ok {
			continue
		}
		entry := result[fileName]
		entry.total += statements
		if hitCount > 0 {
			entry.covered += statements
		}
		result[fileName] = entry
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func findCoverage(files map[string]coverage, suffix string) (coverage, bool) {
	for fileName, cov := range files {
		if strings.HasSuffix(fileName, suffix) {
			return cov, true
		}
	}
	return coverage{}, false
}

func pct(c coverage) float64 {
	if c.total == 0 {
		return 0
	}
	return (float64(c.covered) * 100.0) / float64(c.total)
}

// evaluate returns the aggregate coverage and the sorted list of failures.
func evaluate(files map[string]coverage, limits thresholds) (coverage, []string) {
	total := coverage{}
	for _, fileCov := range files {
		total.covered += fileCov.covered
		total.total += fileCov.total
	}

	var failures []string
	if overall := pct(total); overall+1e-9 < limits.overall {
		failures = append(failures, fmt.Sprintf("aggregate coverage %.1f%% is below %.1f%%", overall, limits.overall))
	}

	check := func(kind string, names []string, minimum float64) {
		for _, fileName := range names {
			fileCov, ok := findCoverage(files, fileName)
			if !ok {
				failures = append(failures, fmt.Sprintf("%s file %s is missing from coverage profile", kind, fileName))
				continue
			}
			if filePct := pct(fileCov); filePct+1e-9 < minimum {
				failures = append(failures, fmt.Sprintf("%s file %s is %.1f%% (required %.1f%%)", kind, fileName, filePct, minimum))
			}
		}
	}
	check("codec", codecFiles, limits.codec)
	check("io", ioFiles, limits.io)

	sort.Strings(failures)
	return total, failures
}

func main() {
	profilePath := flag.String("profile", "coverage.out", "path to go coverage profile")
	var limits thresholds
	flag.Float64Var(&limits.overall, "overall", 85.0, "minimum aggregate coverage percentage")
	flag.Float64Var(&limits.codec, "codec", 95.0, "minimum codec file coverage percentage")
	flag.Float64Var(&limits.io, "io", 75.0, "minimum io file coverage percentage")
	flag.Parse()

	file, err := os.Open(*profilePath) // #nosec G304 -- path is explicitly provided by local CI/operator input
	if err != nil {
		fmt.Fprintf(os.Stderr, "coverage gate failed reading profile: %v\n", err)
		os.Exit(1)
	}
	files, err := parseProfile(file)
	_ = file.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "coverage gate failed reading profile: %v\n", err)
		os.Exit(1)
	}

	total, failures := evaluate(files, limits)
	fmt.Printf("aggregate: %.1f%% (%d/%d)\n", pct(total), total.covered, total.total)
	if len(failures) == 0 {
		fmt.Println("coverage gate: PASS")
		return
	}

	fmt.Println("coverage gate: FAIL")
	for _, failure := range failures {
		fmt.Printf("- %s\n", failure)
	}
	os.Exit(2)
}
