//go:build ignore

// Package main checks query benchmarks for regressions and budget overruns.
//
// Usage:
//
//	go test -run=^$ -bench=Engine_Search ./internal/search > current.txt
//	go run scripts/bench-compare.go [-budget 50ms] current.txt [baseline.txt]
//
// Without a baseline only the latency budget is checked. With one, a slowdown
// beyond -threshold in ns/op or allocs/op is a regression.
package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"time"
)

type benchmark struct {
	Name        string  `json:"name"`
	NsPerOp     float64 `json:"ns_per_op"`
	AllocsPerOp float64 `json:"allocs_per_op"`
}

type verdict struct {
	benchmark
	BaselineNs float64 `json:"baseline_ns_per_op,omitempty"`
	DeltaPct   float64 `json:"delta_percent"`
	OverBudget bool    `json:"over_budget"`
	Regressed  bool    `json:"regressed"`
	NoBaseline bool    `json:"no_baseline,omitempty"`
}

var (
	budget     = flag.Duration("budget", 50*time.Millisecond, "Per-query latency budget (0 disables)")
	threshold  = flag.Float64("threshold", 0.20, "Regression threshold (0.0-1.0)")
	outputJSON = flag.Bool("json", false, "Output results as JSON")
)

// BenchmarkEngine_Search/han-8   1234   912345 ns/op   40960 B/op   512 allocs/op
var benchLine = regexp.MustCompile(`^(Benchmark\S+?)(?:-\d+)?\s+\d+\s+([\d.]+)\s+ns/op(?:\s+\d+\s+B/op)?(?:\s+(\d+)\s+allocs/op)?`)

func main() {
	flag.Parse()
	if flag.NArg() < 1 || flag.NArg() > 2 {
		fmt.Fprintf(os.Stderr, "Usage: bench-compare [options] <current.txt> [baseline.txt]\n")
		flag.PrintDefaults()
		os.Exit(2)
	}

	current, err := parseFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing %s: %v\n", flag.Arg(0), err)
		os.Exit(1)
	}
	var baseline map[string]benchmark
	if flag.NArg() == 2 {
		if baseline, err = parseFile(flag.Arg(1)); err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing %s: %v\n", flag.Arg(1), err)
			os.Exit(1)
		}
	}

	verdicts := judge(current, baseline)
	failed := false
	for _, v := range verdicts {
		failed = failed || v.OverBudget || v.Regressed
	}

	if *outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(verdicts)
	} else {
		printText(verdicts)
	}
	if failed {
		os.Exit(1)
	}
}

func parseFile(path string) (map[string]benchmark, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	out := make(map[string]benchmark)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		m := benchLine.FindStringSubmatch(sc.Text())
		if m == nil {
			continue
		}
		b := benchmark{Name: m[1]}
		b.NsPerOp, _ = strconv.ParseFloat(m[2], 64)
		if m[3] != "" {
			b.AllocsPerOp, _ = strconv.ParseFloat(m[3], 64)
		}
		out[b.Name] = b
	}
	return out, sc.Err()
}

func judge(current, baseline map[string]benchmark) []verdict {
	names := make([]string, 0, len(current))
	for name := range current {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]verdict, 0, len(names))
	for _, name := range names {
		cur := current[name]
		v := verdict{benchmark: cur}
		if *budget > 0 && cur.NsPerOp > float64(budget.Nanoseconds()) {
			v.OverBudget = true
		}
		base, ok := baseline[name]
		switch {
		case baseline == nil:
		case !ok || base.NsPerOp == 0:
			v.NoBaseline = true
		default:
			v.BaselineNs = base.NsPerOp
			v.DeltaPct = (cur.NsPerOp - base.NsPerOp) / base.NsPerOp * 100
			allocGrowth := 0.0
			if base.AllocsPerOp > 0 {
				allocGrowth = (cur.AllocsPerOp - base.AllocsPerOp) / base.AllocsPerOp
			}
			v.Regressed = v.DeltaPct/100 > *threshold || allocGrowth > *threshold
		}
		out = append(out, v)
	}
	return out
}

func printText(verdicts []verdict) {
	for _, v := range verdicts {
		status := "ok"
		switch {
		case v.OverBudget && v.Regressed:
			status = "OVER BUDGET, REGRESSED"
		case v.OverBudget:
			status = "OVER BUDGET"
		case v.Regressed:
			status = "REGRESSED"
		case v.NoBaseline:
			status = "new"
		}
		line := fmt.Sprintf("%-50s %10s", v.Name, time.Duration(v.NsPerOp).Round(time.Microsecond))
		if v.BaselineNs > 0 {
			line += fmt.Sprintf("  %+6.1f%%", v.DeltaPct)
		}
		fmt.Printf("%s  %s\n", line, status)
	}
}
