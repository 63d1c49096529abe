//go:build ruleguard

// Package gorules holds the ruleguard checks run by golangci-lint.
package gorules

import "github.com/quasilyte/go-ruleguard/dsl"

// WaitGroupGo flags the Add/Done goroutine pattern.
func WaitGroupGo(m dsl.Matcher) {
	m.Match(`$wg.Add(1); go func() { defer $wg.Done(); $*body }()`).
		Where(m["wg"].Type.Is("sync.WaitGroup") || m["wg"].Type.Is("*sync.WaitGroup")).
		Report("use $wg.Go(func() { $body })").
		Suggest("$wg.Go(func() { $body })")
}

// DateLayouts flags literal layouts that have a time package constant.
func DateLayouts(m dsl.Matcher) {
	m.Match(`"2006-01-02"`).
		Report("use time.DateOnly").
		Suggest("time.DateOnly")
	m.Match(`"2006-01-02 15:04:05"`).
		Report("use time.DateTime").
		Suggest("time.DateTime")
	m.Match(`"15:04:05"`).
		Report("use time.TimeOnly").
		Suggest("time.TimeOnly")
}

// StdLogger flags the standard library logger in library packages. Logs go
// through internal/logger so module levels and file output apply.
func StdLogger(m dsl.Matcher) {
	m.Import("log")
	m.Match(`log.Printf($*_)`, `log.Println($*_)`, `log.Print($*_)`, `log.Fatalf($*_)`, `log.Fatal($*_)`).
		Where(m.File().PkgPath.Matches(`/internal/`)).
		Report("use logger.Global().Module(...) instead of the log package")
}

// UnbuiltError flags an enhanced error whose builder is never finished.
func UnbuiltError(m dsl.Matcher) {
	m.Match(`return errors.New($e).Component($c).Category($k)`,
		`return errors.Newf($*_).Component($c).Category($k)`).
		Report("missing .Build() on enhanced error")
}

// BenchmarkLoop flags b.N loops.
func BenchmarkLoop(m dsl.Matcher) {
	m.Match(`for $i := 0; $i < $b.N; $i++ { $*body }`, `for range $b.N { $*body }`).
		Where(m["b"].Type.Is("*testing.B")).
		Report("use for $b.Loop() { ... }")
}
