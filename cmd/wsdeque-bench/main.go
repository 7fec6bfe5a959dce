// Command wsdeque-bench drives a handful of push/pop/steal throughput
// scenarios against pkg/wsdeque and prints the results as a table.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/grafana/wsdeque/pkg/wsdeque"
)

var opsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "wsdeque",
	Name:      "bench_ops_total",
	Help:      "Operations performed during a wsdeque-bench run, by kind.",
}, []string{"kind"})

func main() {
	var (
		workers     = flag.Int("workers", 4, "number of concurrent stealer goroutines")
		ops         = flag.Int("ops", 1_000_000, "number of elements the owner pushes and pops")
		minCapacity = flag.Int("min-capacity", wsdeque.DefaultMinCapacity, "deque minimum capacity")
		metricsAddr = flag.String("metrics-addr", "", "if set, serve Prometheus metrics on this address for the run's duration (e.g. :9090)")
	)
	flag.Parse()

	if *metricsAddr != "" {
		srv := &http.Server{Addr: *metricsAddr, Handler: promhttp.Handler()}
		go func() {
			_ = srv.ListenAndServe()
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	rows := [][]string{
		runOwnerOnly(*ops),
		runContendedSteal(*ops, *workers, *minCapacity),
	}

	w := tablewriter.NewWriter(os.Stdout)
	w.SetHeader([]string{"scenario", "ops", "duration", "ops/sec"})
	w.AppendBulk(rows)
	w.Render()
}

func runOwnerOnly(ops int) []string {
	d := wsdeque.New[int]()

	start := time.Now()
	for i := 0; i < ops; i++ {
		d.Push(i)
	}
	for i := 0; i < ops; i++ {
		_, _ = d.Pop()
	}
	elapsed := time.Since(start)

	opsTotal.WithLabelValues("push_pop").Add(float64(2 * ops))

	return row("owner push+pop", 2*ops, elapsed)
}

func runContendedSteal(ops, workers, minCapacity int) []string {
	d := wsdeque.NewWithMinCapacity[int](minCapacity)
	stealer := d.Stealer()

	var wg sync.WaitGroup
	var stolen int64
	var mu sync.Mutex

	stop := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			local := 0
			for {
				select {
				case <-stop:
					mu.Lock()
					stolen += int64(local)
					mu.Unlock()
					return
				default:
				}
				res := stealer.Steal()
				if _, ok := res.Success(); ok {
					local++
				}
			}
		}()
	}

	start := time.Now()
	for i := 0; i < ops; i++ {
		d.Push(i)
	}
	for !d.IsEmpty() {
		time.Sleep(time.Microsecond)
	}
	elapsed := time.Since(start)

	close(stop)
	wg.Wait()

	opsTotal.WithLabelValues("steal").Add(float64(stolen))

	return row(fmt.Sprintf("push+%d stealers", workers), ops, elapsed)
}

func row(name string, ops int, elapsed time.Duration) []string {
	opsPerSec := float64(ops) / elapsed.Seconds()
	return []string{
		name,
		strconv.Itoa(ops),
		elapsed.String(),
		strconv.FormatFloat(opsPerSec, 'f', 0, 64),
	}
}
