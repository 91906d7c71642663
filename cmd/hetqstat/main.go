// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command hetqstat exercises a hetq queue under synthetic load and prints
// how many elements were pushed and popped and how long the run took, for
// sizing a production queue's page
// size and cardinality before committing to it.
package main

import (
	"flag"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"code.hybscloud.com/hetq"
)

var (
	flagConfig     = flag.String("config", "", "path to a QueueConfig YAML file (optional; flags below are used if absent)")
	flagPageSize   = flag.Uint64("page-size", uint64(hetq.PageSize), "page size in bytes, must be a power of two")
	flagProducers  = flag.Int("producers", 1, "number of producer goroutines")
	flagConsumers  = flag.Int("consumers", 1, "number of consumer goroutines")
	flagDuration   = flag.Duration("duration", 2*time.Second, "how long to run the load generator")
	flagVerbose    = flag.Bool("v", false, "enable debug logging")
)

func main() {
	flag.Parse()

	log := logrus.New()
	if *flagVerbose {
		log.SetLevel(logrus.DebugLevel)
	}
	runID := uuid.New()
	log = log.WithField("run_id", runID.String()).Logger

	opts, err := resolveOptions()
	if err != nil {
		log.WithError(err).Fatal("failed to resolve queue configuration")
	}

	q := hetq.NewQueue[int64](opts...)
	log.WithFields(logrus.Fields{
		"producers": *flagProducers,
		"consumers": *flagConsumers,
		"duration":  flagDuration.String(),
	}).Info("starting load generator")

	report := run(q, *flagProducers, *flagConsumers, *flagDuration)
	fmt.Printf("run_id=%s pushed=%d popped=%d elapsed=%s\n",
		runID, report.pushed, report.popped, report.elapsed)
}

func resolveOptions() ([]hetq.Option, error) {
	if *flagConfig != "" {
		cfg, err := hetq.LoadQueueConfig(*flagConfig)
		if err != nil {
			return nil, err
		}
		return cfg.Options(), nil
	}
	if *flagPageSize == 0 || *flagPageSize&(*flagPageSize-1) != 0 {
		return nil, fmt.Errorf("hetqstat: -page-size must be a power of two, got %d", *flagPageSize)
	}
	return []hetq.Option{hetq.WithPageSize(uintptr(*flagPageSize))}, nil
}

type loadReport struct {
	pushed, popped int64
	elapsed        time.Duration
}

func run(q *hetq.Queue[int64], producers, consumers int, duration time.Duration) loadReport {
	stop := make(chan struct{})
	var pushed, popped int64
	var mu sync.Mutex
	var wg sync.WaitGroup

	start := time.Now()
	for range producers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var n int64
			for {
				select {
				case <-stop:
					mu.Lock()
					pushed += n
					mu.Unlock()
					return
				default:
					_ = q.Push(n)
					n++
				}
			}
		}()
	}
	for range consumers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var n int64
			for {
				select {
				case <-stop:
					mu.Lock()
					popped += n
					mu.Unlock()
					return
				default:
					if _, ok := q.TryPop(); ok {
						n++
					}
				}
			}
		}()
	}

	time.Sleep(duration)
	close(stop)
	wg.Wait()

	return loadReport{pushed: pushed, popped: popped, elapsed: time.Since(start)}
}
