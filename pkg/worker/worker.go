// Package worker runs periodic library scans off the request path.
package worker

import (
	"context"
	"time"

	"github.com/foliobooks/folio/pkg/config"
	"github.com/foliobooks/folio/pkg/library"
	"github.com/google/uuid"
	"github.com/robinjoseph08/golib/logger"
)

type task struct {
	name string
	run  func(ctx context.Context) error
}

// Worker schedules scans on a fixed interval and runs them on a small pool.
// RequestScan queues an immediate scan between ticks.
type Worker struct {
	config  *config.Config
	log     logger.Logger
	scanner *library.Scanner

	queue          chan task
	shutdown       chan struct{}
	doneScheduling chan struct{}
	doneProcessing chan struct{}
}

func New(cfg *config.Config, scanner *library.Scanner) *Worker {
	return &Worker{
		config:  cfg,
		log:     logger.New(),
		scanner: scanner,

		queue:          make(chan task, cfg.WorkerProcesses),
		shutdown:       make(chan struct{}),
		doneScheduling: make(chan struct{}),
		doneProcessing: make(chan struct{}, cfg.WorkerProcesses),
	}
}

func (w *Worker) Start() {
	go w.schedule()
	for i := 0; i < w.config.WorkerProcesses; i++ {
		go w.process()
	}
}

// RequestScan queues a scan without waiting for the next tick. Drops the
// request if the queue is full, since a scan is already pending.
func (w *Worker) RequestScan() {
	select {
	case w.queue <- task{name: "scan", run: w.scanner.Scan}:
	default:
	}
}

func (w *Worker) schedule() {
	// A zero interval disables periodic scans; only RequestScan runs then.
	if w.config.ScanInterval <= 0 {
		<-w.shutdown
		w.doneScheduling <- struct{}{}
		return
	}

	timer := time.NewTimer(w.config.ScanInterval)
	defer timer.Stop()

	for {
		select {
		case <-w.shutdown:
			// We're shutting down, so stop adding more tasks to the queue.
			w.doneScheduling <- struct{}{}
			return
		case <-timer.C:
			w.RequestScan()
			timer.Reset(w.config.ScanInterval)
		}
	}
}

func (w *Worker) process() {
	for {
		select {
		case <-w.shutdown:
			w.doneProcessing <- struct{}{}
			return
		case t := <-w.queue:
			id, err := uuid.NewRandom()
			if err != nil {
				w.log.Err(err).Error("new uuid error")
				continue
			}
			log := w.log.ID(id.String()).Root(logger.Data{"task": t.name})
			ctx := log.WithContext(context.Background())

			started := time.Now()
			if err := t.run(ctx); err != nil {
				log.Err(err).Error("task error")
				continue
			}
			log.Data(logger.Data{"duration": time.Since(started).String()}).Info("task complete")
		}
	}
}

func (w *Worker) Shutdown() {
	close(w.shutdown)

	<-w.doneScheduling
	for i := 0; i < w.config.WorkerProcesses; i++ {
		<-w.doneProcessing
	}
}
