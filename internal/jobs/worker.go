package jobs

import (
	"context"
	"log"
	"time"
)

// JobProcessor handles one poll cycle of background work.
type JobProcessor interface {
	ProcessJobs(ctx context.Context) error
}

// Worker drives a JobProcessor on a fixed poll interval until stopped.
type Worker struct {
	processor    JobProcessor
	pollInterval time.Duration
	stopChan     chan struct{}
	doneChan     chan struct{}
}

func NewWorker(processor JobProcessor, pollInterval time.Duration) *Worker {
	return &Worker{
		processor:    processor,
		pollInterval: pollInterval,
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
	}
}

// Start runs the polling loop. It returns when the context is cancelled
// or Stop is called; a processor error is logged and the loop continues.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	defer close(w.doneChan)

	log.Printf("jobs: worker started, poll interval %v", w.pollInterval)

	for {
		select {
		case <-ctx.Done():
			log.Println("jobs: worker stopped, context cancelled")
			return
		case <-w.stopChan:
			log.Println("jobs: worker stopped")
			return
		case <-ticker.C:
			if err := w.processor.ProcessJobs(ctx); err != nil {
				log.Printf("jobs: poll cycle failed: %v", err)
			}
		}
	}
}

// Stop signals the loop to exit and blocks until it has.
func (w *Worker) Stop() {
	close(w.stopChan)
	<-w.doneChan
}
