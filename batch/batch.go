// Package batch implements the bounded-concurrency pump over the
// transaction pipeline: a fixed worker pool draining a buffered item
// channel, one Outcome per submitted item.
package batch

import (
	"context"
	"sync"

	"github.com/nilm987521/fep/iso8583"
	"github.com/nilm987521/fep/pipeline"
)

// Item is one unit of work submitted to the driver.
type Item struct {
	Message string // opaque correlation label for the caller, e.g. a batch row id
	Msg     *iso8583.Message
	TxnType string
}

// Outcome pairs a submitted Item with its pipeline result.
type Outcome struct {
	Item   Item
	Result pipeline.Result
	Err    error
}

// Driver pumps a bounded number of items through a Pipeline concurrently.
type Driver struct {
	pipeline    *pipeline.Pipeline
	concurrency int
}

// New builds a Driver with the given worker concurrency (minimum 1).
func New(p *pipeline.Pipeline, concurrency int) *Driver {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Driver{pipeline: p, concurrency: concurrency}
}

// Run drains items through the pipeline using up to d.concurrency
// workers and returns one Outcome per item, in no particular order. Run
// blocks until every item has been processed or ctx is canceled.
func (d *Driver) Run(ctx context.Context, items []Item) []Outcome {
	in := make(chan Item)
	out := make(chan Outcome, len(items))

	var wg sync.WaitGroup
	for i := 0; i < d.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.worker(ctx, in, out)
		}()
	}

	go func() {
		defer close(in)
		for _, item := range items {
			select {
			case in <- item:
			case <-ctx.Done():
				return
			}
		}
	}()

	wg.Wait()
	close(out)

	outcomes := make([]Outcome, 0, len(items))
	for o := range out {
		outcomes = append(outcomes, o)
	}
	return outcomes
}

func (d *Driver) worker(ctx context.Context, in <-chan Item, out chan<- Outcome) {
	for item := range in {
		result, err := d.pipeline.Execute(ctx, item.Msg, item.TxnType)
		out <- Outcome{Item: item, Result: result, Err: err}
	}
}
