// Package driver implements the per-job pipeline: source -> batcher ->
// middleware chain -> sink fan-out -> checkpoint commit, generalizing the
// teacher's Pipeline.Run select-loop and commitWorkSoFar from one sink to N
// sinks and from immediate commit to commit-after-fan-out, per spec.md §4.6
// and §5.
package driver

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mstreamhq/mstream/internal/batch"
	"github.com/mstreamhq/mstream/internal/checkpoint"
	"github.com/mstreamhq/mstream/internal/middleware"
	"github.com/mstreamhq/mstream/internal/model"
	"github.com/mstreamhq/mstream/internal/sink"
	"github.com/mstreamhq/mstream/internal/source"
)

// Driver runs one ConnectorSpec end to end until its source stream closes,
// the context is cancelled, or an unretriable error surfaces. Transcoding
// between a step's input and its own declared output_encoding (spec.md
// §4.3/§4.4) is each middleware's/sink's own responsibility, not the
// driver's: cmd/mstream wires each one with the encoding/schema it needs
// at construction time, since every step's effective input encoding is
// known statically from the ConnectorSpec before the job ever starts.
type Driver struct {
	JobName       string
	Source        source.Source
	SourceRef     model.ResourceReference
	InputEncoding model.Encoding
	Batcher       *batch.Batcher // nil disables batching: one record per event
	Middlewares   middleware.Chain
	Sinks         []sink.Sink
	Checkpoints   checkpoint.Store
	OnRecord      func(rec *model.PipelineRecord) // metrics hook, may be nil

	// FinalEncoding is the last middleware step's declared output_encoding
	// (or the source's encoding when there are no middlewares). It is
	// known statically from the ConnectorSpec, so the driver stamps it
	// onto rec.Encoding after the chain runs rather than trying to infer
	// it from the bytes the chain produced.
	FinalEncoding model.Encoding
}

// Run opens the source from the last committed checkpoint (if any) and
// drives records through to all sinks, committing only after every sink
// acknowledges, per spec.md §4.6's fan-out rule.
func (d *Driver) Run(ctx context.Context) error {
	resume, err := d.Checkpoints.Load(ctx, d.JobName)
	if err != nil {
		return fmt.Errorf("driver %q: loading checkpoint: %w", d.JobName, err)
	}
	var resumeToken model.CheckpointToken
	if resume != nil {
		resumeToken = resume.Token
	}

	stream, err := d.Source.Open(ctx, d.SourceRef, d.InputEncoding, resumeToken)
	if err != nil {
		return fmt.Errorf("driver %q: opening source: %w", d.JobName, err)
	}
	defer stream.Close()

	commitCh := make(chan *model.PipelineRecord, 1)
	commitErr := make(chan error, 1)
	commitDone := make(chan struct{})
	go d.runCommitLoop(ctx, commitCh, commitErr, commitDone)

	abort := func(err error) error {
		close(commitCh)
		<-commitDone
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return abort(nil)
		case err := <-commitErr:
			return abort(err)
		default:
		}

		ev, err := stream.Next(ctx)
		if err != nil {
			if errors.Is(err, source.ErrStreamClosed) || errors.Is(err, context.Canceled) {
				break
			}
			return abort(err)
		}
		if ev == nil {
			break
		}

		rec, err := d.toRecord(*ev)
		if err != nil {
			return abort(err)
		}
		if rec == nil {
			continue // batch not yet full
		}
		if err := d.process(ctx, rec, commitCh, commitErr); err != nil {
			return abort(err)
		}
	}

	if d.Batcher != nil {
		rec, err := d.Batcher.Flush()
		if err != nil {
			return abort(err)
		}
		if rec != nil {
			if err := d.process(ctx, rec, commitCh, commitErr); err != nil {
				return abort(err)
			}
		}
	}

	close(commitCh)
	<-commitDone
	select {
	case err := <-commitErr:
		return err
	default:
		return nil
	}
}

func (d *Driver) toRecord(ev model.SourceEvent) (*model.PipelineRecord, error) {
	if d.Batcher == nil {
		return &model.PipelineRecord{
			Value:       ev.Payload,
			Encoding:    ev.Encoding,
			Attributes:  ev.Attributes,
			SourceTS:    ev.SourceTS,
			Checkpoints: []model.CheckpointToken{ev.Checkpoint},
		}, nil
	}
	return d.Batcher.Add(ev)
}

// process runs the middleware chain, fans out to every sink, and hands the
// record to the commit goroutine once every sink has acknowledged. Each
// middleware already leaves rec in its own declared output_encoding; each
// sink transcodes into whatever it requires itself (see internal/sink).
func (d *Driver) process(ctx context.Context, rec *model.PipelineRecord, commitCh chan<- *model.PipelineRecord, commitErr <-chan error) error {
	payload, attrs, err := d.Middlewares.Run(ctx, rec.Value, rec.Attributes)
	if err != nil {
		return fmt.Errorf("driver %q: middleware chain: %w", d.JobName, err)
	}
	rec.Value, rec.Attributes = payload, attrs
	if d.FinalEncoding != "" {
		rec.Encoding = d.FinalEncoding
	}

	for _, ack := range d.fanOut(ctx, rec) {
		if ack.Err != nil {
			return fmt.Errorf("driver %q: sink %q: %w", d.JobName, ack.SinkName, ack.Err)
		}
	}

	if d.OnRecord != nil {
		d.OnRecord(rec)
	}

	select {
	case commitCh <- rec:
		return nil
	case err := <-commitErr:
		return err
	case <-ctx.Done():
		return nil
	}
}

func (d *Driver) fanOut(ctx context.Context, rec *model.PipelineRecord) []model.Acknowledgement {
	acks := make([]model.Acknowledgement, len(d.Sinks))
	var wg sync.WaitGroup
	for i, s := range d.Sinks {
		wg.Add(1)
		go func(i int, s sink.Sink) {
			defer wg.Done()
			acks[i] = s.Write(ctx, rec)
		}(i, s)
	}
	wg.Wait()
	return acks
}

// runCommitLoop is the single dedicated goroutine per job that serializes
// checkpoint writes, so ordering is enforced by construction rather than by
// locking, mirroring the teacher's single-threaded commitWorkSoFar path.
func (d *Driver) runCommitLoop(ctx context.Context, commitCh <-chan *model.PipelineRecord, commitErr chan<- error, done chan<- struct{}) {
	defer close(done)
	for rec := range commitCh {
		token := rec.LatestCheckpoint()
		if len(token) == 0 {
			continue
		}
		err := d.Checkpoints.Save(ctx, d.JobName, checkpoint.Record{Token: token, SourceTS: rec.SourceTS})
		if err != nil {
			select {
			case commitErr <- fmt.Errorf("driver %q: committing checkpoint: %w", d.JobName, err):
			default:
			}
			return
		}
	}
}
