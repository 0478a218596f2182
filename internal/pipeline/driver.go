package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"synister/internal/blob"
	"synister/internal/config"
	"synister/internal/core"
	"synister/pkg/domain"
)

// Report summarises one worker's prediction run. It is also the run manifest
// published to the blob store.
type Report struct {
	RunID         string    `json:"run_id"`
	SplitName     string    `json:"split_name"`
	SplitPart     string    `json:"split_part"`
	Experiment    string    `json:"experiment"`
	TrainNumber   int       `json:"train_number"`
	PredictNumber int       `json:"predict_number"`
	WorkerID      int       `json:"worker_id"`
	TotalWorkers  int       `json:"total_workers"`
	Pending       int       `json:"pending"`
	SliceStart    int       `json:"slice_start"`
	SliceEnd      int       `json:"slice_end"`
	OutputClasses int       `json:"output_classes"`
	Enqueued      int       `json:"enqueued"`
	Written       int64     `json:"written"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	ManifestKey   string    `json:"-"`
}

// Driver runs one prediction worker against the record store.
type Driver struct {
	svc    *core.Service
	cfg    config.PredictConfig
	loader ClassifierLoader
	raw    RawSource
	blobs  blob.Store
	opts   []Option
	logger *zap.Logger
}

// NewDriver wires a driver. blobs may be nil, in which case no manifest is
// published and blob:// checkpoints are rejected.
func NewDriver(svc *core.Service, cfg config.PredictConfig, loader ClassifierLoader, raw RawSource, blobs blob.Store, opts ...Option) *Driver {
	o := buildOptions(opts)
	return &Driver{
		svc:    svc,
		cfg:    cfg,
		loader: loader,
		raw:    raw,
		blobs:  blobs,
		opts:   opts,
		logger: o.logger,
	}
}

// Run predicts workerID's share of the pending locations and returns once
// every result has been written. A totalWorkers of zero uses the configured
// num_block_workers.
func (d *Driver) Run(ctx context.Context, workerID, totalWorkers int) (Report, error) {
	if err := d.cfg.Validate(); err != nil {
		return Report{}, err
	}
	if totalWorkers == 0 {
		totalWorkers = d.cfg.NumBlockWorkers
	}
	scope := d.cfg.RunScope()
	report := Report{
		RunID:         uuid.NewString(),
		SplitName:     scope.SplitName,
		SplitPart:     d.cfg.SplitPart,
		Experiment:    scope.Experiment,
		TrainNumber:   scope.TrainNumber,
		PredictNumber: scope.PredictNumber,
		WorkerID:      workerID,
		TotalWorkers:  totalWorkers,
		StartedAt:     time.Now().UTC(),
	}
	logger := d.logger.With(zap.String("run_id", report.RunID), zap.Int("worker_id", workerID), zap.Int("total_workers", totalWorkers))

	pending, err := d.svc.PendingLocations(ctx, scope, d.cfg.SplitPart)
	if err != nil {
		return report, fmt.Errorf("pending locations: %w", err)
	}
	start, end, err := Partition(workerID, totalWorkers, len(pending))
	if err != nil {
		return report, err
	}
	report.Pending, report.SliceStart, report.SliceEnd = len(pending), start, end
	logger.Info("partitioned pending locations", zap.Int("pending", len(pending)), zap.Int("start", start), zap.Int("end", end))

	if start == end {
		return d.finish(ctx, logger, report)
	}

	classes, err := d.outputClasses(ctx)
	if err != nil {
		return report, err
	}
	report.OutputClasses = classes

	checkpoint, cleanup, err := stageCheckpoint(ctx, d.blobs, d.cfg.TrainCheckpoint)
	if err != nil {
		return report, err
	}
	defer cleanup()
	classifier, err := d.loader.LoadClassifier(ctx, checkpoint, ModelSpec{
		InputShape:        d.cfg.InputShape,
		FMaps:             d.cfg.FMaps,
		DownsampleFactors: d.cfg.DownsampleFactors,
		NumClasses:        classes,
		SynapseTypes:      d.cfg.SynapseTypes,
	})
	if err != nil {
		return report, fmt.Errorf("load classifier: %w", err)
	}

	queue := NewQueue(d.cfg.QueueCapacity, d.opts...)
	pool := NewWriterPool(d.svc.Store(), queue, scope, d.cfg.NumCacheWorkers, d.opts...)
	if err := pool.Start(ctx); err != nil {
		return report, err
	}
	defer func() { _ = pool.Stop() }()

	// a failed writer stops acknowledging, so the dispatcher must not keep
	// blocking on a full queue
	dctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-pool.Failed():
			cancel()
		case <-dctx.Done():
		}
	}()

	dispatcher := NewDispatcher(d.raw, classifier, queue, RawSpec{
		InputShape: d.cfg.InputShape,
		VoxelSize:  d.cfg.VoxelSize,
		Container:  d.cfg.RawContainer,
		Dataset:    d.cfg.RawDataset,
	}, d.cfg.BatchSize, classes, d.opts...)
	report.Enqueued, err = dispatcher.Dispatch(dctx, pending[start:end])
	if err != nil {
		select {
		case <-pool.Failed():
			return report, pool.Drain(ctx)
		default:
		}
		// earlier batches are already queued; write them before giving up
		if derr := pool.Drain(ctx); derr != nil {
			logger.Warn("results left unwritten after dispatch failure",
				zap.Int("outstanding", queue.Outstanding()), zap.Error(derr))
		}
		report.Written = pool.Written()
		return report, fmt.Errorf("dispatch: %w", err)
	}
	if err := pool.Drain(ctx); err != nil {
		return report, fmt.Errorf("drain writers: %w", err)
	}
	if err := pool.Stop(); err != nil {
		return report, err
	}
	report.Written = pool.Written()
	return d.finish(ctx, logger, report)
}

func (d *Driver) outputClasses(ctx context.Context) (int, error) {
	if d.cfg.OutputClasses > 0 {
		return d.cfg.OutputClasses, nil
	}
	classes, err := d.svc.GroupingClasses(ctx, d.cfg.SplitName, d.cfg.ExcludedSkeletons)
	if err != nil {
		return 0, fmt.Errorf("grouping classes: %w", err)
	}
	if len(classes) == 0 {
		return 0, domain.ValidationError{Field: "predict.output_classes", Reason: fmt.Sprintf("split %s has no grouping with more than %d train synapses", d.cfg.SplitName, core.MinGroupingTrainSynapses)}
	}
	return len(classes), nil
}

func (d *Driver) finish(ctx context.Context, logger *zap.Logger, report Report) (Report, error) {
	report.FinishedAt = time.Now().UTC()
	if d.blobs != nil {
		report.ManifestKey = ManifestKey(d.cfg.RunScope(), report.WorkerID, report.TotalWorkers)
		if err := publishManifest(ctx, d.blobs, report.ManifestKey, report); err != nil {
			return report, err
		}
	}
	logger.Info("prediction run complete",
		zap.Int("enqueued", report.Enqueued),
		zap.Int64("written", report.Written),
		zap.String("manifest", report.ManifestKey))
	return report, nil
}
