package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/bnema/transcoder/internal/domain"
	"github.com/bnema/transcoder/internal/infrastructure/logger"
	"github.com/bnema/transcoder/internal/infrastructure/metrics"
	"github.com/bnema/transcoder/internal/port"
	"github.com/bnema/transcoder/internal/queue"
)

// Enqueuer hands payloads to the queue transport.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload domain.Payload, priority int) error
}

type OrchestratorDeps struct {
	Jobs     port.JobStore
	Files    port.FileStore
	Queue    Enqueuer
	Executor *Executor
	Fetcher  port.Fetcher
	Events   port.EventPublisher
	WorkerID string
}

// Orchestrator is the only component that changes job status.
type Orchestrator struct {
	jobs     port.JobStore
	files    port.FileStore
	queue    Enqueuer
	exec     *Executor
	fetcher  port.Fetcher
	events   port.EventPublisher
	workerID string
}

func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	return &Orchestrator{
		jobs:     deps.Jobs,
		files:    deps.Files,
		queue:    deps.Queue,
		exec:     deps.Executor,
		fetcher:  deps.Fetcher,
		events:   deps.Events,
		workerID: deps.WorkerID,
	}
}

type SubmitRequest struct {
	UserID       string
	InputPath    string
	OriginalName string
	MimeType     string
	OutputFormat string
	Quality      string
	Options      domain.JobOptions
}

type URLRequest struct {
	UserID       string
	URL          string
	OutputFormat string
	Quality      string
	Options      domain.JobOptions
}

// Submission is the outcome of a successful submit: the registered input and
// its pending job.
type Submission struct {
	File *domain.File
	Job  *domain.Job
}

type target struct {
	format  domain.OutputFormat
	quality domain.Quality
}

func parseTarget(format, quality string, opts domain.JobOptions) (target, error) {
	f, err := domain.ParseOutputFormat(format)
	if err != nil {
		return target{}, err
	}
	q, err := domain.ParseQuality(quality)
	if err != nil {
		return target{}, err
	}
	if p := opts.EffectivePriority(); p < domain.MinPriority || p > queue.MaxPriority {
		return target{}, fmt.Errorf("%w: %d", domain.ErrInvalidPriority, p)
	}
	return target{format: f, quality: q}, nil
}

// Submit registers a file already on the shared storage as a job input and
// queues its transcode.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*Submission, error) {
	t, err := parseTarget(req.OutputFormat, req.Quality, req.Options)
	if err != nil {
		return nil, err
	}

	path, err := o.exec.ResolveStored(req.InputPath)
	if err != nil {
		return nil, err
	}

	name := req.OriginalName
	if name == "" {
		name = filepath.Base(path)
	}
	mime := req.MimeType
	if mime == "" {
		mime = domain.DetectMimeType(name)
	}

	file, err := o.registerFile(ctx, req.UserID, name, path, mime)
	if err != nil {
		return nil, err
	}

	job, err := o.createAndEnqueue(ctx, file, t, req.Options)
	if err != nil {
		o.forgetFile(ctx, file)
		return nil, err
	}
	return &Submission{File: file, Job: job}, nil
}

// SubmitURL downloads remote media into the storage root and queues its
// transcode. The download is removed again when submission fails.
func (o *Orchestrator) SubmitURL(ctx context.Context, req URLRequest) (*Submission, error) {
	t, err := parseTarget(req.OutputFormat, req.Quality, req.Options)
	if err != nil {
		return nil, err
	}
	if o.fetcher == nil {
		return nil, fmt.Errorf("%w: remote fetching is not configured", domain.ErrFetchFailed)
	}

	res, err := o.fetcher.Fetch(ctx, req.URL, o.exec.storageRoot)
	if err != nil {
		return nil, err
	}

	file, err := o.registerFile(ctx, req.UserID, filepath.Base(res.Path), res.Path, "video/mp4")
	if err != nil {
		removePartial(res.Path)
		return nil, err
	}

	job, err := o.createAndEnqueue(ctx, file, t, req.Options)
	if err != nil {
		o.forgetFile(ctx, file)
		removePartial(res.Path)
		return nil, err
	}

	logger.Info.Printf("job %s: queued remote media %q", job.ID, logger.SanitizeForLog(res.Title))
	return &Submission{File: file, Job: job}, nil
}

func (o *Orchestrator) registerFile(ctx context.Context, userID, name, path, mime string) (*domain.File, error) {
	checksum, size, err := FileChecksum(path)
	if err != nil {
		return nil, fmt.Errorf("checksum %s: %w", path, err)
	}
	file, err := domain.NewFile(userID, name, path, mime, checksum, size, domain.FileStatusUploaded)
	if err != nil {
		return nil, err
	}
	if err := o.files.CreateFile(ctx, file); err != nil {
		return nil, fmt.Errorf("save file record: %w", err)
	}
	return file, nil
}

func (o *Orchestrator) forgetFile(ctx context.Context, file *domain.File) {
	if err := o.files.DeleteFile(ctx, file.ID); err != nil {
		logger.Error.Printf("remove file record %s after failed submission: %v", file.ID, err)
	}
}

// createAndEnqueue persists a pending job and queues it. A job whose payload
// could not be queued is deleted so no pending job is left without a queue
// entry.
func (o *Orchestrator) createAndEnqueue(ctx context.Context, file *domain.File, t target, opts domain.JobOptions) (*domain.Job, error) {
	job := domain.NewJob(file.UserID, file.ID, domain.InputFormatOf(file.MimeType, file.OriginalName), t.format, t.quality, opts)
	if err := o.jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("save job: %w", err)
	}

	if err := o.enqueue(ctx, job, file.StoragePath); err != nil {
		if delErr := o.jobs.DeleteJob(ctx, job.ID); delErr != nil {
			logger.Error.Printf("job %s: delete after failed enqueue: %v", job.ID, delErr)
		}
		return nil, err
	}

	metrics.JobsTotal.WithLabelValues(metrics.StatusSubmitted).Inc()
	logger.Info.Printf("job %s: submitted by %s (%s -> %s/%s, priority=%d)",
		job.ID, logger.SanitizeForLog(job.UserID), job.InputFormat, job.OutputFormat, job.Quality, opts.EffectivePriority())
	o.publish(domain.EventFor(domain.EventCreated, job))
	return job, nil
}

func (o *Orchestrator) enqueue(ctx context.Context, job *domain.Job, inputPath string) error {
	err := o.queue.Enqueue(ctx, job.Payload(inputPath), job.Options.EffectivePriority())
	if err != nil && !errors.Is(err, domain.ErrTransportUnavailable) && !errors.Is(err, domain.ErrInvalidPriority) {
		err = fmt.Errorf("%w: %v", domain.ErrTransportUnavailable, err)
	}
	return err
}

// Retry moves a failed job back to pending and queues it again with the same
// input, format, quality and options.
func (o *Orchestrator) Retry(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := o.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobStatusFailed {
		return nil, fmt.Errorf("%w: cannot retry job %s in status %s", domain.ErrInvalidTransition, jobID, job.Status)
	}

	input, err := o.files.GetFile(ctx, job.InputFileID)
	if err != nil {
		return nil, fmt.Errorf("load input file of job %s: %w", jobID, err)
	}

	pending := domain.JobStatusPending
	zero, empty := 0, ""
	retries := job.RetryCount + 1
	null := sql.NullTime{}
	applied, err := o.transition(ctx, jobID, port.JobUpdate{
		From:         domain.JobStatusFailed,
		Status:       &pending,
		Progress:     &zero,
		ErrorMessage: &empty,
		WorkerID:     &empty,
		RetryCount:   &retries,
		StartedAt:    &null,
		CompletedAt:  &null,
	})
	if err != nil {
		return nil, fmt.Errorf("reset job %s: %w", jobID, err)
	}
	if !applied {
		return nil, fmt.Errorf("%w: job %s changed status concurrently", domain.ErrInvalidTransition, jobID)
	}

	if err := o.enqueue(ctx, job, input.StoragePath); err != nil {
		o.revertRetry(ctx, job)
		return nil, err
	}

	job.Status = domain.JobStatusPending
	job.Progress = 0
	job.ErrorMessage = ""
	job.WorkerID = ""
	job.RetryCount = retries
	job.StartedAt = null
	job.CompletedAt = null

	metrics.JobsTotal.WithLabelValues(metrics.StatusRetried).Inc()
	logger.Info.Printf("job %s: retry %d queued", jobID, retries)
	o.publish(domain.EventFor(domain.EventCreated, job))
	return job, nil
}

// revertRetry restores the failed record when the retry could not be queued.
// It undoes Retry's own write, so it bypasses the transition table.
func (o *Orchestrator) revertRetry(ctx context.Context, prev *domain.Job) {
	failed := domain.JobStatusFailed
	_, err := o.jobs.UpdateJob(ctx, prev.ID, port.JobUpdate{
		From:         domain.JobStatusPending,
		Status:       &failed,
		Progress:     &prev.Progress,
		ErrorMessage: &prev.ErrorMessage,
		WorkerID:     &prev.WorkerID,
		RetryCount:   &prev.RetryCount,
		StartedAt:    &prev.StartedAt,
		CompletedAt:  &prev.CompletedAt,
	})
	if err != nil {
		logger.Error.Printf("job %s: restore failed state after unsuccessful retry: %v", prev.ID, err)
	}
}

// transition applies upd when the state machine allows From -> Status. An
// update without a Status is a self-transition.
func (o *Orchestrator) transition(ctx context.Context, jobID string, upd port.JobUpdate) (bool, error) {
	to := upd.From
	if upd.Status != nil {
		to = *upd.Status
	}
	if !upd.From.CanTransitionTo(to) {
		return false, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, upd.From, to)
	}
	return o.jobs.UpdateJob(ctx, jobID, upd)
}

// HandlePayload is the queue handler. It returns an error only when the job
// record itself could not be read or written, so the transport redelivers;
// transcode failures are recorded on the job and acknowledged.
func (o *Orchestrator) HandlePayload(ctx context.Context, p domain.Payload) error {
	job, err := o.jobs.GetJob(ctx, p.JobID)
	if errors.Is(err, domain.ErrNotFound) {
		logger.Warn.Printf("job %s: no longer exists, dropping payload", p.JobID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load job %s: %w", p.JobID, err)
	}

	// Deliveries are redelivered only after their consumer stopped, so a job
	// still processing here belongs to an attempt that will never finish.
	if job.Status == domain.JobStatusProcessing {
		return o.interrupted(ctx, job)
	}

	if err := o.start(ctx, job); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			logger.Warn.Printf("job %s: %v, dropping payload", p.JobID, err)
			return nil
		}
		return err
	}

	begin := time.Now()
	res, err := o.execute(ctx, job, p)
	if err != nil {
		return o.fail(ctx, job, err, begin)
	}
	if err := o.complete(ctx, job, res, begin); err != nil {
		if errors.Is(err, errJobState) {
			return err
		}
		return o.fail(ctx, job, err, begin)
	}
	return nil
}

// interrupted fails a job abandoned mid-attempt so the user can retry it.
func (o *Orchestrator) interrupted(ctx context.Context, job *domain.Job) error {
	logger.Warn.Printf("job %s: redelivered while processing on %s, marking it failed", job.ID, logger.SanitizeForLog(job.WorkerID))
	begin := time.Now()
	if job.StartedAt.Valid {
		begin = job.StartedAt.Time
	}
	cause := fmt.Errorf("%w: attempt %d on worker %q did not finish", domain.ErrInterrupted, job.RetryCount+1, job.WorkerID)
	return o.fail(ctx, job, cause, begin)
}

// errJobState marks failures to persist the job's own status.
var errJobState = errors.New("persist job state")

func (o *Orchestrator) start(ctx context.Context, job *domain.Job) error {
	processing := domain.JobStatusProcessing
	zero := 0
	now := sql.NullTime{Time: time.Now().UTC(), Valid: true}

	applied, err := o.transition(ctx, job.ID, port.JobUpdate{
		From:      domain.JobStatusPending,
		Status:    &processing,
		Progress:  &zero,
		WorkerID:  &o.workerID,
		StartedAt: &now,
	})
	if err != nil {
		return fmt.Errorf("start job %s: %w", job.ID, err)
	}
	if !applied {
		current, err := o.jobs.GetJob(ctx, job.ID)
		status := job.Status
		if err == nil {
			status = current.Status
		}
		return fmt.Errorf("%w: job is %s, not pending", domain.ErrInvalidTransition, status)
	}

	job.Status = processing
	job.Progress = 0
	job.WorkerID = o.workerID
	job.StartedAt = now

	logger.Info.Printf("job %s: processing on %s (attempt %d)", job.ID, o.workerID, job.RetryCount+1)
	o.publish(domain.EventFor(domain.EventProgress, job))
	return nil
}

// execute runs the executor while a separate goroutine persists progress.
// The engine callback never blocks: it keeps only the latest unread value.
func (o *Orchestrator) execute(ctx context.Context, job *domain.Job, p domain.Payload) (*ExecResult, error) {
	updates := make(chan int, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for pct := range updates {
			if err := o.ReportProgress(ctx, job.ID, pct); err != nil {
				logger.Warn.Printf("job %s: progress %d%%: %v", job.ID, pct, err)
			}
		}
	}()

	report := func(pct int) {
		select {
		case updates <- pct:
			return
		default:
		}
		select {
		case <-updates:
		default:
		}
		select {
		case updates <- pct:
		default:
		}
	}

	res, err := o.exec.Execute(ctx, ExecRequest{
		JobID:     job.ID,
		InputPath: p.InputFilePath,
		Format:    p.OutputFormat,
		Quality:   p.QualityPreset,
		Options:   p.Options,
	}, report)

	close(updates)
	<-done
	return res, err
}

// ReportProgress records a progress percentage for a processing job. Values
// not above the stored progress are ignored and publish nothing.
func (o *Orchestrator) ReportProgress(ctx context.Context, jobID string, pct int) error {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}

	applied, err := o.transition(ctx, jobID, port.JobUpdate{
		From:        domain.JobStatusProcessing,
		Progress:    &pct,
		ForwardOnly: true,
	})
	if err != nil {
		return err
	}
	if applied {
		o.publish(domain.Event{
			Type:     domain.EventProgress,
			JobID:    jobID,
			Status:   domain.JobStatusProcessing,
			Progress: pct,
			At:       time.Now().UTC(),
		})
	}
	return nil
}

func (o *Orchestrator) complete(ctx context.Context, job *domain.Job, res *ExecResult, begin time.Time) error {
	name := outputName(ctx, o.files, job, res.Path)
	out, err := domain.NewFile(job.UserID, name, res.Path, res.MimeType, res.Checksum, res.Size, domain.FileStatusCompleted)
	if err != nil {
		removePartial(res.Path)
		return err
	}
	if err := o.files.CreateFile(ctx, out); err != nil {
		removePartial(res.Path)
		return fmt.Errorf("save output file record: %w", err)
	}

	o.attachMetadata(ctx, job, out)

	completed := domain.JobStatusCompleted
	hundred := 100
	now := sql.NullTime{Time: time.Now().UTC(), Valid: true}
	applied, err := o.transition(ctx, job.ID, port.JobUpdate{
		From:         domain.JobStatusProcessing,
		Status:       &completed,
		Progress:     &hundred,
		OutputFileID: &out.ID,
		CompletedAt:  &now,
	})
	if err != nil {
		return fmt.Errorf("%w: complete job %s: %v", errJobState, job.ID, err)
	}
	if !applied {
		logger.Warn.Printf("job %s: left processing while transcoding, discarding output %s", job.ID, out.ID)
		o.discardOutput(ctx, out)
		return nil
	}

	job.Status = completed
	job.Progress = hundred
	job.OutputFileID = out.ID
	job.CompletedAt = now

	elapsed := time.Since(begin)
	metrics.JobsTotal.WithLabelValues(metrics.StatusCompleted).Inc()
	metrics.JobDuration.WithLabelValues(metrics.StatusCompleted).Observe(elapsed.Seconds())
	logger.Info.Printf("job %s: completed in %s, output %s (%d bytes)", job.ID, elapsed.Round(time.Millisecond), out.ID, out.Size)
	o.publish(domain.EventFor(domain.EventCompleted, job))
	return nil
}

// discardOutput removes an output no job points at, with its thumbnail.
func (o *Orchestrator) discardOutput(ctx context.Context, out *domain.File) {
	meta, metaErr := o.files.GetMetadata(ctx, out.ID)
	if err := o.files.DeleteFile(ctx, out.ID); err != nil {
		logger.Error.Printf("remove output record %s: %v", out.ID, err)
		return
	}
	removePartial(out.StoragePath)
	if metaErr == nil && meta.ThumbnailPath != "" {
		removePartial(meta.ThumbnailPath)
	}
}

// attachMetadata probes the output and stores what it finds. Nothing here
// can fail the job.
func (o *Orchestrator) attachMetadata(ctx context.Context, job *domain.Job, out *domain.File) {
	probe, err := o.exec.Probe(ctx, out.StoragePath)
	if err != nil {
		logger.Warn.Printf("job %s: %v", job.ID, err)
		return
	}

	meta := domain.MetadataFromProbe(out.ID, probe)
	if job.OutputFormat.Kind() == domain.MediaKindVideo {
		if thumb, err := o.exec.Thumbnail(ctx, out.StoragePath); err != nil {
			logger.Warn.Printf("job %s: thumbnail: %v", job.ID, err)
		} else {
			meta.ThumbnailPath = thumb
		}
	}

	if err := o.files.SaveMetadata(ctx, meta); err != nil {
		logger.Warn.Printf("job %s: save metadata: %v", job.ID, err)
	}
}

// fail records cause on the job. It returns an error only when the failed
// state could not be written.
func (o *Orchestrator) fail(ctx context.Context, job *domain.Job, cause error, begin time.Time) error {
	msg := domain.TruncateError(cause.Error())
	failed := domain.JobStatusFailed
	now := sql.NullTime{Time: time.Now().UTC(), Valid: true}

	applied, err := o.transition(ctx, job.ID, port.JobUpdate{
		From:         domain.JobStatusProcessing,
		Status:       &failed,
		ErrorMessage: &msg,
		CompletedAt:  &now,
	})
	if err != nil {
		return fmt.Errorf("%w: fail job %s: %v", errJobState, job.ID, err)
	}
	if !applied {
		logger.Warn.Printf("job %s: left processing before failure could be recorded: %s", job.ID, logger.SanitizeForLog(msg))
		return nil
	}

	metrics.JobsTotal.WithLabelValues(metrics.StatusFailed).Inc()
	metrics.JobDuration.WithLabelValues(metrics.StatusFailed).Observe(time.Since(begin).Seconds())
	logger.Error.Printf("job %s: failed: %s", job.ID, logger.SanitizeForLog(msg))

	event := domain.Event{
		Type:    domain.EventFailed,
		JobID:   job.ID,
		Status:  failed,
		Message: msg,
		At:      now.Time,
	}
	if current, err := o.jobs.GetJob(ctx, job.ID); err == nil {
		event.Progress = current.Progress
	}
	o.publish(event)
	return nil
}

func (o *Orchestrator) publish(e domain.Event) {
	if o.events != nil {
		o.events.Publish(e.JobID, e)
	}
}

// outputName derives the user-facing name of an output from its input's
// original name, falling back to the stored file name.
func outputName(ctx context.Context, files port.FileStore, job *domain.Job, path string) string {
	in, err := files.GetFile(ctx, job.InputFileID)
	if err != nil {
		return filepath.Base(path)
	}
	stem := strings.TrimSuffix(in.OriginalName, filepath.Ext(in.OriginalName))
	return stem + "." + string(job.OutputFormat)
}
