// Package pipeline is the durable, single-worker enrichment queue.
// Submissions enqueue raw text; the worker extracts entities and
// relations, applies the confidence policy and writes to the graph
// through the Backend interface. Every state mutation is flushed to a
// JSON snapshot so jobs survive restarts (at-least-once semantics).
package pipeline

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vthunder/temple/internal/extract"
	"github.com/vthunder/temple/internal/hashing"
	"github.com/vthunder/temple/internal/logging"
)

// Confidence policy thresholds. These are a compatibility contract with
// existing deployments and must not drift.
const (
	AutoCommitThreshold = 0.80
	ReviewThreshold     = 0.60
	SimilarityBoost     = 0.05
	BoostSimilarity     = 0.88
	ConfidenceCap       = 0.99
)

// Backend is what the worker needs from the surrounding store.
type Backend interface {
	// EnsureEntity creates the entity if absent. Reports whether a new
	// entity was created.
	EnsureEntity(name, entityType, scope string, confidence float64) (bool, error)
	// CommitRelation writes an edge, assuming both endpoints exist.
	CommitRelation(source, target, relationType, scope string, confidence float64, provenance map[string]string) (bool, error)
	// HasNearDuplicate reports whether another memory in scope is
	// within the corroboration similarity of the content.
	HasNearDuplicate(content, scope, excludeID string) (bool, error)
}

// Pipeline owns the job queue, the review set and the durable snapshot.
type Pipeline struct {
	mu       sync.Mutex
	jobs     map[string]*Job
	reviews  map[string]*Review
	payloads map[string]*Payload

	queue   *fifo
	backend Backend
	engine  *extract.Engine
	path    string

	wg sync.WaitGroup
}

// New loads the snapshot at path and recovers interrupted work: jobs
// found processing are demoted to queued, and queued jobs whose payload
// is gone are failed rather than silently lost.
func New(path string, engine *extract.Engine, backend Backend) (*Pipeline, error) {
	p := &Pipeline{
		queue:   newFifo(),
		backend: backend,
		engine:  engine,
		path:    path,
	}
	if err := p.load(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	var recovered []string
	for id, job := range p.jobs {
		switch job.Status {
		case StatusProcessing:
			// Interrupted mid-flight; extraction restarts from the top.
			job.Status = StatusQueued
			job.StartedAt = ""
			fallthrough
		case StatusQueued:
			if _, ok := p.payloads[id]; !ok {
				job.Status = StatusFailed
				job.FinishedAt = time.Now().UTC().Format(time.RFC3339)
				job.Errors = append(job.Errors, "payload missing after restart; cannot reprocess")
				logging.Warn("pipeline", "job %s failed on recovery: payload missing", id)
				continue
			}
			recovered = append(recovered, id)
		}
	}

	// Requeue in submission order; FIFO across a restart is best-effort.
	sort.Slice(recovered, func(i, j int) bool {
		return p.jobs[recovered[i]].SubmittedAt < p.jobs[recovered[j]].SubmittedAt
	})
	for _, id := range recovered {
		p.queue.push(id)
	}
	if len(recovered) > 0 {
		logging.Info("pipeline", "recovered %d queued job(s) from snapshot", len(recovered))
	}

	if err := p.persistLocked(); err != nil {
		return nil, err
	}
	return p, nil
}

// Start launches the single worker.
func (p *Pipeline) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.workerLoop()
	}()
}

// Stop drains nothing: it closes the queue and waits for the current
// job to finish. Queued jobs stay in the snapshot for the next start.
func (p *Pipeline) Stop() {
	p.queue.close()
	p.wg.Wait()
}

// Enqueue records a new job in queued state, persists it and hands the
// payload to the worker. Returns the job as submitted.
func (p *Pipeline) Enqueue(itemType, actorID, source, sourceID, scope, memoryID, content string) (*Job, error) {
	job := &Job{
		ID:          uuid.New().String(),
		Status:      StatusQueued,
		ItemType:    itemType,
		ActorID:     actorID,
		Source:      source,
		SourceID:    sourceID,
		Scope:       scope,
		MemoryID:    memoryID,
		SubmittedAt: time.Now().UTC().Format(time.RFC3339),
	}
	payload := &Payload{
		ItemType: itemType,
		ActorID:  actorID,
		Source:   source,
		Scope:    scope,
		MemoryID: memoryID,
		Content:  content,
	}

	p.mu.Lock()
	p.jobs[job.ID] = job
	p.payloads[job.ID] = payload
	err := p.persistLocked()
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	p.queue.push(job.ID)
	logging.Debug("pipeline", "enqueued job %s (%s)", job.ID, itemType)
	return job.clone(), nil
}

// Job returns a copy of one job, or nil.
func (p *Pipeline) Job(id string) *Job {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.jobs[id].clone()
}

// JobForMemory returns the earliest job linked to a memory id, used for
// idempotent duplicate submissions.
func (p *Pipeline) JobForMemory(memoryID string) *Job {
	p.mu.Lock()
	defer p.mu.Unlock()

	var best *Job
	for _, job := range p.jobs {
		if job.MemoryID != memoryID {
			continue
		}
		if best == nil || job.SubmittedAt < best.SubmittedAt {
			best = job
		}
	}
	return best.clone()
}

// Jobs lists jobs newest first, optionally filtered by status.
func (p *Pipeline) Jobs(status string, limit int) []*Job {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []*Job
	for _, job := range p.jobs {
		if status != "" && job.Status != status {
			continue
		}
		out = append(out, job.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt > out[j].SubmittedAt })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Review returns a copy of one review, or nil.
func (p *Pipeline) Review(id string) *Review {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reviews[id].clone()
}

// Reviews lists reviews newest first, optionally filtered by status.
func (p *Pipeline) Reviews(status string, limit int) []*Review {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []*Review
	for _, review := range p.reviews {
		if status != "" && review.Status != status {
			continue
		}
		out = append(out, review.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Counts returns job and review tallies by status.
func (p *Pipeline) Counts() (jobs, reviews map[string]int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	jobs = make(map[string]int)
	reviews = make(map[string]int)
	for _, job := range p.jobs {
		jobs[job.Status]++
	}
	for _, review := range p.reviews {
		reviews[review.Status]++
	}
	return jobs, reviews
}

// Resolve records a review decision. Approval commits the candidate
// relation, auto-creating missing endpoints. Deciding an already
// terminal review is a no-op returning the existing record.
func (p *Pipeline) Resolve(reviewID string, approve bool, reviewer, notes string) (*Review, error) {
	p.mu.Lock()
	review, ok := p.reviews[reviewID]
	if !ok {
		p.mu.Unlock()
		return nil, nil
	}
	if review.Status != ReviewPending {
		out := review.clone()
		p.mu.Unlock()
		return out, nil
	}
	// Take a working copy so the graph write happens outside the lock.
	candidate := review.clone()
	p.mu.Unlock()

	applied := false
	if approve {
		if err := p.commitCandidate(candidate); err != nil {
			return nil, fmt.Errorf("failed to apply review %s: %w", reviewID, err)
		}
		applied = true
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	review = p.reviews[reviewID]
	if review == nil || review.Status != ReviewPending {
		return review.clone(), nil
	}
	if approve {
		review.Status = ReviewApproved
	} else {
		review.Status = ReviewRejected
	}
	review.Applied = applied
	review.Reviewer = reviewer
	review.Notes = notes
	review.DecidedAt = time.Now().UTC().Format(time.RFC3339)
	if err := p.persistLocked(); err != nil {
		return nil, err
	}
	logging.Info("pipeline", "review %s %s by %s", reviewID, review.Status, reviewer)
	return review.clone(), nil
}

// commitCandidate writes a reviewed relation, creating endpoints first.
func (p *Pipeline) commitCandidate(review *Review) error {
	for _, name := range []string{review.Source, review.Target} {
		if _, err := p.backend.EnsureEntity(name, extract.InferEntityType(name), review.Scope, review.Confidence); err != nil {
			return err
		}
	}
	_, err := p.backend.CommitRelation(
		review.Source, review.Target, review.Type, review.Scope,
		review.Confidence, review.Provenance,
	)
	return err
}

// workerLoop is the single enrichment consumer. A failure in one job
// never stops the loop.
func (p *Pipeline) workerLoop() {
	for {
		jobID, ok := p.queue.pop()
		if !ok {
			return
		}
		p.process(jobID)
	}
}

// process runs one job end to end.
func (p *Pipeline) process(jobID string) {
	p.mu.Lock()
	job, ok := p.jobs[jobID]
	if !ok {
		p.mu.Unlock()
		return
	}
	payload := p.payloads[jobID]
	job.Status = StatusProcessing
	job.StartedAt = time.Now().UTC().Format(time.RFC3339)
	if err := p.persistLocked(); err != nil {
		logging.Error("pipeline", "failed to persist job %s start: %v", jobID, err)
	}
	p.mu.Unlock()

	if payload == nil {
		p.finishJob(jobID, false, nil, "payload missing for queued job")
		return
	}

	result := p.engine.Extract(payload.Content, payload.ActorID)

	entitiesTouched := 0
	entityTypes := make(map[string]string, len(result.Entities))
	var failure string
	for _, ent := range result.Entities {
		entityTypes[ent.Name] = ent.Type
		created, err := p.backend.EnsureEntity(ent.Name, ent.Type, payload.Scope, ent.Confidence)
		if err != nil {
			failure = fmt.Sprintf("entity %s: %v", ent.Name, err)
			break
		}
		if created {
			entitiesTouched++
		}
	}
	if failure != "" {
		p.finishJob(jobID, false, result, failure)
		return
	}

	// Corroborating near-duplicate submissions earn a small boost.
	boost := 0.0
	if dup, err := p.backend.HasNearDuplicate(payload.Content, payload.Scope, payload.MemoryID); err == nil && dup {
		boost = SimilarityBoost
	}

	relationsCreated := 0
	reviewsCreated := 0
	for _, rel := range result.Relations {
		if failure != "" {
			break
		}
		confidence := rel.Confidence + boost
		if confidence > ConfidenceCap {
			confidence = ConfidenceCap
		}

		switch {
		case confidence >= AutoCommitThreshold:
			provenance := map[string]string{
				"job_id":            jobID,
				"memory_id":         payload.MemoryID,
				"source":            payload.Source,
				"extraction_method": result.Method,
			}
			if boost > 0 {
				provenance["boost_applied"] = fmt.Sprintf("%.2f", boost)
			}
			for _, name := range []string{rel.Source, rel.Target} {
				entityType := entityTypes[name]
				if entityType == "" {
					entityType = extract.InferEntityType(name)
				}
				if _, err := p.backend.EnsureEntity(name, entityType, payload.Scope, confidence); err != nil {
					failure = fmt.Sprintf("relation endpoint %s: %v", name, err)
					break
				}
			}
			if failure != "" {
				break
			}
			created, err := p.backend.CommitRelation(rel.Source, rel.Target, rel.Type, payload.Scope, confidence, provenance)
			if err != nil {
				failure = fmt.Sprintf("relation %s->%s: %v", rel.Source, rel.Target, err)
				break
			}
			if created {
				relationsCreated++
			}

		case confidence >= ReviewThreshold:
			if p.enqueueReview(jobID, payload, rel, confidence, result.Method) {
				reviewsCreated++
			}
		}
		// Below the review band: discard silently.
	}

	if failure != "" {
		p.finishJob(jobID, false, result, failure)
		return
	}

	p.mu.Lock()
	if job, ok := p.jobs[jobID]; ok {
		job.EntitiesTouched = entitiesTouched
		job.RelationsCreated = relationsCreated
		job.ReviewsCreated = reviewsCreated
	}
	p.mu.Unlock()
	p.finishJob(jobID, true, result, "")
}

// enqueueReview records a pending candidate unless the same (job,
// relation) pair already has one, which dedups crash-window replays.
func (p *Pipeline) enqueueReview(jobID string, payload *Payload, rel extract.RelationCandidate, confidence float64, method string) bool {
	dedupKey := hashing.Fingerprint(jobID, rel.Source, rel.Target, rel.Type, payload.Scope)

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, existing := range p.reviews {
		if existing.DedupKey == dedupKey {
			return false
		}
	}

	review := &Review{
		ID:         uuid.New().String(),
		Status:     ReviewPending,
		JobID:      jobID,
		DedupKey:   dedupKey,
		Source:     rel.Source,
		Target:     rel.Target,
		Type:       rel.Type,
		Scope:      payload.Scope,
		Confidence: confidence,
		Provenance: map[string]string{
			"memory_id":         payload.MemoryID,
			"source":            payload.Source,
			"extraction_method": method,
		},
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	p.reviews[review.ID] = review
	if err := p.persistLocked(); err != nil {
		logging.Error("pipeline", "failed to persist review for job %s: %v", jobID, err)
	}
	return true
}

// finishJob transitions a job to its terminal state, persists and drops
// the payload copy.
func (p *Pipeline) finishJob(jobID string, success bool, result *extract.Result, errMsg string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	job, ok := p.jobs[jobID]
	if !ok {
		return
	}
	job.FinishedAt = time.Now().UTC().Format(time.RFC3339)
	if result != nil {
		job.ExtractionMethod = result.Method
		if result.LLMError != "" {
			job.Errors = append(job.Errors, "llm fallback: "+result.LLMError)
		}
	}
	if success {
		job.Status = StatusCompleted
	} else {
		job.Status = StatusFailed
		if errMsg != "" {
			job.Errors = append(job.Errors, errMsg)
		}
		logging.Warn("pipeline", "job %s failed: %s", jobID, errMsg)
	}
	delete(p.payloads, jobID)
	if err := p.persistLocked(); err != nil {
		logging.Error("pipeline", "failed to persist job %s finish: %v", jobID, err)
	}
}

func (j *Job) clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	out.Errors = append([]string(nil), j.Errors...)
	return &out
}

func (r *Review) clone() *Review {
	if r == nil {
		return nil
	}
	out := *r
	if r.Provenance != nil {
		out.Provenance = make(map[string]string, len(r.Provenance))
		for k, v := range r.Provenance {
			out.Provenance[k] = v
		}
	}
	return &out
}
