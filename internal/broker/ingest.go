package broker

import (
	"fmt"

	"github.com/vthunder/temple/internal/logging"
	"github.com/vthunder/temple/internal/pipeline"
)

// SubmitResult is the immediate answer to an ingest submission.
type SubmitResult struct {
	Status    string `json:"status"`
	JobID     string `json:"job_id"`
	MemoryID  string `json:"memory_id"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// SubmitIngestItem stores the raw content as a memory and queues it for
// enrichment. When an idempotency key is given and a memory in the
// target scope already carries it, the prior job is returned instead of
// creating new state.
func (b *Broker) SubmitIngestItem(itemType, actorID, source, sourceID, content, scopeOverride, idempotencyKey string) (*SubmitResult, error) {
	sc, err := b.ctx.StoreScope(scopeOverride)
	if err != nil {
		return nil, err
	}

	if idempotencyKey != "" {
		docs, err := b.scanCollection(sc.Collection())
		if err == nil {
			tag := idempotencyTag(idempotencyKey)
			for _, doc := range docs {
				if !hasAllTags(doc.Tags, []string{tag}) {
					continue
				}
				result := &SubmitResult{Status: "duplicate", MemoryID: doc.ID, Duplicate: true}
				if job := b.pipe.JobForMemory(doc.ID); job != nil {
					result.JobID = job.ID
					result.Status = job.Status
				}
				logging.Debug("broker", "ingest deduped on key %s", idempotencyKey)
				return result, nil
			}
		}
	}

	tags := []string{"ingest", itemType}
	if idempotencyKey != "" {
		tags = append(tags, idempotencyTag(idempotencyKey))
	}
	metadata := map[string]string{
		"item_type": itemType,
		"actor_id":  actorID,
		"source":    source,
	}
	if sourceID != "" {
		metadata["source_id"] = sourceID
	}

	mem, _, err := b.StoreMemory(content, tags, metadata, sc.String())
	if err != nil {
		return nil, fmt.Errorf("failed to store ingest content: %w", err)
	}

	job, err := b.pipe.Enqueue(itemType, actorID, source, sourceID, sc.String(), mem.ID, content)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue ingest job: %w", err)
	}

	b.audit.Record("submit_ingest", sc.String(), map[string]any{
		"job_id": job.ID, "memory_id": mem.ID, "item_type": itemType, "source": source,
	})
	return &SubmitResult{Status: pipeline.StatusQueued, JobID: job.ID, MemoryID: mem.ID}, nil
}

// GetIngestJob returns one job, or ErrNotFound.
func (b *Broker) GetIngestJob(jobID string) (*pipeline.Job, error) {
	job := b.pipe.Job(jobID)
	if job == nil {
		return nil, ErrNotFound
	}
	return job, nil
}

// ListIngestJobs lists jobs newest first, optionally by status.
func (b *Broker) ListIngestJobs(status string, limit int) []*pipeline.Job {
	return b.pipe.Jobs(status, limit)
}

// ListReviews lists review candidates newest first, optionally by
// status.
func (b *Broker) ListReviews(status string, limit int) []*pipeline.Review {
	return b.pipe.Reviews(status, limit)
}

// ReviewIngestRelation records an approve/reject decision on a pending
// review candidate.
func (b *Broker) ReviewIngestRelation(reviewID string, approve bool, reviewer, notes string) (*pipeline.Review, error) {
	review, err := b.pipe.Resolve(reviewID, approve, reviewer, notes)
	if err != nil {
		return nil, err
	}
	if review == nil {
		return nil, ErrNotFound
	}
	b.audit.Record("review_decided", review.Scope, map[string]any{
		"review_id": reviewID, "status": review.Status, "reviewer": reviewer,
	})
	return review, nil
}

func idempotencyTag(key string) string {
	return "idempotency:" + key
}
