package pipeline

import "encoding/json"

// Job statuses. Transitions are one-directional except the restart
// recovery demotion of processing back to queued.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Review statuses.
const (
	ReviewPending  = "pending"
	ReviewApproved = "approved"
	ReviewRejected = "rejected"
)

// Job tracks one ingest submission through enrichment.
type Job struct {
	ID               string   `json:"job_id"`
	Status           string   `json:"status"`
	ItemType         string   `json:"item_type"`
	ActorID          string   `json:"actor_id"`
	Source           string   `json:"source"`
	SourceID         string   `json:"source_id"`
	Scope            string   `json:"scope"`
	MemoryID         string   `json:"memory_id"`
	SubmittedAt      string   `json:"submitted_at"`
	StartedAt        string   `json:"started_at,omitempty"`
	FinishedAt       string   `json:"finished_at,omitempty"`
	EntitiesTouched  int      `json:"entities_touched"`
	RelationsCreated int      `json:"relations_created"`
	ReviewsCreated   int      `json:"reviews_created"`
	ExtractionMethod string   `json:"extraction_method,omitempty"`
	Errors           []string `json:"errors,omitempty"`
}

// UnmarshalJSON accepts the legacy survey-era field names so old state
// files keep loading: survey_id maps to source_id and respondent_id to
// actor_id.
func (j *Job) UnmarshalJSON(data []byte) error {
	type jobAlias Job
	aux := struct {
		*jobAlias
		SurveyID     string `json:"survey_id"`
		RespondentID string `json:"respondent_id"`
	}{jobAlias: (*jobAlias)(j)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if j.SourceID == "" && aux.SurveyID != "" {
		j.SourceID = aux.SurveyID
	}
	if j.ActorID == "" && aux.RespondentID != "" {
		j.ActorID = aux.RespondentID
	}
	return nil
}

// Review is a relation candidate awaiting a human decision.
type Review struct {
	ID         string            `json:"review_id"`
	Status     string            `json:"status"`
	JobID      string            `json:"job_id"`
	DedupKey   string            `json:"dedup_key"`
	Source     string            `json:"source"`
	Target     string            `json:"target"`
	Type       string            `json:"relation_type"`
	Scope      string            `json:"scope"`
	Confidence float64           `json:"confidence"`
	Provenance map[string]string `json:"provenance,omitempty"`
	Reviewer   string            `json:"reviewer,omitempty"`
	Notes      string            `json:"notes,omitempty"`
	Applied    bool              `json:"applied"`
	CreatedAt  string            `json:"created_at"`
	DecidedAt  string            `json:"decided_at,omitempty"`
}

// Payload is the raw content retained until its job finishes, so an
// interrupted job can be redone from the top after a restart.
type Payload struct {
	ItemType string `json:"item_type"`
	ActorID  string `json:"actor_id"`
	Source   string `json:"source"`
	Scope    string `json:"scope"`
	MemoryID string `json:"memory_id"`
	Content  string `json:"content"`
}

// UnmarshalJSON applies the same legacy field mapping as Job.
func (p *Payload) UnmarshalJSON(data []byte) error {
	type payloadAlias Payload
	aux := struct {
		*payloadAlias
		RespondentID string `json:"respondent_id"`
	}{payloadAlias: (*payloadAlias)(p)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if p.ActorID == "" && aux.RespondentID != "" {
		p.ActorID = aux.RespondentID
	}
	return nil
}

// snapshot is the durable state file layout.
type snapshot struct {
	Version   int                 `json:"version"`
	UpdatedAt string              `json:"updated_at"`
	Jobs      map[string]*Job     `json:"jobs"`
	Reviews   map[string]*Review  `json:"reviews"`
	Payloads  map[string]*Payload `json:"payloads"`
}

const snapshotVersion = 2
