package storage

// ImageRecord represents one indexed image file in the database.
type ImageRecord struct {
	ID           int64
	Path         string // Relative to the primary root, or absolute for extra roots
	Name         string
	MTime        float64 // Unix seconds with fraction
	Size         int64
	Width        int64 // 0 when unknown
	Height       int64
	Seed         string
	Model        string
	Sampler      string
	Scheduler    string
	Generator    string
	Steps        float64
	CfgScale     float64
	Description  string
	MetadataJSON string
	Rating       string
	RatingConf   float64
	RatingAt     float64
}

// Job statuses. Transitions are pending -> processing -> {ready, error,
// skipped}; any state returns to pending when the model changes or a
// caller forces a reset.
const (
	JobPending    = "pending"
	JobProcessing = "processing"
	JobReady      = "ready"
	JobError      = "error"
	JobSkipped    = "skipped"
)

// Job kinds, one background worker loop per kind. Rating rows are
// written as a side-channel of the auto-tag worker and are never
// claimed by a loop of their own.
const (
	JobKindEmbedding = "embedding"
	JobKindAutoTag   = "autotag"
	JobKindRating    = "rating"
)

// JobRecord is one unit of enrichment work for one image and one kind.
type JobRecord struct {
	ImageID    int64
	Kind       string
	Status     string
	Model      string
	Error      string
	QueuedAt   float64
	UpdatedAt  float64
	Vector     []byte  // embedding jobs only
	Rating     string  // rating jobs only
	Confidence float64 // rating jobs only
	ScoresJSON string  // rating jobs only
}

// ClaimedJob is a claimed job row joined with the owning image's path,
// which every worker needs to open the file.
type ClaimedJob struct {
	ImageID int64
	Path    string
	MTime   float64
}

// ProgressCounts summarizes job rows of one kind.
type ProgressCounts struct {
	Total      int
	Completed  int
	Processing int
	Errors     int
}

// Queued returns the number of rows that are pending but not yet
// claimed, clamped at zero.
func (c ProgressCounts) Queued() int {
	q := c.Total - c.Completed - c.Processing - c.Errors
	if q < 0 {
		return 0
	}
	return q
}
