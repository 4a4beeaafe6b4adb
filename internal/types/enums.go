package types

// JobStatus represents the lifecycle state of an archive job.
type JobStatus string

const (
	JobPending           JobStatus = "pending"
	JobRunning           JobStatus = "running"
	JobResolvingMetadata JobStatus = "resolving_metadata"
	JobComplete          JobStatus = "complete"
	JobFailed            JobStatus = "failed"
)

// Active reports whether the job is in a state that counts against the
// global concurrency cap.
func (s JobStatus) Active() bool {
	return s == JobRunning || s == JobResolvingMetadata
}

// Terminal reports whether the job will make no further progress without an
// explicit new start or refresh.
func (s JobStatus) Terminal() bool {
	return s == JobComplete || s == JobFailed
}

// StartStatus is the admission decision returned by Controller.Start.
type StartStatus string

const (
	StartStarted         StartStatus = "started"
	StartAlreadyArchived StartStatus = "already_archived"
	StartInProgress      StartStatus = "in_progress"
	StartRateLimited     StartStatus = "rate_limited"
	StartNotFound        StartStatus = "not_found"
)

// RunOutcome describes how a bounded execution unit ended.
type RunOutcome string

const (
	// RunCompleted means all windows were processed and finalization succeeded.
	RunCompleted RunOutcome = "completed"
	// RunYielded means the time budget was reached; the job is checkpointed
	// and a later invocation will continue from the next window.
	RunYielded RunOutcome = "yielded"
	// RunFailed means the job was marked failed; the checkpoint is at the
	// last successfully committed window and the job is resumable.
	RunFailed RunOutcome = "failed"
)
