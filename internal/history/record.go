package history

import (
	"strings"
	"time"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

// Stage tokens prefixed to failure messages.
const (
	StageDump       = "dump"
	StageCompress   = "compress"
	StageArchive    = "archive"
	StageBakCleanup = "bak cleanup"
	StageCleanup    = "cleanup"
)

// StageError is one recorded failure, tagged with the pipeline stage that produced it.
type StageError struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// String renders the operator-facing form. Dump and compression failures carry no prefix.
func (s StageError) String() string {
	switch s.Stage {
	case "", StageDump, StageCompress:
		return s.Message
	}
	return s.Stage + ": " + s.Message
}

// Record is the durable outcome of one run.
type Record struct {
	ID           int64        `json:"id"`
	Timestamp    time.Time    `json:"timestamp"`
	RunNumber    int          `json:"runNumber"`
	ClientName   string       `json:"clientName"`
	Archive      string       `json:"archive,omitempty"`
	Databases    []string     `json:"databases"`
	Status       Status       `json:"status"`
	FileSize     float64      `json:"fileSize"`
	Duration     float64      `json:"duration"`
	ErrorMessage *string      `json:"errorMessage"`
	Details      string       `json:"details"`
	Stages       []StageError `json:"stages"`
}

// AddStageError records a failure and refreshes ErrorMessage.
func (r *Record) AddStageError(stage, message string) {
	r.Stages = append(r.Stages, StageError{Stage: stage, Message: message})
	msg := JoinStages(r.Stages)
	r.ErrorMessage = &msg
}

// Failed reports whether any stage recorded a failure.
func (r *Record) Failed() bool {
	return len(r.Stages) > 0
}

// Error returns the joined error message, or "" on success.
func (r *Record) Error() string {
	if r.ErrorMessage == nil {
		return ""
	}
	return *r.ErrorMessage
}

// JoinStages builds the "; "-separated error message.
func JoinStages(stages []StageError) string {
	parts := make([]string, 0, len(stages))
	for _, s := range stages {
		parts = append(parts, s.String())
	}
	return strings.Join(parts, "; ")
}
