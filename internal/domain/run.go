// Package domain holds the entities shared across every component:
// subjects, pipeline runs, stages, locks and model descriptors. Types here
// are plain structs and string-backed enums, mirroring the teacher's
// internal/pipeline/model package — no behavior lives here beyond small
// helper predicates on the enums.
package domain

import "time"

// RunState is the top-level state of a PipelineRun.
type RunState string

const (
	RunQueued    RunState = "queued"
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunFailed    RunState = "failed"
	RunCancelled RunState = "cancelled"
	RunPartial   RunState = "partial"
)

// IsTerminal reports whether the state is absorbing.
func (s RunState) IsTerminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunCancelled, RunPartial:
		return true
	default:
		return false
	}
}

// StageState is the state of a single stage within a run.
type StageState string

const (
	StagePending   StageState = "pending"
	StageRunning   StageState = "running"
	StageCompleted StageState = "completed"
	StageSkipped   StageState = "skipped"
	StageFailed    StageState = "failed"
)

// IsTerminal reports whether the stage will never transition again.
func (s StageState) IsTerminal() bool {
	switch s {
	case StageCompleted, StageSkipped, StageFailed:
		return true
	default:
		return false
	}
}

// StageID names one of the eight fixed pipeline stages, in execution order.
type StageID string

const (
	StageDownload         StageID = "download"
	StageAudioExtract     StageID = "audio_extract"
	StageAudioUpload      StageID = "audio_upload"
	StageTranscribe       StageID = "transcribe"
	StageMomentGeneration StageID = "moment_generation"
	StageClipExtract      StageID = "clip_extract"
	StageClipUpload       StageID = "clip_upload"
	StageRefinement       StageID = "refinement"
)

// StageOrder is the fixed, total order in which stages execute.
var StageOrder = []StageID{
	StageDownload,
	StageAudioExtract,
	StageAudioUpload,
	StageTranscribe,
	StageMomentGeneration,
	StageClipExtract,
	StageClipUpload,
	StageRefinement,
}

// PipelineType distinguishes a full run from a partial re-run.
type PipelineType string

const (
	PipelineFull    PipelineType = "full"
	PipelinePartial PipelineType = "partial"
)

// SamplingParams carries LLM sampling knobs threaded through to the
// inference client unchanged.
type SamplingParams struct {
	Temperature float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	TopP        float64 `json:"top_p,omitempty" yaml:"top_p,omitempty"`
	TopK        int     `json:"top_k,omitempty" yaml:"top_k,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
}

// RunConfig is the caller-supplied configuration for one PipelineRun.
type RunConfig struct {
	GenerationModel     string         `json:"generation_model"`
	RefinementModel     string         `json:"refinement_model"`
	GenerationParams    SamplingParams `json:"generation_params"`
	PaddingLeftSeconds  float64        `json:"padding_left_seconds"`
	PaddingRightSeconds float64        `json:"padding_right_seconds"`
	MinMoments          *int           `json:"min_moments,omitempty"`
	MaxMoments          *int           `json:"max_moments,omitempty"`
	MinMomentLength     *float64       `json:"min_moment_length,omitempty"`
	MaxMomentLength     *float64       `json:"max_moment_length,omitempty"`
}

// StageSubState is the per-stage bookkeeping carried on a PipelineRun.
type StageSubState struct {
	State       StageState `json:"state"`
	StartedAt   time.Time  `json:"started_at,omitempty"`
	CompletedAt time.Time  `json:"completed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	SkipReason  string     `json:"skip_reason,omitempty"`
}

// PipelineRun is one execution attempt of the pipeline against a Subject.
type PipelineRun struct {
	RunID        string                       `json:"run_id"`
	SubjectID    string                       `json:"subject_id"`
	Config       RunConfig                    `json:"config"`
	PipelineType PipelineType                 `json:"pipeline_type"`
	State        RunState                     `json:"state"`
	CurrentStage StageID                      `json:"current_stage"`
	Stages       map[StageID]*StageSubState   `json:"stages"`
	QueuedAt     time.Time                    `json:"queued_at"`
	StartedAt    time.Time                    `json:"started_at,omitempty"`
	CompletedAt  time.Time                    `json:"completed_at,omitempty"`
	ErrorStage   StageID                      `json:"error_stage,omitempty"`
	ErrorMessage string                       `json:"error_message,omitempty"`
	Totals       map[string]int               `json:"totals,omitempty"`
}

// NewPipelineRun builds a freshly queued run with all stages pending.
func NewPipelineRun(runID, subjectID string, cfg RunConfig) *PipelineRun {
	stages := make(map[StageID]*StageSubState, len(StageOrder))
	for _, s := range StageOrder {
		stages[s] = &StageSubState{State: StagePending}
	}
	return &PipelineRun{
		RunID:        runID,
		SubjectID:    subjectID,
		Config:       cfg,
		PipelineType: PipelineFull,
		State:        RunQueued,
		Stages:       stages,
		QueuedAt:     time.Now(),
		Totals:       map[string]int{},
	}
}

// Subject is the video identity a run processes.
type Subject struct {
	SubjectID  string `json:"subject_id"`
	SourceURL  string `json:"source_url"`
	CloudURL   string `json:"cloud_url,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Codecs     string `json:"codecs,omitempty"`
	Resolution string `json:"resolution,omitempty"`
	FPS        float64 `json:"fps,omitempty"`
	Bytes      int64  `json:"bytes,omitempty"`
}

// ModelDescriptor is the persisted connection/capability record for a model.
type ModelDescriptor struct {
	ModelKey         string         `json:"model_key"`
	SSHHost          string         `json:"ssh_host"`
	SSHUser          string         `json:"ssh_user"`
	LocalPort        int            `json:"local_port"`
	RemoteHost       string         `json:"remote_host"`
	RemotePort       int            `json:"remote_port"`
	EndpointPath     string         `json:"endpoint_path"`
	SupportsVideo    bool           `json:"supports_video"`
	ModelID          string         `json:"model_id"`
	DefaultSampling  SamplingParams `json:"default_sampling"`
}

// Moment is a candidate highlight window within a video, as produced by
// MomentGeneration and possibly superseded by Refinement.
type Moment struct {
	ID          int64   `json:"id"`
	RunID       string  `json:"run_id"`
	StartTime   float64 `json:"start_time"`
	EndTime     float64 `json:"end_time"`
	Title       string  `json:"title"`
	IsRefined   bool    `json:"is_refined"`
	ParentID    int64   `json:"parent_id,omitempty"`
	ClipURL     string  `json:"clip_url,omitempty"`
	ClipFailed  bool    `json:"clip_failed,omitempty"`

	// LocalClipPath is the worker-local filesystem path of an extracted
	// clip awaiting upload. Never persisted; scoped to one run's stage
	// execution.
	LocalClipPath string `json:"-"`
}

// TranscriptRecord, ClipRecord and GenerationConfigRecord are thin,
// identified-by-id shapes; their authoritative schema belongs to the
// relational store (out of scope), reached only via internal/repository.
type TranscriptRecord struct {
	ID               int64              `json:"id"`
	RunID            string             `json:"run_id"`
	FullText         string             `json:"full_text"`
	WordTimestamps   []WordTimestamp    `json:"word_timestamps"`
	SegmentTimestamps []SegmentTimestamp `json:"segment_timestamps"`
}

type WordTimestamp struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type SegmentTimestamp struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type ClipRecord struct {
	ID           int64   `json:"id"`
	MomentID     int64   `json:"moment_id"`
	PaddingLeft  float64 `json:"padding_left"`
	PaddingRight float64 `json:"padding_right"`
	CloudURL     string  `json:"cloud_url"`
}

type GenerationConfigRecord struct {
	ID              int64          `json:"id"`
	RunID           string         `json:"run_id"`
	Prompt          string         `json:"prompt"`
	Model           string         `json:"model"`
	SamplingParams  SamplingParams `json:"sampling_params"`
}
