package core

import (
	"errors"
	"fmt"
)

// Sentinel errors for the caller-facing contract.
var (
	// ErrNoAudioTrack is non-fatal: the whole video is marked visual-only.
	ErrNoAudioTrack = errors.New("no audio track")
	// ErrNotFound is returned for unknown session ids.
	ErrNotFound = errors.New("session not found")
	// ErrNotReady is returned when results are requested before completion.
	ErrNotReady = errors.New("result not ready")
)

// DecodeError reports that the video container or a frame could not be
// read. Fatal to the session.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// StorageError reports a failure of the result store. Fatal to the session.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// TranscriptionError records one chunk that exhausted its retries. Non-fatal:
// the chunk is emitted with Success=false instead of aborting the session.
type TranscriptionError struct {
	Start    float64
	End      float64
	Attempts int
	Err      error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcribe chunk [%.1fs-%.1fs] after %d attempts: %v", e.Start, e.End, e.Attempts, e.Err)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// SummarizationError is non-fatal per segment: the segment keeps its
// transcript and confidence, summary and topics stay empty.
type SummarizationError struct {
	Err error
}

func (e *SummarizationError) Error() string {
	return fmt.Sprintf("summarize: %v", e.Err)
}

func (e *SummarizationError) Unwrap() error { return e.Err }
