package orchestrator

import "context"

// Outcome is the completeness of one artifact's transcript
type Outcome int

const (
	OutcomeDone    Outcome = iota // Every unit produced text (possibly empty for silence)
	OutcomePartial                // Some segments failed; text covers the rest
	OutcomeFailed                 // No unit succeeded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDone:
		return "done"
	case OutcomePartial:
		return "partial"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Path records how an artifact was transcribed
type Path string

const (
	PathWhole   Path = "whole"
	PathChunked Path = "chunked"
)

// Result is the transcript of one artifact plus how complete it is
type Result struct {
	Text           string
	Outcome        Outcome
	Path           Path
	Segments       int   // Segments produced by the split; 0 on the whole-file path
	FailedSegments []int // Zero-based indexes of segments that yielded no text
	Err            error // Last failure seen, if any
}

// Splitter cuts an artifact into independently decodable segments inside segDir
type Splitter interface {
	Split(ctx context.Context, artifactPath, segDir string) ([]string, error)
}
