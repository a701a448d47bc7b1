// Package speech defines the abstract speech-to-text and diarization
// provider contract. Concrete backends are external collaborators; the
// engine only depends on these interfaces.
package speech

import (
	"context"

	"github.com/Mindburn-Labs/corpus/pkg/contracts"
)

// Transcriber converts stored audio into transcript segments.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) ([]contracts.TranscriptSegment, error)
}

// Diarizer attributes stored audio to speakers.
type Diarizer interface {
	Diarize(ctx context.Context, audioPath string) ([]contracts.TranscriptSegment, error)
}
