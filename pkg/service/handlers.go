package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/corpus/pkg/contracts"
	"github.com/Mindburn-Labs/corpus/pkg/corpus"
	"github.com/Mindburn-Labs/corpus/pkg/corpuserr"
	"github.com/Mindburn-Labs/corpus/pkg/jobs"
	"github.com/Mindburn-Labs/corpus/pkg/repository"
	"github.com/Mindburn-Labs/corpus/pkg/speech"
)

// RegisterJobHandlers binds every job kind to its handler. Transcribe and
// diarize read the audio artifact named by the job's input ref; embed reads
// an interaction id; export reads a JSON-encoded target list.
func RegisterJobHandlers(
	fabric *jobs.Fabric,
	sessions *repository.SessionRepository,
	jobRepo *repository.JobRepository,
	corpusSvc *CorpusService,
	exportSvc *ExportService,
	transcriber speech.Transcriber,
	diarizer speech.Diarizer,
	embedModel string,
) {
	fabric.RegisterHandler(contracts.JobTranscribe, func(ctx context.Context, job *contracts.Job) (string, error) {
		return runSpeechJob(ctx, sessions, jobRepo, job, func(audioPath string) ([]contracts.TranscriptSegment, error) {
			return transcriber.Transcribe(ctx, audioPath)
		})
	})

	fabric.RegisterHandler(contracts.JobDiarize, func(ctx context.Context, job *contracts.Job) (string, error) {
		return runSpeechJob(ctx, sessions, jobRepo, job, func(audioPath string) ([]contracts.TranscriptSegment, error) {
			return diarizer.Diarize(ctx, audioPath)
		})
	})

	fabric.RegisterHandler(contracts.JobEmbed, func(ctx context.Context, job *contracts.Job) (string, error) {
		if err := corpusSvc.EmbedInteraction(ctx, job.InputRef, embedModel); err != nil {
			return "", err
		}
		return "embedding/" + job.InputRef, nil
	})

	fabric.RegisterHandler(contracts.JobExport, func(ctx context.Context, job *contracts.Job) (string, error) {
		var targets []string
		if err := json.Unmarshal([]byte(job.InputRef), &targets); err != nil {
			return "", fmt.Errorf("%w: export job input: %v", corpuserr.ErrValidation, err)
		}
		e, err := exportSvc.CreateForJob(ctx, targets)
		if err != nil {
			return "", err
		}
		return "export/" + e.ExportID, nil
	})
}

func runSpeechJob(ctx context.Context, sessions *repository.SessionRepository, jobRepo *repository.JobRepository, job *contracts.Job, run func(audioPath string) ([]contracts.TranscriptSegment, error)) (string, error) {
	artifact, err := sessions.GetArtifact(ctx, job.InputRef)
	if err != nil {
		return "", err
	}
	segments, err := run(artifact.BytesRef)
	if err != nil {
		return "", err
	}
	transcriptID := uuid.New().String()
	createdAt := time.Now().UTC().Format(corpus.TimeLayout)
	if err := jobRepo.AppendTranscript(ctx, transcriptID, job.JobID, artifact.ArtifactID, artifact.SessionID, job.Kind, segments, createdAt, nil); err != nil {
		return "", err
	}
	return "transcript/" + transcriptID, nil
}
