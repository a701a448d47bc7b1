package service

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/corpus/pkg/audio"
	"github.com/Mindburn-Labs/corpus/pkg/audit"
	"github.com/Mindburn-Labs/corpus/pkg/config"
	"github.com/Mindburn-Labs/corpus/pkg/contracts"
	"github.com/Mindburn-Labs/corpus/pkg/corpus"
	"github.com/Mindburn-Labs/corpus/pkg/corpuserr"
	"github.com/Mindburn-Labs/corpus/pkg/jobs"
	"github.com/Mindburn-Labs/corpus/pkg/repository"
)

// mimeByExt maps accepted audio extensions to their MIME types.
var mimeByExt = map[string]string{
	"wav":  "audio/wav",
	"mp3":  "audio/mpeg",
	"m4a":  "audio/mp4",
	"flac": "audio/flac",
	"ogg":  "audio/ogg",
}

// MediaService handles audio uploads and the transcription and diarization
// jobs derived from them. Uploads are admitted synchronously; the derived
// work runs on the job fabric and callers poll the returned job id.
type MediaService struct {
	gate
	cfg      *config.Config
	audio    *audio.Store
	sessions *repository.SessionRepository
	jobRepo  *repository.JobRepository
	fabric   *jobs.Fabric
	recorder *audit.Recorder
	clock    func() time.Time
}

// NewMediaService wires the media service.
func NewMediaService(store *corpus.Store, cfg *config.Config, audioStore *audio.Store, sessions *repository.SessionRepository, jobRepo *repository.JobRepository, fabric *jobs.Fabric, recorder *audit.Recorder) *MediaService {
	return &MediaService{
		gate:     gate{store: store, recorder: recorder},
		cfg:      cfg,
		audio:    audioStore,
		sessions: sessions,
		jobRepo:  jobRepo,
		fabric:   fabric,
		recorder: recorder,
		clock:    time.Now,
	}
}

// UploadForTranscription stores the audio and enqueues a transcribe job.
func (s *MediaService) UploadForTranscription(ctx context.Context, credential, sessionID, userID, filename string, r io.Reader) (jobID, artifactID string, err error) {
	return s.upload(ctx, credential, sessionID, userID, filename, r, contracts.JobTranscribe)
}

// UploadForDiarization stores the audio and enqueues a diarize job.
func (s *MediaService) UploadForDiarization(ctx context.Context, credential, sessionID, userID, filename string, r io.Reader) (jobID, artifactID string, err error) {
	return s.upload(ctx, credential, sessionID, userID, filename, r, contracts.JobDiarize)
}

func (s *MediaService) upload(ctx context.Context, credential, sessionID, userID, filename string, r io.Reader, kind contracts.JobKind) (string, string, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	if !s.cfg.AllowedExt(ext) {
		return "", "", fmt.Errorf("%w: extension %q not accepted (allowed: %s)",
			corpuserr.ErrUnsupportedMedia, ext, strings.Join(s.cfg.AllowedAudioExt, ", "))
	}

	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return "", "", err
	}
	if sess.State != contracts.SessionOpen {
		return "", "", fmt.Errorf("%w: session %s is %s, uploads need an open session",
			corpuserr.ErrInvalidTransition, sessionID, sess.State)
	}

	artifactID := uuid.New().String()
	resource := "artifact/" + artifactID
	if err := s.authorize(ctx, credential, userID, audit.OpArtifactStored, resource); err != nil {
		return "", "", err
	}

	sha, path, size, err := s.audio.Put(r, ext)
	if err != nil {
		return "", "", err
	}

	mime := mimeByExt[ext]
	if mime == "" {
		mime = "application/octet-stream"
	}
	artifact := contracts.AudioArtifact{
		ArtifactID: artifactID,
		SessionID:  sessionID,
		BytesRef:   path,
		SHA256:     sha,
		MIME:       mime,
		UploadedAt: s.clock().UTC(),
	}
	auditRec, err := s.recorder.Record(audit.OpArtifactStored, userID, resource,
		contracts.ResultSuccess, map[string]any{"sha256": sha, "size": size, "mime": mime})
	if err != nil {
		return "", "", err
	}
	if err := s.sessions.AppendArtifact(ctx, artifact, auditRec); err != nil {
		return "", "", err
	}

	// The input digest is the audio content hash plus the kind, so the same
	// file can be both transcribed and diarized but never double-enqueued
	// for one kind.
	jobID, err := s.fabric.Enqueue(ctx, kind, artifactID, string(kind)+":"+sha, userID)
	if err != nil {
		return "", "", err
	}
	return jobID, artifactID, nil
}

// Job returns the folded view of a job.
func (s *MediaService) Job(ctx context.Context, jobID string) (*contracts.Job, error) {
	return s.jobRepo.Get(ctx, jobID)
}

// Transcript returns a finished job's segments.
func (s *MediaService) Transcript(ctx context.Context, jobID string) ([]contracts.TranscriptSegment, error) {
	return s.jobRepo.GetTranscript(ctx, jobID)
}

// CancelJob appends the advisory cancel event for a job.
func (s *MediaService) CancelJob(ctx context.Context, jobID, userID string) error {
	return s.fabric.RequestCancel(ctx, jobID, userID)
}
