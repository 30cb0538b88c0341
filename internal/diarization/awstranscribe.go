package diarization

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/transcribe"
	"github.com/aws/aws-sdk-go-v2/service/transcribe/types"
	"github.com/aws/smithy-go"
	"github.com/tidwall/gjson"

	"github.com/yegors/diarscribe/internal/audio"
	"github.com/yegors/diarscribe/pkg/logger"
)

// objectStore is the subset of the S3 client used for media and results
type objectStore interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// jobRunner is the subset of the Transcribe client used for speaker labelling
type jobRunner interface {
	StartTranscriptionJob(ctx context.Context, params *transcribe.StartTranscriptionJobInput, optFns ...func(*transcribe.Options)) (*transcribe.StartTranscriptionJobOutput, error)
	GetTranscriptionJob(ctx context.Context, params *transcribe.GetTranscriptionJobInput, optFns ...func(*transcribe.Options)) (*transcribe.GetTranscriptionJobOutput, error)
}

// TranscribeDiarizer uses Amazon Transcribe speaker labels as the diarization
// collaborator. Audio is uploaded to S3 under its content hash so repeated runs on
// the same recording reuse both the object and the finished job.
type TranscribeDiarizer struct {
	s3     objectStore
	jobs   jobRunner
	config TranscribeConfig
	poll   time.Duration
	logger *logger.Logger
}

// NewTranscribeDiarizer loads the default AWS configuration and verifies that
// credentials can be retrieved.
func NewTranscribeDiarizer(ctx context.Context, config TranscribeConfig, logger *logger.Logger) (*TranscribeDiarizer, error) {
	if config.Bucket == "" {
		return nil, fmt.Errorf("%w: no S3 bucket configured for AWS Transcribe", ErrDiarizationUnavailable)
	}

	var opts []func(*awsconfig.LoadOptions) error
	if config.Region != "" {
		opts = append(opts, awsconfig.WithRegion(config.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load AWS configuration: %v", ErrDiarizationUnavailable, err)
	}
	if cfg.Credentials == nil {
		return nil, fmt.Errorf("%w: no AWS credentials configured", ErrDiarizationUnavailable)
	}
	if _, err := cfg.Credentials.Retrieve(ctx); err != nil {
		return nil, fmt.Errorf("%w: failed to retrieve AWS credentials: %v", ErrDiarizationUnavailable, err)
	}

	return newTranscribeDiarizer(s3.NewFromConfig(cfg), transcribe.NewFromConfig(cfg), config, logger), nil
}

func newTranscribeDiarizer(store objectStore, jobs jobRunner, config TranscribeConfig, logger *logger.Logger) *TranscribeDiarizer {
	if config.LanguageCode == "" {
		config.LanguageCode = "en-US"
	}
	if config.MaxSpeakers < 2 {
		config.MaxSpeakers = 10
	}
	if config.PollSeconds <= 0 {
		config.PollSeconds = 5
	}
	return &TranscribeDiarizer{
		s3:     store,
		jobs:   jobs,
		config: config,
		poll:   time.Duration(config.PollSeconds) * time.Second,
		logger: logger.Named("transcribe"),
	}
}

// Diarize uploads the audio if needed, runs a speaker-labelled transcription job
// and returns its speaker segments.
func (d *TranscribeDiarizer) Diarize(ctx context.Context, pcm []float32, sampleRate int) ([]RawTurn, error) {
	var body bytes.Buffer
	if err := audio.EncodeWAV(&body, pcm, sampleRate, 1); err != nil {
		return nil, fmt.Errorf("failed to encode audio: %w", err)
	}
	sum := sha256.Sum256(body.Bytes())
	hash := hex.EncodeToString(sum[:])
	jobName := "diarscribe-" + hash[:32]
	mediaKey := "diarscribe/media/" + hash + ".wav"

	if err := d.ensureObject(ctx, mediaKey, body.Bytes()); err != nil {
		return nil, mapAWSError("upload audio", err)
	}
	if err := d.ensureJob(ctx, jobName, mediaKey); err != nil {
		return nil, mapAWSError("run transcription job", err)
	}

	out, err := d.s3.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(d.config.Bucket),
		Key:    aws.String(jobName + ".json"),
	})
	if err != nil {
		return nil, mapAWSError("fetch transcription result", err)
	}
	defer out.Body.Close()

	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read transcription result: %w", err)
	}
	return parseSpeakerLabels(raw)
}

func (d *TranscribeDiarizer) ensureObject(ctx context.Context, key string, data []byte) error {
	_, err := d.s3.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(d.config.Bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		d.logger.Debug("Audio already uploaded", logger.String("key", key))
		return nil
	}
	if !isNotFoundError(err) {
		return err
	}

	_, err = d.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(d.config.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("audio/wav"),
	})
	if err != nil {
		return err
	}
	d.logger.Info("Uploaded audio", logger.String("bucket", d.config.Bucket), logger.String("key", key))
	return nil
}

func (d *TranscribeDiarizer) ensureJob(ctx context.Context, jobName, mediaKey string) error {
	status, exists, err := d.jobStatus(ctx, jobName)
	if err != nil {
		return err
	}
	if !exists {
		mediaURI := fmt.Sprintf("s3://%s/%s", d.config.Bucket, mediaKey)
		_, err := d.jobs.StartTranscriptionJob(ctx, &transcribe.StartTranscriptionJobInput{
			TranscriptionJobName: aws.String(jobName),
			LanguageCode:         types.LanguageCode(d.config.LanguageCode),
			MediaFormat:          types.MediaFormatWav,
			Media:                &types.Media{MediaFileUri: aws.String(mediaURI)},
			OutputBucketName:     aws.String(d.config.Bucket),
			Settings: &types.Settings{
				ShowSpeakerLabels: aws.Bool(true),
				MaxSpeakerLabels:  aws.Int32(int32(d.config.MaxSpeakers)),
			},
		})
		if err != nil {
			return err
		}
		d.logger.Info("Started transcription job", logger.String("job", jobName))
	}

	ticker := time.NewTicker(d.poll)
	defer ticker.Stop()

	for {
		switch status {
		case types.TranscriptionJobStatusCompleted:
			return nil
		case types.TranscriptionJobStatusFailed:
			return fmt.Errorf("transcription job %s failed", jobName)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		status, _, err = d.jobStatus(ctx, jobName)
		if err != nil {
			return err
		}
		d.logger.Debug("Job status", logger.String("job", jobName), logger.String("status", string(status)))
	}
}

func (d *TranscribeDiarizer) jobStatus(ctx context.Context, jobName string) (types.TranscriptionJobStatus, bool, error) {
	out, err := d.jobs.GetTranscriptionJob(ctx, &transcribe.GetTranscriptionJobInput{
		TranscriptionJobName: aws.String(jobName),
	})
	if err != nil {
		if isNotFoundError(err) {
			return "", false, nil
		}
		return "", false, err
	}
	if out.TranscriptionJob == nil {
		return "", false, nil
	}
	job := out.TranscriptionJob
	if job.TranscriptionJobStatus == types.TranscriptionJobStatusFailed && job.FailureReason != nil {
		d.logger.Warn("Transcription job failed", logger.String("job", jobName), logger.String("reason", aws.ToString(job.FailureReason)))
	}
	return job.TranscriptionJobStatus, true, nil
}

// parseSpeakerLabels extracts results.speaker_labels.segments from a Transcribe result
func parseSpeakerLabels(raw []byte) ([]RawTurn, error) {
	if !gjson.ValidBytes(raw) {
		return nil, errors.New("transcription result is not valid JSON")
	}
	segments := gjson.GetBytes(raw, "results.speaker_labels.segments")
	if !segments.Exists() {
		return nil, errors.New("transcription result has no speaker labels")
	}

	var turns []RawTurn
	segments.ForEach(func(_, seg gjson.Result) bool {
		turns = append(turns, RawTurn{
			Start:   seg.Get("start_time").Float(),
			End:     seg.Get("end_time").Float(),
			Speaker: seg.Get("speaker_label").String(),
		})
		return true
	})
	return turns, nil
}

func isNotFoundError(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey", "NotFoundException":
			return true
		case "BadRequestException":
			return bytes.Contains([]byte(apiErr.ErrorMessage()), []byte("couldn't be found"))
		}
	}
	return false
}

// mapAWSError reports authentication failures as ErrDiarizationUnavailable
func mapAWSError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "AccessDeniedException", "UnrecognizedClientException",
			"InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken",
			"ExpiredTokenException", "InvalidClientTokenId", "NoSuchBucket":
			return fmt.Errorf("%w: %s: %v", ErrDiarizationUnavailable, op, err)
		}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}
