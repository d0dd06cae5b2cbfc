package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/sdko-org/hooksink/internal/config"
	"github.com/sirupsen/logrus"
)

type S3Archiver struct {
	uploader s3manageriface.UploaderAPI
	bucket   string
	log      *logrus.Entry
}

func NewS3Archiver(logger *logrus.Logger, cfg *config.Config) (*S3Archiver, error) {
	awsConfig := &aws.Config{
		Region:           aws.String(cfg.S3Region),
		Credentials:      credentials.NewStaticCredentials(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		S3ForcePathStyle: aws.Bool(true),
	}
	if cfg.S3Endpoint != "" {
		awsConfig.Endpoint = aws.String(cfg.S3Endpoint)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return nil, fmt.Errorf("aws session: %w", err)
	}
	return newS3Archiver(logger, s3manager.NewUploaderWithClient(s3.New(sess)), cfg.ArchiveBucket), nil
}

func newS3Archiver(logger *logrus.Logger, uploader s3manageriface.UploaderAPI, bucket string) *S3Archiver {
	return &S3Archiver{
		uploader: uploader,
		bucket:   bucket,
		log:      logger.WithField("component", "s3_archiver"),
	}
}

// Archive uploads snap as JSON under sessions/{id}/{timestamp}.json and
// returns the object key.
func (a *S3Archiver) Archive(ctx context.Context, snap *Snapshot) (string, error) {
	body, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}

	key := ObjectKey(snap)
	_, err = a.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata: map[string]*string{
			"Session-Id":    aws.String(snap.SessionID),
			"Request-Count": aws.String(fmt.Sprint(len(snap.Requests))),
		},
	})
	if err != nil {
		return "", fmt.Errorf("s3 upload failed: %w", err)
	}

	a.log.WithFields(logrus.Fields{
		"session_id": snap.SessionID,
		"key":        key,
		"requests":   len(snap.Requests),
	}).Info("Archived session history")
	return key, nil
}

func ObjectKey(snap *Snapshot) string {
	return fmt.Sprintf("sessions/%s/%s.json", snap.SessionID, snap.ArchivedAt.UTC().Format("20060102T150405.000000000Z"))
}
