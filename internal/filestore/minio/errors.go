package minio

import (
	"context"
	"errors"
	"net/http"

	"github.com/koustreak/pgcatalog/internal/errs"
	miniogo "github.com/minio/minio-go/v7"
)

// S3 error codes, checked before the HTTP status: HEAD responses carry no
// body, so for StatObject only the status is known.
var codeKinds = map[string]errs.ErrKind{
	"NoSuchBucket":          errs.ErrKindNotFound,
	"NoSuchKey":             errs.ErrKindNotFound,
	"AccessDenied":          errs.ErrKindPermissionDenied,
	"InvalidAccessKeyId":    errs.ErrKindPermissionDenied,
	"SignatureDoesNotMatch": errs.ErrKindPermissionDenied,
	"InvalidBucketName":     errs.ErrKindInvalidInput,
	"InvalidObjectName":     errs.ErrKindInvalidInput,
	"KeyTooLongError":       errs.ErrKindInvalidInput,
	"EntityTooLarge":        errs.ErrKindInvalidInput,
	"RequestTimeout":        errs.ErrKindTimeout,
	"SlowDown":              errs.ErrKindTimeout,
}

var statusKinds = map[int]errs.ErrKind{
	http.StatusNotFound:     errs.ErrKindNotFound,
	http.StatusForbidden:    errs.ErrKindPermissionDenied,
	http.StatusUnauthorized: errs.ErrKindPermissionDenied,
	http.StatusBadRequest:   errs.ErrKindInvalidInput,
}

// mapError translates a MinIO SDK error into a *errs.Error.
// It mirrors mapError in the postgres driver.
func mapError(err error, msg string) *errs.Error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}

	var resp miniogo.ErrorResponse
	if errors.As(err, &resp) {
		if kind, ok := codeKinds[resp.Code]; ok {
			return errs.Wrap(kind, msg, err)
		}
		if kind, ok := statusKinds[resp.StatusCode]; ok {
			return errs.Wrap(kind, msg, err)
		}
	}

	// Anything else is treated as a connection or I/O failure.
	return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
}
