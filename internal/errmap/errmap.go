// Package errmap translates apierr failures into per-service error codes and
// HTTP status values. The storage engine never sees these identifiers.
package errmap

import (
	"net/http"

	"github.com/eniz1806/CloudEmu/internal/apierr"
)

// Service selects the vocabulary used for a mapped error.
type Service string

const (
	S3       Service = "s3"
	DynamoDB Service = "dynamodb"
	SQS      Service = "sqs"
	SNS      Service = "sns"
)

// Mapped is a provider-shaped error ready for serialization.
type Mapped struct {
	Code     string
	Status   int
	Message  string
	Resource string
}

// Map converts err into the error identifier for svc. Errors outside the
// taxonomy map to the service's internal error.
func Map(svc Service, err error) Mapped {
	ae, ok := apierr.As(err)
	if !ok {
		ae = &apierr.Error{Kind: apierr.KindInternal, Err: err}
	}
	var code string
	var status int
	switch svc {
	case S3:
		code, status = s3Code(ae)
	case DynamoDB:
		code, status = dynamoCode(ae)
	case SQS:
		code, status = sqsCode(ae)
	case SNS:
		code, status = snsCode(ae)
	default:
		code, status = "InternalError", http.StatusInternalServerError
	}
	m := Mapped{Code: code, Status: status, Resource: resourceName(ae.Resource)}
	if ae.Kind == apierr.KindInternal {
		m.Message = "We encountered an internal error. Please try again."
	} else {
		m.Message = ae.Message
	}
	return m
}

func resourceName(r apierr.Resource) string {
	switch {
	case r.Container != "" && r.Name != "":
		return r.Container + "/" + r.Name
	case r.Name != "":
		return r.Name
	default:
		return r.Container
	}
}

func s3Code(e *apierr.Error) (string, int) {
	if e.Reason == apierr.ReasonUnknownOperation {
		return "NotImplemented", http.StatusNotImplemented
	}
	switch e.Kind {
	case apierr.KindNotFound:
		switch e.Resource.Type {
		case apierr.ResourceBucket:
			return "NoSuchBucket", http.StatusNotFound
		case apierr.ResourceVersion:
			if e.Reason == apierr.ReasonDeleteMarker {
				return "MethodNotAllowed", http.StatusMethodNotAllowed
			}
			return "NoSuchVersion", http.StatusNotFound
		case apierr.ResourceUpload:
			return "NoSuchUpload", http.StatusNotFound
		case apierr.ResourcePolicy:
			return "NoSuchBucketPolicy", http.StatusNotFound
		default:
			return "NoSuchKey", http.StatusNotFound
		}
	case apierr.KindAlreadyExists:
		return "BucketAlreadyOwnedByYou", http.StatusConflict
	case apierr.KindConflict:
		if e.Reason == apierr.ReasonNotEmpty {
			return "BucketNotEmpty", http.StatusConflict
		}
		return "OperationAborted", http.StatusConflict
	case apierr.KindInvalidArgument:
		switch e.Reason {
		case apierr.ReasonInvalidPart:
			return "InvalidPart", http.StatusBadRequest
		case apierr.ReasonInvalidPartOrder:
			return "InvalidPartOrder", http.StatusBadRequest
		case apierr.ReasonEntityTooSmall:
			return "EntityTooSmall", http.StatusBadRequest
		case apierr.ReasonInvalidName:
			if e.Resource.Type == apierr.ResourceBucket {
				return "InvalidBucketName", http.StatusBadRequest
			}
			return "KeyTooLongError", http.StatusBadRequest
		case apierr.ReasonMalformedInput:
			return "MalformedXML", http.StatusBadRequest
		}
		return "InvalidArgument", http.StatusBadRequest
	case apierr.KindPreconditionFailed:
		return "IllegalVersioningConfigurationException", http.StatusBadRequest
	case apierr.KindCanceled:
		return "RequestTimeout", http.StatusBadRequest
	}
	return "InternalError", http.StatusInternalServerError
}

func dynamoCode(e *apierr.Error) (string, int) {
	if e.Reason == apierr.ReasonUnknownOperation {
		return "UnknownOperationException", http.StatusBadRequest
	}
	switch e.Kind {
	case apierr.KindNotFound:
		return "ResourceNotFoundException", http.StatusBadRequest
	case apierr.KindAlreadyExists:
		return "ResourceInUseException", http.StatusBadRequest
	case apierr.KindConflict:
		if e.Reason == apierr.ReasonConditionalCheckFailed {
			return "ConditionalCheckFailedException", http.StatusBadRequest
		}
		return "ResourceInUseException", http.StatusBadRequest
	case apierr.KindInvalidArgument, apierr.KindPreconditionFailed:
		return "ValidationException", http.StatusBadRequest
	case apierr.KindCanceled:
		return "RequestCanceled", http.StatusBadRequest
	}
	return "InternalServerError", http.StatusInternalServerError
}

func sqsCode(e *apierr.Error) (string, int) {
	if e.Reason == apierr.ReasonUnknownOperation {
		return "InvalidAction", http.StatusBadRequest
	}
	switch e.Kind {
	case apierr.KindNotFound:
		if e.Resource.Type == apierr.ResourceQueue {
			return "AWS.SimpleQueueService.NonExistentQueue", http.StatusBadRequest
		}
		return "ReceiptHandleIsInvalid", http.StatusBadRequest
	case apierr.KindAlreadyExists:
		return "QueueAlreadyExists", http.StatusBadRequest
	case apierr.KindConflict:
		return "ReceiptHandleIsInvalid", http.StatusBadRequest
	case apierr.KindInvalidArgument:
		if e.Reason == apierr.ReasonInvalidReceiptHandle {
			return "ReceiptHandleIsInvalid", http.StatusBadRequest
		}
		return "InvalidParameterValue", http.StatusBadRequest
	case apierr.KindPreconditionFailed:
		return "InvalidAttributeValue", http.StatusBadRequest
	case apierr.KindCanceled:
		return "RequestCanceled", http.StatusBadRequest
	}
	return "InternalError", http.StatusInternalServerError
}

func snsCode(e *apierr.Error) (string, int) {
	if e.Reason == apierr.ReasonUnknownOperation {
		return "InvalidAction", http.StatusBadRequest
	}
	switch e.Kind {
	case apierr.KindNotFound:
		return "NotFound", http.StatusNotFound
	case apierr.KindAlreadyExists, apierr.KindConflict:
		return "InvalidParameter", http.StatusBadRequest
	case apierr.KindInvalidArgument, apierr.KindPreconditionFailed:
		return "InvalidParameter", http.StatusBadRequest
	case apierr.KindCanceled:
		return "RequestCanceled", http.StatusBadRequest
	}
	return "InternalError", http.StatusInternalServerError
}

// Throttled is the error a service returns when a caller exceeds its
// request rate.
func Throttled(svc Service) Mapped {
	m := Mapped{Message: "Rate exceeded"}
	switch svc {
	case S3:
		m.Code, m.Status, m.Message = "SlowDown", http.StatusServiceUnavailable, "Please reduce your request rate."
	case DynamoDB:
		m.Code, m.Status = "ThrottlingException", http.StatusBadRequest
	case SQS:
		m.Code, m.Status = "RequestThrottled", http.StatusForbidden
	default:
		m.Code, m.Status = "Throttling", http.StatusBadRequest
	}
	return m
}
