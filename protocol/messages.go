package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/c360/runtimeworker/errors"
	"github.com/c360/runtimeworker/pkg/worker"
)

// Host methods called by the worker
const (
	MethodStorageGet     = "storage.get"
	MethodStoragePut     = "storage.put"
	MethodIdentityAttest = "identity.attest"
)

// Error codes carried in error responses
const (
	CodeNotBound      = "not_bound"
	CodeUnknownMethod = "unknown_method"
	CodeBusy          = "busy"
	CodeNotFound      = "not_found"
	CodeInvalid       = "invalid"
	CodeShuttingDown  = "shutting_down"
	CodeInternal      = "internal"
)

type request struct {
	Method string          `json:"method"`
	Body   json.RawMessage `json:"body,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type storageGetRequest struct {
	Key string `json:"key"`
}

type storageGetResponse struct {
	Value []byte `json:"value"`
}

type storagePutRequest struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

// RemoteError is an error response received from the host
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("host error %s: %s", e.Code, e.Message)
}

// Unwrap maps well-known codes back to local sentinels
func (e *RemoteError) Unwrap() error {
	switch e.Code {
	case CodeNotFound:
		return errors.ErrKeyNotFound
	case CodeNotBound:
		return errors.ErrWorkerNotBound
	case CodeUnknownMethod:
		return errors.ErrUnknownMethod
	case CodeBusy:
		return errors.ErrBusy
	case CodeInvalid:
		return errors.ErrInvalidData
	case CodeShuttingDown:
		return errors.ErrShuttingDown
	default:
		return nil
	}
}

// ErrorCode maps a handler error to the code sent to the host
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, errors.ErrWorkerNotBound):
		return CodeNotBound
	case errors.Is(err, errors.ErrUnknownMethod):
		return CodeUnknownMethod
	case errors.Is(err, errors.ErrBusy), errors.Is(err, worker.ErrQueueFull):
		return CodeBusy
	case errors.Is(err, errors.ErrKeyNotFound):
		return CodeNotFound
	case errors.Is(err, errors.ErrShuttingDown), errors.Is(err, worker.ErrPoolStopped):
		return CodeShuttingDown
	case errors.IsInvalid(err):
		return CodeInvalid
	default:
		return CodeInternal
	}
}

func encodeError(err error) []byte {
	data, _ := json.Marshal(errorBody{Code: ErrorCode(err), Message: err.Error()})
	return data
}

func decodeError(payload []byte) error {
	var body errorBody
	if err := json.Unmarshal(payload, &body); err != nil || body.Code == "" {
		return &RemoteError{Code: CodeInternal, Message: string(payload)}
	}
	return &RemoteError{Code: body.Code, Message: body.Message}
}
