package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/c360/runtimeworker/errors"
	"github.com/c360/runtimeworker/identity"
	"github.com/c360/runtimeworker/storage"
)

// Methods served by the built-in engine
const (
	MethodRuntimeInfo   = "runtime.info"
	MethodStorageInsert = "storage.insert"
	MethodStorageGet    = "storage.get"
)

// Runtime is a loaded runtime artifact
type Runtime struct {
	Path     string
	Digest   string
	Size     int64
	Identity *identity.Identity
	Store    storage.Store
}

// Engine executes calls against a loaded runtime. Calls are made from a
// single goroutine, one at a time.
type Engine interface {
	Call(ctx context.Context, rt *Runtime, method string, body []byte) ([]byte, error)
}

// EngineFunc adapts a function to Engine
type EngineFunc func(ctx context.Context, rt *Runtime, method string, body []byte) ([]byte, error)

// Call calls f
func (f EngineFunc) Call(ctx context.Context, rt *Runtime, method string, body []byte) ([]byte, error) {
	return f(ctx, rt, method, body)
}

// RuntimeInfo is the runtime.info response
type RuntimeInfo struct {
	Path       string    `json:"path"`
	Digest     string    `json:"digest"`
	Size       int64     `json:"size"`
	AttestedAt time.Time `json:"attested_at"`
}

// InsertRequest is the storage.insert request
type InsertRequest struct {
	Value []byte `json:"value"`
}

// InsertResponse is the storage.insert response
type InsertResponse struct {
	Key string `json:"key"`
}

// GetRequest is the storage.get request
type GetRequest struct {
	Key string `json:"key"`
}

// GetResponse is the storage.get response
type GetResponse struct {
	Value []byte `json:"value"`
}

// BuiltinEngine serves runtime metadata and content-addressed storage
type BuiltinEngine struct{}

// Call implements Engine
func (BuiltinEngine) Call(ctx context.Context, rt *Runtime, method string, body []byte) ([]byte, error) {
	switch method {
	case MethodRuntimeInfo:
		info := RuntimeInfo{Path: rt.Path, Digest: rt.Digest, Size: rt.Size}
		if rt.Identity != nil {
			info.AttestedAt = rt.Identity.IssuedAt
		}
		return json.Marshal(info)

	case MethodStorageInsert:
		var req InsertRequest
		if err := decode(body, &req); err != nil {
			return nil, err
		}
		key := storage.ContentKey(req.Value)
		if err := rt.Store.Put(ctx, key, req.Value); err != nil {
			return nil, err
		}
		return json.Marshal(InsertResponse{Key: key})

	case MethodStorageGet:
		var req GetRequest
		if err := decode(body, &req); err != nil {
			return nil, err
		}
		value, err := rt.Store.Get(ctx, req.Key)
		if err != nil {
			return nil, err
		}
		return json.Marshal(GetResponse{Value: value})

	default:
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %s", errors.ErrUnknownMethod, method),
			"BuiltinEngine", "Call", "route method")
	}
}

func decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidData, err),
			"BuiltinEngine", "Call", "decode body")
	}
	return nil
}
