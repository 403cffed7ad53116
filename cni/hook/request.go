package hook

import (
	"encoding/json"
	"io"

	"github.com/opencontainers/runtime-spec/specs-go"
	"github.com/pkg/errors"

	"github.com/go-mesos/cni-isolator/cni/isolator"
)

// PrepareRequest is the stdin payload for the prepare command: the
// runtime state of the not-yet-started container plus the CNI networks
// it is requesting.
type PrepareRequest struct {
	State    specs.State `json:"state"`
	Native   bool        `json:"native"`
	Networks []string    `json:"networks"`
}

// RecoverRequest is the stdin payload for the recover command.
type RecoverRequest struct {
	Known   []specs.State `json:"known"`
	Orphans []string      `json:"orphans"`
}

// ReadPrepareRequest decodes a PrepareRequest from stdin.
func ReadPrepareRequest(r io.Reader) (PrepareRequest, isolator.ContainerConfig, error) {
	var req PrepareRequest
	data, err := io.ReadAll(r)
	if err != nil {
		return req, isolator.ContainerConfig{}, errors.WithStack(err)
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, isolator.ContainerConfig{}, errors.WithStack(err)
	}

	cfg := isolator.ContainerConfig{HasContainerSpec: true}
	if req.Native {
		cfg.Kind = isolator.KindNative
	} else {
		cfg.Kind = isolator.KindOther
	}
	for _, name := range req.Networks {
		cfg.Networks = append(cfg.Networks, isolator.NetworkRequest{Name: name})
	}
	return req, cfg, nil
}

// ReadState decodes a bare specs.State, used by the isolate and cleanup
// commands, which only need a container ID (and, for isolate, a pid).
func ReadState(r io.Reader) (specs.State, error) {
	var state specs.State
	data, err := io.ReadAll(r)
	if err != nil {
		return state, errors.WithStack(err)
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return state, errors.WithStack(err)
	}
	return state, nil
}

// ReadRecoverRequest decodes a RecoverRequest.
func ReadRecoverRequest(r io.Reader) (RecoverRequest, map[string]bool, error) {
	var req RecoverRequest
	data, err := io.ReadAll(r)
	if err != nil {
		return req, nil, errors.WithStack(err)
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, nil, errors.WithStack(err)
	}

	orphans := make(map[string]bool, len(req.Orphans))
	for _, id := range req.Orphans {
		orphans[id] = true
	}
	return req, orphans, nil
}
