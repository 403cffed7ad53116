package spec

import (
	"encoding/json"

	"github.com/containernetworking/cni/pkg/types"
	"github.com/containernetworking/cni/pkg/types/create"
	"github.com/pkg/errors"
)

// ParseResult parses the stdout of a successful CNI ADD invocation into a
// version-appropriate types.Result. The plugin is free to report any CNI
// spec version it supports; ParseResult detects it from the JSON itself
// rather than assuming one, per the CNI version negotiation contract.
func ParseResult(stdout []byte) (types.Result, error) {
	result, err := create.CreateFromBytes(stdout)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse CNI plugin result")
	}
	return result, nil
}

// ParsePluginError parses the stdout of a failed CNI invocation (non-zero
// exit) into a types.Error, the CNI spec's own wire format for plugin
// failures. A plugin that fails to even produce valid error JSON still
// surfaces the raw stdout to the caller.
func ParsePluginError(stdout []byte) (*types.Error, error) {
	var pe types.Error
	if err := json.Unmarshal(stdout, &pe); err != nil {
		return nil, errors.Wrap(err, "plugin did not report a valid error")
	}
	return &pe, nil
}
