package spec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNetworkConfig(t *testing.T) {
	raw := []byte(`{
		"cniVersion": "1.0.0",
		"name": "mynet",
		"type": "bridge",
		"ipam": {"type": "host-local"}
	}`)

	nc, err := ParseNetworkConfig(raw)
	require.NoError(t, err)
	assert.Equal(t, "mynet", nc.Name)
	assert.Equal(t, "bridge", nc.Type)
	assert.Equal(t, "host-local", nc.IPAMType)
	assert.Equal(t, "1.0.0", nc.CNIVersion)
	assert.Equal(t, raw, nc.Raw)
}

func TestParseNetworkConfigNoIPAM(t *testing.T) {
	raw := []byte(`{"cniVersion": "1.0.0", "name": "mynet", "type": "host-local"}`)

	nc, err := ParseNetworkConfig(raw)
	require.NoError(t, err)
	assert.Empty(t, nc.IPAMType)
}

func TestParseNetworkConfigMissingName(t *testing.T) {
	raw := []byte(`{"cniVersion": "1.0.0", "type": "bridge"}`)

	_, err := ParseNetworkConfig(raw)
	assert.Error(t, err)
}

func TestParseNetworkConfigMissingType(t *testing.T) {
	raw := []byte(`{"cniVersion": "1.0.0", "name": "mynet"}`)

	_, err := ParseNetworkConfig(raw)
	assert.Error(t, err)
}

func TestParseNetworkConfigInvalidJSON(t *testing.T) {
	_, err := ParseNetworkConfig([]byte("not json"))
	assert.Error(t, err)
}
