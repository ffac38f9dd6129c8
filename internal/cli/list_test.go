package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListCommandText(t *testing.T) {
	cmd := NewListCommand(&RootOptions{Format: "text"})
	out, _, err := execute(t, cmd)
	require.NoError(t, err)

	assert.Contains(t, out, "Scenarios:")
	assert.Contains(t, out, "basic_flow")
	assert.Contains(t, out, "single_bit")
	assert.Contains(t, out, "Models:")
	assert.Contains(t, out, "pipereg-swap")
}

func TestListCommandJSON(t *testing.T) {
	cmd := NewListCommand(&RootOptions{Format: "json"})
	out, _, err := execute(t, cmd)
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   ListResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.NotEmpty(t, resp.Data.Scenarios)
	assert.Equal(t, "basic_flow", resp.Data.Scenarios[0].Name)
	assert.Contains(t, resp.Data.Models, "pipereg")
	assert.Contains(t, resp.Data.Models, "pipereg-drop")
}

func TestListCommandRejectsArgs(t *testing.T) {
	cmd := NewListCommand(&RootOptions{Format: "text"})
	_, _, err := execute(t, cmd, "extra")
	require.Error(t, err)
}
