package cmd

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCommand() *cobra.Command {
	return &cobra.Command{Use: "test"}
}

// executeCommand runs the root command with the given arguments and captures
// its output.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	SetVersion("1.2.3")

	out, err := executeCommand(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "cfs-config-util version 1.2.3")
}

func TestProcessFileOptionsCommand(t *testing.T) {
	out, err := executeCommand(t, "process-file-options",
		"update-configs", "--product", "sat", "--base-file", "/root/configs/base.json", "--save")
	require.NoError(t, err)

	var output mountOutput
	require.NoError(t, json.Unmarshal([]byte(out), &output))

	assert.Equal(t, "--mount type=bind,src=/root/configs,target=/data/input", output.MountOpts)
	assert.Equal(t, "update-configs --product sat --base-file /data/input/base.json --save",
		output.TranslatedArgs)
}

func TestProcessFileOptionsCommandError(t *testing.T) {
	_, err := executeCommand(t, "process-file-options", "--base-file")
	require.Error(t, err)
}
