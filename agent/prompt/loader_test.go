package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPromptSetEmbedded(t *testing.T) {
	t.Parallel()

	set := LoadPromptSet()
	assert.NotEmpty(t, set.Orchestrator)
	assert.NotEmpty(t, set.SQL)
	assert.NotEmpty(t, set.Report)
	// FString templates must not carry literal braces
	assert.False(t, strings.ContainsAny(set.SQL, "{}"))
}

func TestOrchestratorPromptMatchesWriteFailureFlow(t *testing.T) {
	t.Parallel()

	set := LoadPromptSet()
	// a failed write closes the turn, so the prompt must not promise a retry
	assert.Contains(t, set.Orchestrator, "A failed write ends the turn")
	assert.Contains(t, set.Orchestrator, "Do not retry the write in the same turn")
	assert.NotContains(t, set.Orchestrator, "ask the user for exactly the missing")
}

func TestLoadPromptSetFromOverlay(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "report.txt"), []byte("  custom report  \n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sql.txt"), []byte("   "), 0o600))

	set, err := LoadPromptSetFrom(dir)
	require.NoError(t, err)
	assert.Equal(t, "custom report", set.Report)
	assert.Equal(t, LoadPromptSet().SQL, set.SQL)
	assert.Equal(t, LoadPromptSet().Orchestrator, set.Orchestrator)

	same, err := LoadPromptSetFrom("")
	require.NoError(t, err)
	assert.Equal(t, LoadPromptSet(), same)
}
