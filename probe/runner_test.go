package probe

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentcore/agentcore/procmanager"
)

func testRunner(t *testing.T) *Runner {
	t.Helper()
	return NewRunner(procmanager.New(procmanager.Config{}))
}

func TestRunParsesProgressingClassAndExplicitDigest(t *testing.T) {
	r := testRunner(t)
	result, err := r.Run(Options{
		Command: []string{"/bin/sh", "-c", `echo '{"class":"progressing","digest":"abc123"}'`},
	})
	require.NoError(t, err)
	assert.Equal(t, ClassProgressing, result.Class)
	assert.Equal(t, "abc123", result.Digest)
}

func TestRunComputesDigestWhenAbsent(t *testing.T) {
	r := testRunner(t)
	result, err := r.Run(Options{
		Command: []string{"/bin/sh", "-c", `echo '{"class":"stalled"}'`},
	})
	require.NoError(t, err)
	assert.Equal(t, ClassStalled, result.Class)
	assert.NotEmpty(t, result.Digest)
}

func TestRunRejectsNonJSONStdout(t *testing.T) {
	r := testRunner(t)
	_, err := r.Run(Options{Command: []string{"/bin/sh", "-c", `echo 'not json'`}})
	assert.Error(t, err)
}

func TestRunRejectsInvalidClass(t *testing.T) {
	r := testRunner(t)
	_, err := r.Run(Options{Command: []string{"/bin/sh", "-c", `echo '{"class":"unknown"}'`}})
	assert.Error(t, err)
}

func TestRunRejectsEmptyStdout(t *testing.T) {
	r := testRunner(t)
	_, err := r.Run(Options{Command: []string{"/bin/sh", "-c", `true`}})
	assert.Error(t, err)
}

func TestRunHonorsRequireZeroExit(t *testing.T) {
	r := testRunner(t)
	_, err := r.Run(Options{
		Command:         []string{"/bin/sh", "-c", `echo '{"class":"terminal","digest":"d"}'; exit 1`},
		RequireZeroExit: true,
	})
	assert.Error(t, err)
}

func TestRunToleratesNonZeroExitWhenNotRequired(t *testing.T) {
	r := testRunner(t)
	result, err := r.Run(Options{
		Command:         []string{"/bin/sh", "-c", `echo '{"class":"terminal","digest":"d"}'; exit 1`},
		RequireZeroExit: false,
	})
	require.NoError(t, err)
	assert.Equal(t, ClassTerminal, result.Class)
}
