package printer

import (
	"bytes"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tfelbr/FMBP/internal/consistency"
	"github.com/tfelbr/FMBP/pkg/fm"
)

// capture redirects printer output to buffers without colors.
func capture(t *testing.T) (stdout, stderr *bytes.Buffer) {
	t.Helper()
	stdout, stderr = &bytes.Buffer{}, &bytes.Buffer{}

	oldOut, oldErr, oldNoColor := Stdout, Stderr, color.NoColor
	Stdout, Stderr, color.NoColor = stdout, stderr, true
	t.Cleanup(func() {
		Stdout, Stderr, color.NoColor = oldOut, oldErr, oldNoColor
	})
	return stdout, stderr
}

func TestError(t *testing.T) {
	t.Run("returns error with title", func(t *testing.T) {
		_, stderr := capture(t)
		err := Error("Test Error", "This is a test error", []string{})
		require.Error(t, err)
		require.Equal(t, "Test Error", err.Error())
		assert.Equal(t, "Test Error\n\nThis is a test error\n", stderr.String())
	})

	t.Run("prints a single suggestion plainly", func(t *testing.T) {
		_, stderr := capture(t)
		err := Error("Test Error", "Explanation", []string{"Try this fix"})
		require.Equal(t, "Test Error", err.Error())
		assert.Contains(t, stderr.String(), "\nTry this fix\n")
		assert.NotContains(t, stderr.String(), "Either:")
	})

	t.Run("numbers multiple suggestions", func(t *testing.T) {
		_, stderr := capture(t)
		Error("Test Error", "Explanation", []string{"First option", "Second option"})
		assert.Contains(t, stderr.String(), "Either:\n  1. First option\n  2. Second option\n")
	})
}

func TestErrorWithContext(t *testing.T) {
	_, stderr := capture(t)
	context := map[string]string{
		"Solver": "uvls",
		"Model":  "tank.uvl",
	}
	err := ErrorWithContext("Test Error", "Explanation", context, nil)
	require.Equal(t, "Test Error", err.Error())
	assert.Contains(t, stderr.String(), "  Model: tank.uvl\n  Solver: uvls\n")
}

func TestSuccessAndWarning(t *testing.T) {
	stdout, _ := capture(t)
	Success("done\n")
	Success("✓ already marked\n")
	Warning("careful\n")

	assert.Equal(t, "✓ done\n✓ already marked\n⚠️  careful\n", stdout.String())
}

func TestConfiguration(t *testing.T) {
	stdout, _ := capture(t)
	Configuration(fm.Configuration{"Hot": true, "Cold": false})
	Configuration(nil)

	assert.Equal(t, "  - Cold\n  + Hot\n(no configuration)\n", stdout.String())
}

func TestThreads(t *testing.T) {
	stdout, _ := capture(t)
	Threads(map[string]fm.ThreadSpec{
		"B": {Name: "B"},
		"A": {Name: "A", Events: []fm.EventSpec{
			{Name: "HOT", Requested: true, Priority: 1},
			{Name: "DRAIN", Blocked: true, Priority: 2},
		}},
	})

	assert.Equal(t, "A\n    DRAIN{blocked priority=2}\n    HOT{requested priority=1}\nB\n", stdout.String())
}

// TestDivergence tests that every finding is printed and the returned error
// counts them.
func TestDivergence(t *testing.T) {
	_, stderr := capture(t)
	report := consistency.Report{
		{Kind: consistency.MissingThread, Thread: "A"},
		{Kind: consistency.UnexpectedThread, Thread: "B"},
	}

	err := Divergence(report)
	require.Error(t, err)
	assert.Equal(t, "runtime and model have diverged (2 findings)", err.Error())
	assert.Contains(t, stderr.String(), "Missing b-thread: 'A' found in model but not in runtime")
	assert.Contains(t, stderr.String(), "Unexpected b-thread: 'B' found in runtime but not in model")
	assert.Contains(t, stderr.String(), "Either:")
}
