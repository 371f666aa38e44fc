package dashboard

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogBufferKeepsLastLines(t *testing.T) {
	b := NewLogBuffer()

	for i := 0; i < logBufferLines+20; i++ {
		_, err := fmt.Fprintf(b, "line %d\n", i)
		require.NoError(t, err)
	}

	lines := b.Lines()
	require.Len(t, lines, logBufferLines)
	assert.Equal(t, "line 20", lines[0])
	assert.Equal(t, fmt.Sprintf("line %d", logBufferLines+19), lines[logBufferLines-1])
}

func TestLogBufferIgnoresEmptyWrites(t *testing.T) {
	b := NewLogBuffer()
	b.Write([]byte("\n"))
	assert.Empty(t, b.Lines())
}
