package temporal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkerOptions_OneActivityAtATime(t *testing.T) {
	opts := workerOptions()

	assert.Equal(t, 1, opts.MaxConcurrentActivityExecutionSize)
	assert.Equal(t, 10, opts.MaxConcurrentWorkflowTaskExecutionSize)
}
