package asyncjob

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJob_Progress(t *testing.T) {
	cases := []struct {
		name string
		job  Job
		want float64
	}{
		{"zero total reports zero", Job{Total: 0, Processed: 5}, 0},
		{"half done", Job{Total: 10, Processed: 5}, 0.5},
		{"complete", Job{Total: 10, Processed: 10}, 1},
		{"negative total treated as unknown", Job{Total: -1, Processed: 5}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.job.Progress())
		})
	}
}

func TestErrAtCapacity_NamesLimit(t *testing.T) {
	assert.Contains(t, ErrAtCapacity.Error(), "10")
}
