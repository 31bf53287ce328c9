package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdempotencyStatusValid(t *testing.T) {
	t.Parallel()

	for status, valid := range map[IdempotencyStatus]bool{
		IdempotencyStatusProcessing: true,
		IdempotencyStatusDone:       true,
		"":                          false,
		"replayed":                  false,
	} {
		assert.Equal(t, valid, status.Valid(), "status %q", status)
	}
}
