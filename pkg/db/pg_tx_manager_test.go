package db

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestIsSerializationFailure(t *testing.T) {
	t.Parallel()

	conflict := &pgconn.PgError{Code: "40001"}
	assert.True(t, isSerializationFailure(conflict))
	assert.True(t, isSerializationFailure(fmt.Errorf("failed to run fn, err: %w", conflict)))

	assert.False(t, isSerializationFailure(nil))
	assert.False(t, isSerializationFailure(fmt.Errorf("plain")))
	assert.False(t, isSerializationFailure(&pgconn.PgError{Code: "23505"}))
}
