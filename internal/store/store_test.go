package store

import (
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
)

func TestUUIDString(t *testing.T) {
	want := uuid.New()
	var id pgtype.UUID
	id.Bytes = [16]byte(want)
	id.Valid = true

	assert.Equal(t, want.String(), UUIDString(id))
}
