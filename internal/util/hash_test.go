package util

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGenerateRecordID(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	id := GenerateRecordID("a.ts", "x", ts)
	assert.Len(t, id, 16)
	assert.Equal(t, id, GenerateRecordID("a.ts", "x", ts.In(time.FixedZone("CET", 3600))))
	assert.NotEqual(t, id, GenerateRecordID("a.ts", "y", ts))
	assert.NotEqual(t, id, GenerateRecordID("a.tsx", "", ts))
	assert.NotEqual(t, id, GenerateRecordID("a.ts", "x", ts.Add(time.Nanosecond)))
}
