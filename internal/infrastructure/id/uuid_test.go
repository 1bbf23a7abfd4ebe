package id

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewID(t *testing.T) {
	gen := NewUUIDGenerator()
	a, b := gen.NewID(), gen.NewID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestNewOrderNumber(t *testing.T) {
	now := time.Date(2026, 9, 1, 10, 30, 0, 0, time.UTC)
	number := NewOrderNumber(now)

	assert.Regexp(t, regexp.MustCompile(`^ORD-20260901-[0-9a-f]{8}$`), number)
	assert.NotEqual(t, number, NewOrderNumber(now))
}
