package scan

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHistoryOrderingAndBound(t *testing.T) {
	h := NewHistory(50)

	for i := 1; i <= 60; i++ {
		h.Push(Result{Success: true, Student: &Student{ID: fmt.Sprintf("stu-%03d", i)}})
	}

	recent := h.Recent()
	assert.Equal(t, 50, h.Len())
	assert.Len(t, recent, 50)

	// Newest first; the ten oldest entries were evicted in FIFO order.
	assert.Equal(t, "stu-060", recent[0].Student.ID)
	assert.Equal(t, "stu-011", recent[49].Student.ID)
}

func TestHistoryDefaultCap(t *testing.T) {
	h := NewHistory(0)
	for i := 0; i < DefaultHistoryCap+5; i++ {
		h.Push(Result{Error: "x"})
	}
	assert.Equal(t, DefaultHistoryCap, h.Len())
}

func TestHistoryRecentIsACopy(t *testing.T) {
	h := NewHistory(10)
	h.Push(Result{Error: "first"})

	recent := h.Recent()
	recent[0].Error = "mutated"

	assert.Equal(t, "first", h.Recent()[0].Error)
}
