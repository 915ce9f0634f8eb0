package notifications

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutbox(t *testing.T) {
	fixed := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	o := NewOutbox()
	o.now = func() time.Time { return fixed }

	first := o.Add(AudienceReviewers, "c1", "c1 submitted for review")
	o.Add("alice", "c1", "c1 approved")

	_, err := uuid.Parse(first.ID)
	require.NoError(t, err)
	assert.Equal(t, fixed, first.Timestamp)

	list := o.List()
	require.Len(t, list, 2)
	assert.Equal(t, AudienceReviewers, list[0].UserID)
	assert.Equal(t, "alice", list[1].UserID)

	list[0].Message = "changed"
	assert.Equal(t, "c1 submitted for review", o.List()[0].Message)

	o.Clear()
	assert.Empty(t, o.List())
}

func TestOutbox_Drain(t *testing.T) {
	o := NewOutbox()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.Add(AudienceSubscribers, "c2", "c2 published")
		}()
	}
	wg.Wait()

	assert.Len(t, o.Drain(), 20)
	assert.Empty(t, o.Drain())
}
