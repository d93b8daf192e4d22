package cron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewCronScheduler(t *testing.T) {
	scheduler := NewCronScheduler("America/Toronto")
	assert.Equal(t, "America/Toronto", scheduler.Location().String())

	scheduler = NewCronScheduler("Not/AZone")
	assert.Equal(t, time.UTC, scheduler.Location())

	_, err := scheduler.Every(1).Minute().Tag("tick").Do(func() {})
	assert.Nil(t, err)

	_, err = scheduler.Every(1).Minute().Tag("tick").Do(func() {})
	assert.NotNil(t, err, "tags are unique")
}
