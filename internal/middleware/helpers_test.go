package middleware

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, maskEmail("jane.doe@x.com"), "j*******@x.com")
}

func TestMaskPhoneKeepsLastFour(t *testing.T) {
	assert.Equal(t, maskPhone("+15551234567"), "********4567")
}

func TestTruncateYear(t *testing.T) {
	assert.Equal(t, truncateYear("1990-04-12T00:00:00Z"), "1990")
	assert.Equal(t, truncateYear("not-a-date"), "not-a-date")
}
