// Custom validation tag tests in Carewire.

package validations

import (
	"Carewire/pkg/log"
	"context"
	"testing"

	"github.com/asaskevich/govalidator"
	"github.com/stretchr/testify/assert"
)

func TestMain(m *testing.M) {
	RegisterCustomValidations(context.Background(), log.New("test"))
	m.Run()
}

func TestNoSpaceTag(t *testing.T) {
	validator := govalidator.TagMap["nospace"]
	assert.True(t, validator("patient-service"))
	assert.False(t, validator("patient service"))
	assert.False(t, validator("tabs\there"))
}

func TestRoomKeyTag(t *testing.T) {
	validator := govalidator.TagMap["roomkey"]
	assert.True(t, validator("patient-123"))
	assert.True(t, validator("patient_123"))
	assert.False(t, validator(""))
	assert.False(t, validator("patient 123"))
	assert.False(t, validator("patient/123"))
	assert.False(t, validator("patient:123"))
}

func TestEventNameTag(t *testing.T) {
	validator := govalidator.TagMap["eventname"]
	assert.True(t, validator("joinPatientRoom"))
	assert.True(t, validator("fileAdded"))
	assert.True(t, validator("disconnect_info"))
	assert.False(t, validator(""))
	assert.False(t, validator("9starts-with-digit"))
	assert.False(t, validator("has space"))
}
