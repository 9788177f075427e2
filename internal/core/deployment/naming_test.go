package deployment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResourceNames(t *testing.T) {
	assert.Equal(t, "drydock_ab12cd34", NetworkName("ab12cd34"))
	assert.Equal(t, "drydock_ab12cd34_pgdata", VolumeName("ab12cd34", "pgdata"))
	assert.Equal(t, "drydock_ab12cd34_db", ContainerName("ab12cd34", "db"))
	assert.Equal(t, "drydock/ab12cd34-app:latest", ImageTag("ab12cd34", "app"))
}

func TestNewID(t *testing.T) {
	id := NewID()
	assert.Len(t, id, 8)
	assert.NotEqual(t, id, NewID())
}
