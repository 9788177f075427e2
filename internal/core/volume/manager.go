// Package volume tracks named persistent volumes for one deployment.
// A volume is bound to a single owning service, survives container
// recreation, and is deleted only by an explicit purge.
package volume

import (
	"errors"
	"fmt"
	"sort"
)

// =============================================================================
// Error Types
// =============================================================================

// ErrVolumeNotFound is returned when purging a volume that was never ensured.
var ErrVolumeNotFound = errors.New("volume not found")

// VolumeOwnerConflictError reports a volume name requested with a different
// owning service than the one it was created with.
type VolumeOwnerConflictError struct {
	Name      string
	Owner     string // service that owns the volume
	Requested string // service that tried to claim it
}

func (e *VolumeOwnerConflictError) Error() string {
	return fmt.Sprintf("volume %s is owned by %s, requested by %s", e.Name, e.Owner, e.Requested)
}

// =============================================================================
// Types
// =============================================================================

// Volume is a named persistent volume bound to one service.
type Volume struct {
	Name      string
	Owner     string // owning service identifier
	MountPath string // container mount path
}

// =============================================================================
// Manager
// =============================================================================

// Manager is the volume registry for one deployment. Not safe for
// concurrent use; the orchestrator owns it for the duration of one
// up/down call.
type Manager struct {
	volumes map[string]Volume
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{volumes: make(map[string]Volume)}
}

// Ensure registers a volume. Calling twice with identical arguments returns
// the same logical volume without duplication. Requesting an existing name
// with a different owner fails with VolumeOwnerConflictError.
func (m *Manager) Ensure(name, ownerServiceID, mountPath string) (Volume, error) {
	if existing, ok := m.volumes[name]; ok {
		if existing.Owner != ownerServiceID {
			return Volume{}, &VolumeOwnerConflictError{
				Name:      name,
				Owner:     existing.Owner,
				Requested: ownerServiceID,
			}
		}
		return existing, nil
	}
	vol := Volume{Name: name, Owner: ownerServiceID, MountPath: mountPath}
	m.volumes[name] = vol
	return vol, nil
}

// Purge removes a volume from the registry. The caller is responsible for
// destroying the persisted data; that removal is irreversible.
func (m *Manager) Purge(name string) error {
	if _, ok := m.volumes[name]; !ok {
		return fmt.Errorf("%w: %s", ErrVolumeNotFound, name)
	}
	delete(m.volumes, name)
	return nil
}

// Get returns a registered volume.
func (m *Manager) Get(name string) (Volume, bool) {
	vol, ok := m.volumes[name]
	return vol, ok
}

// List returns all registered volumes, sorted by name.
func (m *Manager) List() []Volume {
	out := make([]Volume, 0, len(m.volumes))
	for _, vol := range m.volumes {
		out = append(out, vol)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
