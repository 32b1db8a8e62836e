// ABOUTME: In-memory Provider implementation for testing
// ABOUTME: Holds a fixed device table and records control calls

package devices

import (
	"context"
	"sync"

	"github.com/2389/ewelink-gateway/internal/store"
)

// MockProvider is an in-memory Provider for tests.
type MockProvider struct {
	mu       sync.Mutex
	devices  map[string]*Device
	order    []string
	controls []ControlCall

	// Err, when set, is returned by every call.
	Err error
	// PanicOn, when set, makes calls for that device id panic.
	PanicOn string
}

// ControlCall records one Control invocation.
type ControlCall struct {
	PrincipalID string
	DeviceID    string
	Params      map[string]any
}

var _ Provider = (*MockProvider)(nil)

// NewMockProvider creates a provider serving the given devices.
func NewMockProvider(devices ...Device) *MockProvider {
	m := &MockProvider{devices: make(map[string]*Device)}
	for _, d := range devices {
		c := d
		m.devices[d.ID] = &c
		m.order = append(m.order, d.ID)
	}
	return m
}

func (m *MockProvider) check(id string) error {
	if m.PanicOn != "" && id == m.PanicOn {
		panic("mock provider panic for " + id)
	}
	return m.Err
}

// ListDevices implements Provider.
func (m *MockProvider) ListDevices(ctx context.Context, cred *store.DeviceCredential) ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(""); err != nil {
		return nil, err
	}
	out := make([]Device, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, *m.devices[id])
	}
	return out, nil
}

// GetDevice implements Provider.
func (m *MockProvider) GetDevice(ctx context.Context, cred *store.DeviceCredential, id string) (*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(id); err != nil {
		return nil, err
	}
	d, ok := m.devices[id]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	c := *d
	return &c, nil
}

// GetStatus implements Provider.
func (m *MockProvider) GetStatus(ctx context.Context, cred *store.DeviceCredential, id string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(id); err != nil {
		return nil, err
	}
	d, ok := m.devices[id]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	params := make(map[string]any, len(d.Params))
	for k, v := range d.Params {
		params[k] = v
	}
	return params, nil
}

// Control implements Provider and applies params to the stored device.
func (m *MockProvider) Control(ctx context.Context, cred *store.DeviceCredential, id string, params map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(id); err != nil {
		return err
	}
	d, ok := m.devices[id]
	if !ok {
		return ErrDeviceNotFound
	}
	if d.Params == nil {
		d.Params = make(map[string]any)
	}
	for k, v := range params {
		d.Params[k] = v
	}
	principal := ""
	if cred != nil {
		principal = cred.PrincipalID
	}
	m.controls = append(m.controls, ControlCall{PrincipalID: principal, DeviceID: id, Params: params})
	return nil
}

// Controls returns the recorded Control calls.
func (m *MockProvider) Controls() []ControlCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ControlCall(nil), m.controls...)
}
