// ABOUTME: Device capability types and the Provider contract used by MCP tools
// ABOUTME: Defines Device, APIError and the not-linked sentinel

package devices

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/ewelink-gateway/internal/store"
)

// ErrNotLinked is returned when a principal has no device cloud credential.
var ErrNotLinked = errors.New("eWeLink account not connected")

// ErrDeviceNotFound is returned when the device cloud does not know a device id.
var ErrDeviceNotFound = errors.New("device not found")

// Device is a smart-home device as reported by the device cloud.
type Device struct {
	ID       string         `json:"deviceId"`
	Name     string         `json:"name"`
	Brand    string         `json:"brand,omitempty"`
	Model    string         `json:"model,omitempty"`
	Online   bool           `json:"online"`
	FamilyID string         `json:"familyId,omitempty"`
	Params   map[string]any `json:"params,omitempty"`
}

// Provider lists, inspects and controls devices on behalf of a credential.
// Timeouts and retries belong to the implementation.
type Provider interface {
	ListDevices(ctx context.Context, cred *store.DeviceCredential) ([]Device, error)
	GetDevice(ctx context.Context, cred *store.DeviceCredential, id string) (*Device, error)
	Control(ctx context.Context, cred *store.DeviceCredential, id string, params map[string]any) error
	GetStatus(ctx context.Context, cred *store.DeviceCredential, id string) (map[string]any, error)
}

// APIError is a non-zero error code returned by the device cloud.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("eWeLink API error %d", e.Code)
	}
	return fmt.Sprintf("eWeLink API error %d: %s", e.Code, e.Message)
}

// CredentialSource loads the device cloud credential for a principal.
type CredentialSource interface {
	GetDeviceCredential(ctx context.Context, principalID string) (*store.DeviceCredential, error)
}

// LookupCredential returns the principal's credential or ErrNotLinked.
func LookupCredential(ctx context.Context, src CredentialSource, principalID string) (*store.DeviceCredential, error) {
	if src == nil {
		return nil, ErrNotLinked
	}
	cred, err := src.GetDeviceCredential(ctx, principalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotLinked
		}
		return nil, fmt.Errorf("loading device credential: %w", err)
	}
	if cred.AccessToken == "" && cred.RefreshToken == "" {
		return nil, ErrNotLinked
	}
	return cred, nil
}

// Unconfigured is the Provider used when no eWeLink app is configured.
// Every call reports ErrNotLinked.
type Unconfigured struct{}

var _ Provider = Unconfigured{}

func (Unconfigured) ListDevices(context.Context, *store.DeviceCredential) ([]Device, error) {
	return nil, ErrNotLinked
}

func (Unconfigured) GetDevice(context.Context, *store.DeviceCredential, string) (*Device, error) {
	return nil, ErrNotLinked
}

func (Unconfigured) Control(context.Context, *store.DeviceCredential, string, map[string]any) error {
	return ErrNotLinked
}

func (Unconfigured) GetStatus(context.Context, *store.DeviceCredential, string) (map[string]any, error) {
	return nil, ErrNotLinked
}
