package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jmcleod/ironsession/internal/uuid"
	"github.com/jmcleod/ironsession/storage"
)

// IdentityResolver supplies the user or device identity the issuer
// authenticates.
type IdentityResolver interface {
	Identity(ctx context.Context) (string, error)
}

// StaticIdentity is a fixed identity.
type StaticIdentity string

func (s StaticIdentity) Identity(context.Context) (string, error) {
	if err := validateIdentity(string(s), "identity"); err != nil {
		return "", err
	}
	return string(s), nil
}

const (
	deviceNamespace  = "__device"
	deviceRecordType = "IDENTITY"
	deviceRecordID   = "device"
)

// DeviceIdentity is a random identifier created once per repository and
// reused afterwards. Concurrent first use from several processes converges
// on a single value.
type DeviceIdentity struct {
	repo storage.Repository

	mu     sync.Mutex
	cached string
}

// NewDeviceIdentity returns a resolver persisting the device id in repo.
func NewDeviceIdentity(repo storage.Repository) *DeviceIdentity {
	return &DeviceIdentity{repo: repo}
}

func (d *DeviceIdentity) Identity(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cached != "" {
		return d.cached, nil
	}

	id, err := d.load(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		id = uuid.New()
		err = d.repo.PutIfAbsent(ctx, deviceNamespace, deviceRecordType, deviceRecordID, []byte(id))
		if errors.Is(err, storage.ErrExists) {
			id, err = d.load(ctx)
		}
	}
	if err != nil {
		return "", fmt.Errorf("resolving device identity: %w", err)
	}
	if !uuid.Valid(id) {
		return "", fmt.Errorf("%w: stored device identity is not a UUID", ErrCorruptRecord)
	}
	d.cached = id
	return id, nil
}

// Forget drops the in-memory binding; the next call rereads the repository.
func (d *DeviceIdentity) Forget() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cached = ""
}

func (d *DeviceIdentity) load(ctx context.Context) (string, error) {
	data, err := d.repo.Get(ctx, deviceNamespace, deviceRecordType, deviceRecordID)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
