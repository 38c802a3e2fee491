// internal/license/keygen.go
package license

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"net"
	"os"
	"runtime"
	"sort"
	"time"

	"github.com/keygen-sh/keygen-go/v3"
	"go.uber.org/zap"
)

const minKeyLength = 8

var (
	ErrMissingKey = errors.New("license key is required")
	ErrShortKey   = errors.New("license key is too short")
	ErrExpired    = errors.New("license has expired")
)

// ValidateBasic проверяет формат ключа без обращения к Keygen.
func ValidateBasic(licenseKey string) error {
	switch {
	case licenseKey == "":
		return ErrMissingKey
	case len(licenseKey) < minKeyLength:
		return ErrShortKey
	}
	return nil
}

// KeygenValidator handles license validation using Keygen.sh
type KeygenValidator struct {
	logger    *zap.Logger
	accountID string
	productID string
}

// NewKeygenValidator creates a new Keygen license validator
func NewKeygenValidator(accountID, productToken, productID string, logger *zap.Logger) *KeygenValidator {
	keygen.Account = accountID
	keygen.Product = productID
	keygen.Token = productToken

	return &KeygenValidator{
		logger:    logger.Named("license"),
		accountID: accountID,
		productID: productID,
	}
}

// ValidateLicense validates a license key with Keygen, activating this
// machine on first use.
func (kv *KeygenValidator) ValidateLicense(ctx context.Context, licenseKey string) error {
	if err := ValidateBasic(licenseKey); err != nil {
		return err
	}
	kv.logger.Info("🔑 Validating license: " + licenseKey[:minKeyLength] + "...")

	fingerprint, err := Fingerprint()
	if err != nil {
		return fmt.Errorf("failed to generate machine fingerprint: %w", err)
	}

	keygen.LicenseKey = licenseKey
	lic, err := keygen.Validate(ctx, fingerprint)
	switch {
	case errors.Is(err, keygen.ErrLicenseNotActivated):
		kv.logger.Info("License not activated, attempting activation")
		machine, activateErr := lic.Activate(ctx, fingerprint)
		if activateErr != nil {
			return fmt.Errorf("failed to activate license: %w", activateErr)
		}
		kv.logger.Info("License activated successfully",
			zap.String("machine_id", machine.ID),
			zap.String("fingerprint", fingerprint))

	case errors.Is(err, keygen.ErrLicenseExpired):
		return ErrExpired

	case err != nil:
		return fmt.Errorf("license validation failed: %w", err)
	}

	if lic == nil {
		return fmt.Errorf("license not found")
	}

	kv.logger.Info("License validation successful", zap.String("license_id", lic.ID))
	return nil
}

// RunHeartbeat re-validates the license every interval until ctx is done.
// Failed heartbeats are logged; only an expired license stops the loop.
func (kv *KeygenValidator) RunHeartbeat(ctx context.Context, licenseKey string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			err := kv.heartbeat(ctx, licenseKey)
			if errors.Is(err, keygen.ErrLicenseExpired) {
				return ErrExpired
			}
			if err != nil && ctx.Err() == nil {
				kv.logger.Warn("License heartbeat failed", zap.Error(err))
			}
		}
	}
}

func (kv *KeygenValidator) heartbeat(ctx context.Context, licenseKey string) error {
	keygen.LicenseKey = licenseKey

	fingerprint, err := Fingerprint()
	if err != nil {
		return fmt.Errorf("failed to generate machine fingerprint: %w", err)
	}
	if _, err := keygen.Validate(ctx, fingerprint); err != nil {
		return fmt.Errorf("heartbeat failed: %w", err)
	}

	kv.logger.Debug("License heartbeat sent successfully")
	return nil
}

// Fingerprint хеширует hostname, первый MAC активного интерфейса и ОС.
func Fingerprint() (string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "", err
	}

	var macAddresses []string
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp != 0 && iface.Flags&net.FlagLoopback == 0 && len(iface.HardwareAddr) > 0 {
			macAddresses = append(macAddresses, iface.HardwareAddr.String())
		}
	}
	if len(macAddresses) == 0 {
		return "", fmt.Errorf("no network interfaces found")
	}
	sort.Strings(macAddresses)

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	data := fmt.Sprintf("%s-%s-%s", hostname, macAddresses[0], runtime.GOOS)
	return fmt.Sprintf("%x", sha256.Sum256([]byte(data))), nil
}
