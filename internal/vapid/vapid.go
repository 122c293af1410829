package vapid

import (
	"encoding/base64"
	"fmt"
	"strings"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/kursadbilgin/push-engine/pkg/pushclient"
	"go.uber.org/zap"
)

const privateKeyLength = 32

// KeyPair is the server's VAPID identity. It is built once at startup and shared.
type KeyPair struct {
	publicKey  string
	privateKey string
	subject    string
	generated  bool
}

// Load validates the configured key pair, or generates a fresh one when none is configured.
// Generated keys live only as long as the process, so clients must resubscribe after a restart.
func Load(publicKey, privateKey, subject string, logger *zap.Logger) (*KeyPair, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	publicKey = strings.TrimSpace(publicKey)
	privateKey = strings.TrimSpace(privateKey)
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return nil, fmt.Errorf("vapid subject is required")
	}

	generated := false
	switch {
	case publicKey == "" && privateKey == "":
		var err error
		privateKey, publicKey, err = webpush.GenerateVAPIDKeys()
		if err != nil {
			return nil, fmt.Errorf("failed to generate vapid keys: %w", err)
		}
		generated = true
		logger.Warn("no VAPID keys configured, generated an ephemeral pair; existing subscriptions will stop working after restart",
			zap.String("publicKey", publicKey),
		)
	case publicKey == "" || privateKey == "":
		return nil, fmt.Errorf("vapid public and private keys must be configured together")
	}

	if _, err := pushclient.ToRawKey(publicKey); err != nil {
		return nil, fmt.Errorf("invalid vapid public key: %w", err)
	}
	if err := validatePrivateKey(privateKey); err != nil {
		return nil, err
	}

	return &KeyPair{
		publicKey:  publicKey,
		privateKey: privateKey,
		subject:    subject,
		generated:  generated,
	}, nil
}

// PublicKey is the base64url application server key handed to browsers.
func (k *KeyPair) PublicKey() string { return k.publicKey }

func (k *KeyPair) PrivateKey() string { return k.privateKey }

func (k *KeyPair) Subject() string { return k.subject }

// Generated reports whether the pair was created at startup rather than configured.
func (k *KeyPair) Generated() bool { return k.generated }

func validatePrivateKey(key string) error {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(key, "="))
	if err != nil {
		return fmt.Errorf("invalid vapid private key: not base64url: %w", err)
	}
	if len(raw) != privateKeyLength {
		return fmt.Errorf("invalid vapid private key: decoded %d bytes, want %d", len(raw), privateKeyLength)
	}
	return nil
}
