package substrate

import (
	"fmt"
	"strings"

	"github.com/centrifuge/go-substrate-rpc-client/v4/signature"
	"github.com/vedhavyas/go-subkey/v2"
)

// Identity is an sr25519 signing keypair. It is immutable once derived and
// safe to share between concurrent pipelines.
type Identity struct {
	address   string
	publicKey []byte
	prefix    uint16
	keyring   signature.KeyringPair
}

// DeriveIdentity derives the signing identity from a secret phrase. The
// phrase may be a BIP-39 mnemonic, a 0x-prefixed seed, or either of those
// followed by a derivation path. The same phrase and prefix always produce
// the same address.
func DeriveIdentity(secretPhrase string, ss58Prefix uint16) (*Identity, error) {
	if strings.TrimSpace(secretPhrase) == "" {
		return nil, fmt.Errorf("%w: phrase is empty", ErrInvalidPhrase)
	}

	kp, err := signature.KeyringPairFromSecret(secretPhrase, ss58Prefix)
	if err != nil {
		// the underlying error can echo the phrase, so it is not wrapped
		return nil, fmt.Errorf("%w: phrase does not decode to a key", ErrInvalidPhrase)
	}

	pub := make([]byte, len(kp.PublicKey))
	copy(pub, kp.PublicKey)

	return &Identity{
		address:   kp.Address,
		publicKey: pub,
		prefix:    ss58Prefix,
		keyring:   kp,
	}, nil
}

// Address returns the SS58 address of the identity.
func (i *Identity) Address() string {
	return i.address
}

// PublicKey returns a copy of the 32-byte public key.
func (i *Identity) PublicKey() []byte {
	out := make([]byte, len(i.publicKey))
	copy(out, i.publicKey)
	return out
}

// Prefix returns the SS58 network prefix the address was encoded with.
func (i *Identity) Prefix() uint16 {
	return i.prefix
}

// KeyringPair exposes the signing keypair to Connection implementations.
func (i *Identity) KeyringPair() signature.KeyringPair {
	return i.keyring
}

// String never prints key material.
func (i *Identity) String() string {
	return i.address
}

// ValidateAddress checks that address is a well-formed SS58 address.
func ValidateAddress(address string) error {
	_, err := PublicKeyFromAddress(address)
	return err
}

// ValidateAddressFor checks that address is well-formed and encoded for the
// network identified by prefix.
func ValidateAddressFor(address string, prefix uint16) error {
	network, _, err := DecodeAddress(address)
	if err != nil {
		return err
	}
	if network != prefix {
		return fmt.Errorf("%w: %q is encoded for network %d, signer uses %d",
			ErrInvalidAddress, address, network, prefix)
	}
	return nil
}

// PublicKeyFromAddress decodes an SS58 address into its 32-byte public key.
func PublicKeyFromAddress(address string) ([]byte, error) {
	_, pub, err := DecodeAddress(address)
	return pub, err
}

// DecodeAddress returns the network prefix and 32-byte public key of an
// SS58 address.
func DecodeAddress(address string) (uint16, []byte, error) {
	if strings.TrimSpace(address) == "" {
		return 0, nil, fmt.Errorf("%w: address is empty", ErrInvalidAddress)
	}
	network, pub, err := subkey.SS58Decode(address)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %q: %w", ErrInvalidAddress, address, err)
	}
	if len(pub) != 32 {
		return 0, nil, fmt.Errorf("%w: %q decodes to %d bytes, want 32", ErrInvalidAddress, address, len(pub))
	}
	return network, pub, nil
}
