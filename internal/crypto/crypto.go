// Package crypto wraps the OpenPGP operations used by the local
// anonymization jobs: loading a recipient public key from the resource
// directory and producing ASCII-armored ciphertext.
package crypto

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
)

// ReadKey loads a PGP key ring from a file. Both armored and binary key
// files are accepted.
func ReadKey(path string) (openpgp.EntityList, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pgp key %s: %w", path, err)
	}

	if entities, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(raw)); err == nil {
		return entities, nil
	}
	entities, err := openpgp.ReadKeyRing(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse pgp key %s: %w", path, err)
	}
	return entities, nil
}

// ReadKeyFromDir loads a key by filename from the key resource directory.
func ReadKeyFromDir(dir, filename string) (openpgp.EntityList, error) {
	return ReadKey(filepath.Join(dir, filename))
}

// Encrypt encrypts a value for the given recipients and returns the
// ASCII-armored message.
func Encrypt(value string, recipients openpgp.EntityList) (string, error) {
	var buf bytes.Buffer
	armored, err := armor.Encode(&buf, "PGP MESSAGE", nil)
	if err != nil {
		return "", fmt.Errorf("armor pgp message: %w", err)
	}
	plaintext, err := openpgp.Encrypt(armored, recipients, nil, nil, nil)
	if err != nil {
		return "", fmt.Errorf("encrypt pgp message: %w", err)
	}
	if _, err := plaintext.Write([]byte(value)); err != nil {
		return "", fmt.Errorf("write pgp message: %w", err)
	}
	if err := plaintext.Close(); err != nil {
		return "", fmt.Errorf("close pgp message: %w", err)
	}
	if err := armored.Close(); err != nil {
		return "", fmt.Errorf("close armor: %w", err)
	}
	return buf.String(), nil
}
