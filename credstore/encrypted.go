package credstore

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrDecryptFailed is returned when a sealed credentials file cannot be opened
// with the configured key and profile.
var ErrDecryptFailed = errors.New("credentials decrypt failed")

// sealedCodec seals documents with XChaCha20-Poly1305. The on-disk layout is
// nonce || ciphertext; the profile name is bound as additional data so a file
// copied between profiles does not open.
type sealedCodec struct {
	key [32]byte
	aad []byte
}

func (s sealedCodec) encode(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key[:])
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, s.aad), nil
}

func (s sealedCodec) decode(data []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key[:])
	if err != nil {
		return nil, err
	}
	if len(data) < chacha20poly1305.NonceSizeX+aead.Overhead() {
		return nil, ErrDecryptFailed
	}
	nonce, ct := data[:chacha20poly1305.NonceSizeX], data[chacha20poly1305.NonceSizeX:]
	plain, err := aead.Open(nil, nonce, ct, s.aad)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plain, nil
}

// NewEncryptedFile returns a file backend whose document is sealed with key.
func NewEncryptedFile(path string, key [32]byte, profile string) *File {
	return &File{
		path: path,
		codec: sealedCodec{
			key: key,
			aad: []byte("authclient/credentials/" + profile),
		},
	}
}
