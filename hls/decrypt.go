package hls

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"sync"

	"github.com/pahedl-app/pahedl/errs"
	"github.com/pahedl-app/pahedl/log"
	"github.com/pahedl-app/pahedl/network"
)

// Decryptor performs AES-128-CBC segment decryption with a lazy,
// process-local key cache keyed by absolute URI. One Decryptor serves one
// playlist; the cache does not outlive it.
type Decryptor struct {
	host *network.Host

	mu   sync.Mutex
	keys map[string][]byte
}

// NewDecryptor constructs a decryptor fetching keys through the given host client.
func NewDecryptor(host *network.Host) *Decryptor {
	return &Decryptor{
		host: host,
		keys: make(map[string][]byte),
	}
}

// Key returns the 16-byte key for the given URI, fetching it at most once.
// The lock is held across the fetch, so concurrent workers that miss the
// cache wait for the first fetch instead of issuing their own.
func (d *Decryptor) Key(ctx context.Context, uri string) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if key, ok := d.keys[uri]; ok {
		return key, nil
	}

	body, _, err := d.host.GetBytes(ctx, uri, "")
	if err != nil {
		return nil, errs.Wrap(errs.DecryptionError, err)
	}
	if len(body) != 16 {
		return nil, errs.New(errs.DecryptionError, "key at %s is %d bytes, want 16", uri, len(body))
	}

	log.Debugf("cached decryption key from %s", uri)
	d.keys[uri] = body
	return body, nil
}

// DecryptSegment decrypts one segment buffer using the playlist key. The IV
// is the KeyInfo-declared one, or the big-endian segment index when absent.
func (d *Decryptor) DecryptSegment(ctx context.Context, data []byte, key KeyInfo, index int) ([]byte, error) {
	keyBytes, err := d.Key(ctx, key.URI)
	if err != nil {
		return nil, err
	}

	iv := key.IV
	if iv == nil {
		iv = DefaultIV(index)
	}
	return Decrypt(data, keyBytes, iv)
}

// Decrypt performs AES-128-CBC decryption with PKCS#7 unpadding over the
// whole buffer.
func Decrypt(data, key, iv []byte) ([]byte, error) {
	if len(key) != 16 {
		return nil, errs.New(errs.DecryptionError, "key is %d bytes, want 16", len(key))
	}
	if len(iv) != aes.BlockSize {
		return nil, errs.New(errs.DecryptionError, "IV is %d bytes, want %d", len(iv), aes.BlockSize)
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, errs.New(errs.DecryptionError, "ciphertext length %d is not a positive multiple of %d", len(data), aes.BlockSize)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errs.Wrap(errs.DecryptionError, err)
	}

	plain := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, data)

	return unpad(plain)
}

// unpad strips and validates PKCS#7 padding.
func unpad(data []byte) ([]byte, error) {
	n := int(data[len(data)-1])
	if n == 0 || n > aes.BlockSize || n > len(data) {
		return nil, errs.New(errs.DecryptionError, "bad padding length %d", n)
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errs.New(errs.DecryptionError, "inconsistent padding")
		}
	}
	return data[:len(data)-n], nil
}
