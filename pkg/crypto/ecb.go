// Package crypto implements the AES-256-ECB payload encryption used
// between session transport and the RTP pipeline. Confidentiality here is
// deliberately not SRTP (see pkg/rtpwire and DESIGN.md): only the RTP
// payload is encrypted, the header stays in clear so sequence numbers and
// the splitter/collector CRC extension remain readable in transit.
//
// Go's crypto/cipher intentionally does not expose an ECB mode (it's
// unauthenticated and leaks block-level plaintext structure), and no
// third-party ECB package exists anywhere in the example pack, so this
// applies crypto/aes's block cipher directly, one block at a time, the
// way the original engine's EVP_aes_256_ecb() calls did. Grounded on
// original_source/Engine/Crypto/Encryptor.cpp and Decryptor.cpp.
package crypto

import (
	"crypto/aes"
	"fmt"
)

const keySize = 32 // AES-256

// Encryptor encrypts RTP payloads under AES-256-ECB with PKCS#7 padding
// into a newly allocated ciphertext, matching OpenSSL's EVP default padding behavior. Not safe for
// concurrent use by multiple goroutines.
type Encryptor struct {
	running bool
	block   interface {
		Encrypt(dst, src []byte)
		BlockSize() int
	}
}

// NewEncryptor constructs an Encryptor. The key must be exactly 32 bytes.
func NewEncryptor(key []byte) (*Encryptor, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("crypto: AES-256 key must be %d bytes, got %d", keySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new AES cipher: %w", err)
	}
	return &Encryptor{running: true, block: block}, nil
}

// Stop disables the encryptor; Encrypt becomes a no-op returning the
// plaintext unchanged until Start is called again.
func (e *Encryptor) Stop() { e.running = false }

// Start re-enables the encryptor.
func (e *Encryptor) Start() { e.running = true }

// Started reports whether the encryptor will transform payloads.
func (e *Encryptor) Started() bool { return e.running }

// Encrypt PKCS#7-pads and encrypts payload, returning a newly allocated
// ciphertext. If the encryptor is stopped, it returns payload unchanged.
func (e *Encryptor) Encrypt(payload []byte) []byte {
	if !e.running {
		return payload
	}

	blockSize := e.block.BlockSize()
	padded := pkcs7Pad(payload, blockSize)

	out := make([]byte, len(padded))
	for i := 0; i < len(padded); i += blockSize {
		e.block.Encrypt(out[i:i+blockSize], padded[i:i+blockSize])
	}
	return out
}

// Decryptor decrypts RTP payloads previously produced by an Encryptor with
// the same key.
type Decryptor struct {
	running bool
	block   interface {
		Decrypt(dst, src []byte)
		BlockSize() int
	}
}

// NewDecryptor constructs a Decryptor. The key must be exactly 32 bytes.
func NewDecryptor(key []byte) (*Decryptor, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("crypto: AES-256 key must be %d bytes, got %d", keySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new AES cipher: %w", err)
	}
	return &Decryptor{running: true, block: block}, nil
}

// Stop disables the decryptor; Decrypt becomes a no-op returning the
// ciphertext unchanged until Start is called again.
func (d *Decryptor) Stop() { d.running = false }

// Start re-enables the decryptor.
func (d *Decryptor) Start() { d.running = true }

// Started reports whether the decryptor will transform payloads.
func (d *Decryptor) Started() bool { return d.running }

// Decrypt reverses Encrypt. A malformed ciphertext (bad length or bad
// padding) is a protocol error: the caller should drop the packet rather
// than treat the output as valid media, per spec's hardening policy for
// hostile or corrupted peer input.
func (d *Decryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	if !d.running {
		return ciphertext, nil
	}

	blockSize := d.block.BlockSize()
	if len(ciphertext) == 0 || len(ciphertext)%blockSize != 0 {
		return nil, fmt.Errorf("crypto: ciphertext length %d is not a multiple of block size %d", len(ciphertext), blockSize)
	}

	out := make([]byte, len(ciphertext))
	for i := 0; i < len(ciphertext); i += blockSize {
		d.block.Decrypt(out[i:i+blockSize], ciphertext[i:i+blockSize])
	}

	return pkcs7Unpad(out, blockSize)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padded := make([]byte, len(data)+padLen)
	copy(padded, data)
	for i := len(data); i < len(padded); i++ {
		padded[i] = byte(padLen)
	}
	return padded
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("crypto: cannot unpad empty data")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, fmt.Errorf("crypto: invalid PKCS#7 padding")
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, fmt.Errorf("crypto: invalid PKCS#7 padding")
		}
	}
	return data[:len(data)-padLen], nil
}
