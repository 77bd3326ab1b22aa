package security

import (
	"bytes"
	"encoding/base64"
	"testing"

	"github.com/pixelrelay/pixelrelay-backend/pkg/config"
)

func testKey(b byte) string {
	raw := bytes.Repeat([]byte{b}, 32)
	return base64.StdEncoding.EncodeToString(raw)
}

func TestCodecRoundTrip(t *testing.T) {
	codec, err := NewCodec(config.SecurityConfig{EncryptionKey: testKey(1)})
	if err != nil {
		t.Fatalf("unexpected codec error: %v", err)
	}

	plaintext := []byte(`{"em":"hashed"}`)
	sealed, err := codec.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("unexpected encrypt error: %v", err)
	}
	if bytes.Contains(sealed, plaintext) {
		t.Fatal("ciphertext contains plaintext")
	}

	opened, err := codec.Decrypt(sealed)
	if err != nil {
		t.Fatalf("unexpected decrypt error: %v", err)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("round trip mismatch: %q", opened)
	}
}

func TestCodecWrongKey(t *testing.T) {
	first, _ := NewCodec(config.SecurityConfig{EncryptionKey: testKey(1)})
	second, _ := NewCodec(config.SecurityConfig{EncryptionKey: testKey(2)})

	sealed, err := first.Encrypt([]byte("credential"))
	if err != nil {
		t.Fatalf("unexpected encrypt error: %v", err)
	}
	if _, err := second.Decrypt(sealed); err == nil {
		t.Fatal("expected decrypt failure with wrong key")
	}
}

func TestCodecJSONRoundTrip(t *testing.T) {
	codec, _ := NewCodec(config.SecurityConfig{EncryptionKey: testKey(3)})

	in := map[string]string{"em": "a", "ph": "b"}
	sealed, err := codec.EncryptJSON(in)
	if err != nil {
		t.Fatalf("unexpected encrypt error: %v", err)
	}

	var out map[string]string
	if err := codec.DecryptJSON(sealed, &out); err != nil {
		t.Fatalf("unexpected decrypt error: %v", err)
	}
	if out["em"] != "a" || out["ph"] != "b" {
		t.Fatalf("unexpected payload: %v", out)
	}
}

func TestNewCodecRejectsBadKey(t *testing.T) {
	if _, err := NewCodec(config.SecurityConfig{EncryptionKey: "not-base64!!"}); err == nil {
		t.Fatal("expected error for invalid base64")
	}
	short := base64.StdEncoding.EncodeToString([]byte("short"))
	if _, err := NewCodec(config.SecurityConfig{EncryptionKey: short}); err == nil {
		t.Fatal("expected error for short key")
	}
}
