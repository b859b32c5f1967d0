package crypto

import "testing"

// TestKeyGenAndAddress verifies that key generation and address derivation work.
func TestKeyGenAndAddress(t *testing.T) {
	priv, pub, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	if len(pub.Hex()) != 64 {
		t.Errorf("pubkey hex length: got %d want 64", len(pub.Hex()))
	}
	if len(pub.Address()) != 40 {
		t.Errorf("address length: got %d want 40", len(pub.Address()))
	}
	if priv.Public().Hex() != pub.Hex() {
		t.Error("derived public key does not match")
	}
}

// TestSignVerify ensures Sign/Verify round-trips correctly.
func TestSignVerify(t *testing.T) {
	priv, pub, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	data := []byte("hello vision")
	sig := Sign(priv, data)
	if err := Verify(pub, data, sig); err != nil {
		t.Errorf("valid signature failed: %v", err)
	}
	if err := Verify(pub, []byte("tampered"), sig); err == nil {
		t.Error("tampered data should fail verification")
	}
}

func TestFingerprintRoundTrip(t *testing.T) {
	fp := Hash([]byte("fingerprint me"))
	if !IsFingerprintHex(fp) {
		t.Fatalf("hash output %q is not fingerprint hex", fp)
	}
	raw, err := FingerprintToBytes(fp)
	if err != nil {
		t.Fatal(err)
	}
	if FingerprintFromBytes(raw) != fp {
		t.Error("fingerprint round trip failed")
	}
}

func TestFingerprintRejectsMalformed(t *testing.T) {
	for _, bad := range []string{"", "zz", Hash([]byte("x")) + "aa", Hash([]byte("x"))[:62]} {
		if IsFingerprintHex(bad) {
			t.Errorf("%q should not be fingerprint hex", bad)
		}
		if _, err := FingerprintToBytes(bad); err == nil {
			t.Errorf("%q should not decode", bad)
		}
	}
}
