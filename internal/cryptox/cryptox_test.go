package cryptox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalJSON_SortsKeysAndCompacts(t *testing.T) {
	a, err := CanonicalJSON(map[string]any{"b": 1, "a": []any{"x", true, nil}, "c": map[string]any{"z": "1", "y": "2"}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":["x",true,null],"b":1,"c":{"y":"2","z":"1"}}`, string(a))
}

func TestCanonicalJSON_StructAndMapAgree(t *testing.T) {
	type payload struct {
		Zeta  string `json:"zeta"`
		Alpha string `json:"alpha"`
	}
	fromStruct, err := CanonicalJSON(payload{Zeta: "z", Alpha: "a"})
	require.NoError(t, err)
	fromMap, err := CanonicalJSON(map[string]string{"alpha": "a", "zeta": "z"})
	require.NoError(t, err)
	assert.Equal(t, fromMap, fromStruct)
}

func TestCanonicalJSON_ASCIISafe(t *testing.T) {
	b, err := CanonicalJSON(map[string]string{"name": "Adjoa é <b>\n😀"})
	require.NoError(t, err)
	assert.Equal(t, `{"name":"Adjoa \u00e9 <b>\n\ud83d\ude00"}`, string(b))
}

func TestCanonicalJSON_PreservesNumberText(t *testing.T) {
	b, err := CanonicalJSON(map[string]any{"n": 10.5, "i": 7})
	require.NoError(t, err)
	assert.Equal(t, `{"i":7,"n":10.5}`, string(b))
}

func TestCanonicalJSON_Unsupported(t *testing.T) {
	_, err := CanonicalJSON(func() {})
	require.Error(t, err)
}

func TestSHA256Hex(t *testing.T) {
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		SHA256Hex(nil))
}

func TestHMACSHA256Hex_RoundTrip(t *testing.T) {
	sig := HMACSHA256Hex([]byte("k"), "msg")
	assert.Len(t, sig, 64)
	assert.True(t, VerifyHMACSHA256Hex([]byte("k"), "msg", sig))
	assert.False(t, VerifyHMACSHA256Hex([]byte("other"), "msg", sig))
	assert.False(t, VerifyHMACSHA256Hex([]byte("k"), "msg2", sig))
	assert.False(t, VerifyHMACSHA256Hex([]byte("k"), "msg", "not-hex"))
}

func TestDeriveID_StableAndScoped(t *testing.T) {
	a := DeriveID("tontine", "g1:escrow")
	b := DeriveID("tontine", "g1:escrow")
	c := DeriveID("tontine", "g1:commission")
	d := DeriveID("user", "g1:escrow")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.NotEqual(t, a, d)
	assert.Len(t, a, 36)
}
