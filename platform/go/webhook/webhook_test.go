package webhook

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignAndVerify(t *testing.T) {
	payload := []byte(`{"event":"checkout.completed"}`)
	sig := Sign(payload, "s3cret")

	require.True(t, VerifySignature(payload, sig, "s3cret"))
	require.True(t, VerifySignature(payload, sig[len("sha256="):], "s3cret"))
	require.False(t, VerifySignature(payload, sig, "other"))
	require.False(t, VerifySignature([]byte(`{}`), sig, "s3cret"))
	require.False(t, VerifySignature(payload, "", "s3cret"))
	require.False(t, VerifySignature(payload, sig, ""))
	require.False(t, VerifySignature(payload, "sha256=zz", "s3cret"))
}

const eventSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["event", "ids"],
  "properties": {
    "event": {"const": "checkout.completed"},
    "ids": {"type": "array", "minItems": 1, "items": {"type": "string", "format": "uuid"}}
  }
}`

func TestSchemaValidator(t *testing.T) {
	v := NewSchemaValidator()
	require.NoError(t, v.Register("event", []byte(eventSchema)))

	require.NoError(t, v.Validate("event", []byte(`{"event":"checkout.completed","ids":["6f1c4a4e-3f0b-4b7e-9a7e-2d7c1f1d3a10"]}`)))
	require.Error(t, v.Validate("event", []byte(`{"event":"refund","ids":["x"]}`)))
	require.Error(t, v.Validate("event", []byte(`{"event":"checkout.completed","ids":[]}`)))
	require.Error(t, v.Validate("event", []byte(`not json`)))
	require.Error(t, v.Validate("event", nil))
	require.ErrorIs(t, v.Validate("missing", []byte(`{}`)), ErrUnknownSchema)
}

func TestSchemaValidatorRejectsBrokenSchema(t *testing.T) {
	v := NewSchemaValidator()
	require.Error(t, v.Register("broken", []byte(`{"type": 12}`)))
	require.ErrorIs(t, v.Validate("broken", []byte(`{}`)), ErrUnknownSchema)
}
