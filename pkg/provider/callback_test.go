package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerify(t *testing.T) {
	body := []byte(`{"order_id":99001,"status":"COMPLETED"}`)
	sig := Sign("s3cret", body)

	assert.True(t, VerifySignature("s3cret", body, sig))
	assert.False(t, VerifySignature("other", body, sig))
	assert.False(t, VerifySignature("s3cret", []byte(`{"order_id":99001,"status":"FAILED"}`), sig))
	assert.False(t, VerifySignature("s3cret", body, "zz-not-hex"))
	assert.False(t, VerifySignature("", body, Sign("", body)))
	assert.False(t, VerifySignature("s3cret", body, ""))
}

func TestParseCallback(t *testing.T) {
	cb, err := ParseCallback([]byte(`{"order_id":99001,"status":"COMPLETED","message":"ok"}`))
	require.NoError(t, err)
	assert.Equal(t, FlexString("99001"), cb.OrderID)
	assert.Equal(t, "COMPLETED", cb.Status)

	_, err = ParseCallback([]byte(`{"status":"COMPLETED"}`))
	assert.Error(t, err)
	_, err = ParseCallback([]byte(`nope`))
	assert.Error(t, err)
}
