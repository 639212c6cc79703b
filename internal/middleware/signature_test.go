package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/luowen-ai/wechat-relay/pkg/logger"
)

func TestComputeSignatureSortsInputs(t *testing.T) {
	// Order of token/timestamp/nonce must not matter.
	a := ComputeSignature("token", "111", "222")
	b := ComputeSignature("222", "111", "token")
	assert.Equal(t, a, b)
	assert.Len(t, a, 40)
}

func TestVerifySignature(t *testing.T) {
	sig := ComputeSignature("mytoken", "1700000000", "nonce1")

	assert.True(t, VerifySignature("mytoken", sig, "1700000000", "nonce1"))
	assert.False(t, VerifySignature("mytoken", "wrong", "1700000000", "nonce1"))
	assert.False(t, VerifySignature("other", sig, "1700000000", "nonce1"))
}

func TestSignatureCheckNeverBlocks(t *testing.T) {
	log := &logger.Logger{Logger: zap.NewNop()}
	mw := SignatureCheck("mytoken", log)

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	})

	// Even an invalid signature passes through: verification is a
	// configured policy, not a gate.
	req := httptest.NewRequest(http.MethodGet,
		"/wechat/?signature=bogus&timestamp=1&nonce=2&echostr=x", nil)
	rec := httptest.NewRecorder()
	mw(next).ServeHTTP(rec, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rec.Code)
}
