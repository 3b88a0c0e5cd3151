package utils

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Circuit Breaker Tests

func TestCircuitBreaker_NewCircuitBreaker(t *testing.T) {
	cb := NewCircuitBreaker("test")

	assert.Equal(t, "test", cb.name)
	assert.Equal(t, uint32(5), cb.maxRequests)
	assert.Equal(t, 60*time.Second, cb.interval)
	assert.Equal(t, 60*time.Second, cb.timeout)
	assert.Equal(t, 0.6, cb.failureRatio)
	assert.Equal(t, StateClosed, cb.state)
}

func TestCircuitBreaker_ExecuteSuccess(t *testing.T) {
	cb := NewCircuitBreaker("test")
	ctx := context.Background()

	expectedResult := "success"
	result, err := cb.Execute(ctx, func() (any, error) {
		return expectedResult, nil
	})

	assert.NoError(t, err)
	assert.Equal(t, expectedResult, result)
	assert.Equal(t, StateClosed, cb.state)
	assert.Equal(t, uint32(1), cb.counts.Requests)
	assert.Equal(t, uint32(1), cb.counts.TotalSuccesses)
	assert.Equal(t, uint32(0), cb.counts.TotalFailures)
}

func TestCircuitBreaker_ExecuteFailure(t *testing.T) {
	cb := NewCircuitBreaker("test")
	ctx := context.Background()

	expectedError := errors.New("test error")
	result, err := cb.Execute(ctx, func() (any, error) {
		return nil, expectedError
	})

	assert.Error(t, err)
	assert.Equal(t, expectedError, err)
	assert.Nil(t, result)
	assert.Equal(t, uint32(1), cb.counts.Requests)
	assert.Equal(t, uint32(0), cb.counts.TotalSuccesses)
	assert.Equal(t, uint32(1), cb.counts.TotalFailures)
}

func TestCircuitBreaker_OpensAfterEnoughFailures(t *testing.T) {
	cb := NewCircuitBreaker("test")
	ctx := context.Background()

	failing := errors.New("feed down")
	for i := 0; i < 5; i++ {
		_, err := cb.Execute(ctx, func() (any, error) {
			return nil, failing
		})
		assert.Equal(t, failing, err)
	}

	assert.Equal(t, StateOpen, cb.state)

	// Open breaker fails fast without invoking the request.
	invoked := false
	_, err := cb.Execute(ctx, func() (any, error) {
		invoked = true
		return nil, nil
	})

	assert.Error(t, err)
	assert.False(t, invoked)
}

func TestCircuitBreaker_SingleFailureDoesNotTrip(t *testing.T) {
	cb := NewCircuitBreaker("test")
	ctx := context.Background()

	_, _ = cb.Execute(ctx, func() (any, error) {
		return nil, errors.New("one bad poll")
	})

	assert.Equal(t, StateClosed, cb.state)

	result, err := cb.Execute(ctx, func() (any, error) {
		return "ok", nil
	})
	assert.NoError(t, err)
	assert.Equal(t, "ok", result)
}

// Signature Tests

func TestHmac256_Deterministic(t *testing.T) {
	body := []byte(`{"code":"T1"}`)
	key := []byte("secret")

	first := Hmac256(body, key)
	second := Hmac256(body, key)

	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
}

func TestVerifyHmac256(t *testing.T) {
	body := []byte(`{"code":"T1"}`)
	key := []byte("secret")
	signature := Hmac256(body, key)

	assert.True(t, VerifyHmac256(body, key, signature))
	assert.False(t, VerifyHmac256(body, []byte("wrong"), signature))
	assert.False(t, VerifyHmac256([]byte("tampered"), key, signature))
	assert.False(t, VerifyHmac256(body, key, "deadbeef"))
}

func TestHashToken_RoundTrip(t *testing.T) {
	hashed, err := HashToken("webhook-secret")
	require.NoError(t, err)
	assert.NotEqual(t, "webhook-secret", hashed)

	assert.True(t, CompareToken(hashed, "webhook-secret"))
	assert.False(t, CompareToken(hashed, "guess"))
	assert.False(t, CompareToken("not a hash", "webhook-secret"))
}

// Ticket Code Tests

func TestGenerateTicketCode(t *testing.T) {
	code, err := GenerateTicketCode(6)

	require.NoError(t, err)
	assert.Len(t, code, 12)
	assert.Regexp(t, "^[0-9A-F]+$", code)
}

func TestGenerateTicketCode_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		code, err := GenerateTicketCode(6)
		require.NoError(t, err)
		assert.False(t, seen[code], "generated a duplicate code")
		seen[code] = true
	}
}
