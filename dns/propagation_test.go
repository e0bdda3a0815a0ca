package dns

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubChecker builds a Checker whose resolver answers come from the
// given map of resolver address to TXT values.
func stubChecker(answers map[string][]string) *Checker {
	c := NewChecker(nil)
	c.Delay = time.Millisecond
	c.queryTXT = func(_ context.Context, resolver, _ string) ([]string, error) {
		values, ok := answers[resolver]
		if !ok {
			return nil, fmt.Errorf("no answer configured for %s", resolver)
		}
		return values, nil
	}
	return c
}

func TestCheckQuorumReached(t *testing.T) {
	c := stubChecker(map[string][]string{
		"8.8.8.8":        {"expected-value"},
		"8.8.4.4":        {"expected-value"},
		"1.1.1.1":        {"other-value", "expected-value"},
		"1.0.0.1":        {},
		"9.9.9.9":        {"other-value"},
		"208.67.222.222": nil,
	})

	propagated, err := c.Check(context.Background(), "_acme-challenge.example.com", "expected-value")
	require.NoError(t, err)
	assert.True(t, propagated)
}

func TestCheckQuorumNotReachedAdvisory(t *testing.T) {
	c := stubChecker(map[string][]string{
		"8.8.8.8": {"expected-value"},
		"8.8.4.4": {"expected-value"},
	})

	propagated, err := c.Check(context.Background(), "_acme-challenge.example.com", "expected-value")
	require.NoError(t, err)
	assert.False(t, propagated)
}

func TestCheckQuorumNotReachedRequired(t *testing.T) {
	c := stubChecker(map[string][]string{})
	c.Required = true

	propagated, err := c.Check(context.Background(), "_acme-challenge.example.com", "expected-value")
	assert.Error(t, err)
	assert.False(t, propagated)
}

func TestCheckRetriesAcrossAttempts(t *testing.T) {
	c := NewChecker(nil)
	c.Delay = time.Millisecond

	// The record becomes visible everywhere on the second attempt.
	var calls atomic.Int64
	c.queryTXT = func(context.Context, string, string) ([]string, error) {
		if calls.Add(1) <= int64(len(c.Resolvers)) {
			return nil, nil
		}
		return []string{"expected-value"}, nil
	}

	propagated, err := c.Check(context.Background(), "_acme-challenge.example.com", "expected-value")
	require.NoError(t, err)
	assert.True(t, propagated)
	assert.Equal(t, int64(2*len(c.Resolvers)), calls.Load())
}

func TestCheckExactValueMatch(t *testing.T) {
	c := stubChecker(map[string][]string{
		"8.8.8.8": {"EXPECTED-VALUE"},
		"8.8.4.4": {"expected-value "},
		"1.1.1.1": {"expected"},
	})

	propagated, err := c.Check(context.Background(), "_acme-challenge.example.com", "expected-value")
	require.NoError(t, err)
	assert.False(t, propagated)
}

func TestCheckContextCancelled(t *testing.T) {
	c := stubChecker(map[string][]string{})
	c.Delay = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := c.Check(ctx, "_acme-challenge.example.com", "expected-value")
	assert.ErrorIs(t, err, context.Canceled)
}
