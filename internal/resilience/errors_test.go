package resilience

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"fetch 503", NewTransientError(errors.New("fetch: status 503"), 503), true},
		{"tagged fetch 429", Tag(KindNetwork, NewTransientError(errors.New("fetch: status 429"), 429)), true},
		{"eris wrapped", eris.Wrap(NewTransientError(errors.New("busy"), 502), "fetch: get"), true},
		{"connect refused", fmt.Errorf("postgres: dial tcp: %w", syscall.ECONNREFUSED), true},
		{"connection reset", fmt.Errorf("read tcp: %w", syscall.ECONNRESET), true},
		{"dns timeout", &net.DNSError{IsTimeout: true, Err: "timeout"}, true},
		{"i/o timeout text", errors.New("dial tcp 10.0.0.5:5432: i/o timeout"), true},
		{"no such host text", errors.New("lookup db.internal: no such host"), true},
		{"auth failure", errors.New("password authentication failed"), false},
		{"bad dsn", errors.New("cannot parse `postgres://`: invalid port"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestTransientError_StatusAndUnwrap(t *testing.T) {
	t.Parallel()

	inner := errors.New("fetch: https://example.com returned status 503")
	err := NewTransientError(inner, 503)

	assert.Equal(t, 503, err.StatusCode)
	assert.Equal(t, inner.Error(), err.Error())
	assert.ErrorIs(t, err, inner)

	var te *TransientError
	assert.True(t, errors.As(Tag(KindNetwork, err), &te))
	assert.Equal(t, KindUnknown, KindOf(err))
	assert.Equal(t, KindNetwork, KindOf(Tag(KindNetwork, err)))
}
