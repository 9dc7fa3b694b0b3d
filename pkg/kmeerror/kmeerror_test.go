package kmeerror

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExhausted_ErrorCodeAndStatus(t *testing.T) {
	err := Exhausted(0, 5, "retry in 5m")
	assert.Equal(t, "KEY_EXHAUSTION", err.Kind.ErrorCode())
	assert.Equal(t, http.StatusServiceUnavailable, err.Kind.HTTPStatus())
	assert.Len(t, err.Details, 3)
}

func TestRecoverable(t *testing.T) {
	assert.True(t, InvalidRequest("bad").Recoverable())
	assert.False(t, StorageUnavailable(nil).Recoverable())
}

func TestErrorUnwrap(t *testing.T) {
	cause := assertErr{"boom"}
	err := IntegrityError("key-1", cause)
	assert.ErrorIs(t, err, cause)
}

type assertErr struct{ msg string }

func (e assertErr) Error() string { return e.msg }
