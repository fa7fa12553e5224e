package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesSentinelThroughWrapping(t *testing.T) {
	base := E(KindSandboxFailure, "sandbox.Validate", errors.New("3 of 40 tests failed"))
	wrapped := fmt.Errorf("execution abc: %w", base)

	assert.True(t, errors.Is(wrapped, ErrSandboxFailure))
	assert.False(t, errors.Is(wrapped, ErrStageHealthBreach))
	assert.Equal(t, KindSandboxFailure, KindOf(wrapped))
	assert.Equal(t, "sandbox.Validate: SandboxFailure: 3 of 40 tests failed", base.Error())
}

func TestKindOfUnclassified(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestOnlyTransientIsRetryable(t *testing.T) {
	for kind := range kindNames {
		err := Errorf(kind, "op", "boom")
		assert.Equal(t, kind == KindTransientInfra, IsTransient(err), kind.String())
	}
}

func TestSeverityForRollbackFailureIsCritical(t *testing.T) {
	assert.Equal(t, "critical", string(KindRollbackFailure.Severity()))
	assert.Equal(t, "warning", string(KindTransientInfra.Severity()))
}
