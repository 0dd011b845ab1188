package faults

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeString(t *testing.T) {
	assert.Equal(t, "ACQUIRE_IDLIVE", AcquireIDLive.String())
	assert.Equal(t, "DBLOCK_MBAL", DBlockMbal.String())
	assert.Contains(t, Code(9999).String(), "CODE(9999)")
}

func TestCodeClass(t *testing.T) {
	assert.Equal(t, ClassNone, OK.Class())
	assert.Equal(t, ClassIO, AIOTimeout.Class())
	assert.Equal(t, ClassIO, IOError.Class())
	assert.Equal(t, ClassConsistency, LeaderMagic.Class())
	assert.Equal(t, ClassConsistency, DBlockMbal.Class())
	assert.Equal(t, ClassPolicy, AcquireLver.Class())
	assert.Equal(t, ClassPolicy, ReleaseOwner.Class())
	assert.Equal(t, ClassLocal, EBusy.Class())
	assert.Equal(t, ClassLocal, EPerm.Class())
}

func TestNewAndWrap(t *testing.T) {
	f := New(AcquireOwned, "context here")
	assert.Equal(t, "ACQUIRE_OWNED: context here", f.Error())
	assert.Nil(t, f.Unwrap())

	cause := errors.New("disk offline")
	wrapped := Wrap(IOError, "disk0", cause)
	assert.ErrorIs(t, wrapped, cause)
	assert.Contains(t, wrapped.Error(), "disk offline")
}

func TestIsAndCodeOf(t *testing.T) {
	f := New(ReleaseLver, "")
	assert.True(t, Is(f, ReleaseLver))
	assert.False(t, Is(f, ReleaseOwner))
	assert.False(t, Is(nil, ReleaseLver))
	assert.False(t, Is(errors.New("plain"), ReleaseLver))

	assert.Equal(t, OK, CodeOf(nil))
	assert.Equal(t, ReleaseLver, CodeOf(f))
	assert.Equal(t, IOError, CodeOf(errors.New("escaped raw error")))
}

func TestNilFaultError(t *testing.T) {
	var f *Fault
	assert.Equal(t, "<nil fault>", f.Error())
	assert.Nil(t, f.Unwrap())
}
