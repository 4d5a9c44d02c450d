package buildstate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type alwaysAdmit struct{}

func (alwaysAdmit) Admit() bool { return true }

type fakeActions struct {
	buildFailures int
	buildCalls    int
	finishCalled  bool
}

func (f *fakeActions) Extract(context.Context, string) error    { return nil }
func (f *fakeActions) Bootstrap(context.Context, string) error  { return nil }
func (f *fakeActions) Finish(context.Context, string) error {
	f.finishCalled = true
	return nil
}

func (f *fakeActions) Build(context.Context, string) error {
	f.buildCalls++
	if f.buildCalls <= f.buildFailures {
		return errors.New("makepkg exited 1")
	}

	return nil
}

func runToTerminal(t *testing.T, m *Machine) {
	t.Helper()

	for i := 0; i < 20 && !m.Done(); i++ {
		require.NoError(t, m.Step(context.Background()))
	}

	require.True(t, m.Done(), "machine did not reach a terminal state")
}

func TestMachineHappyPath(t *testing.T) {
	actions := &fakeActions{}
	m := NewMachine("pkg", actions, alwaysAdmit{})

	runToTerminal(t, m)

	assert.Equal(t, Built, m.State())
	assert.True(t, actions.finishCalled)
}

func TestMachineRetriesThenSucceeds(t *testing.T) {
	actions := &fakeActions{buildFailures: 2}
	m := NewMachine("pkg", actions, alwaysAdmit{})

	runToTerminal(t, m)

	assert.Equal(t, Built, m.State())
	assert.Equal(t, 3, actions.buildCalls)
}

func TestMachineFailsAfterExhaustingRetries(t *testing.T) {
	actions := &fakeActions{buildFailures: 99}
	m := NewMachine("pkg", actions, alwaysAdmit{})

	runToTerminal(t, m)

	assert.Equal(t, Failed, m.State())
	assert.Equal(t, MaxRetries, actions.buildCalls)
}

type neverAdmit struct{}

func (neverAdmit) Admit() bool { return false }

func TestMachineStallsWithoutAdmission(t *testing.T) {
	actions := &fakeActions{}
	m := NewMachine("pkg", actions, neverAdmit{})

	require.NoError(t, m.Step(context.Background()))
	assert.Equal(t, None, m.State())
}
