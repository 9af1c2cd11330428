package hookbus_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicforge/recordengine/internal/adapters/hookbus"
)

type fakeActivity struct {
	events []string
}

func (f *fakeActivity) Record(_ context.Context, event, _ string, _, _ string, _ map[string]any) error {
	f.events = append(f.events, event)
	return nil
}

type fakeTransport struct {
	published []hookbus.Event
	failNext  bool
}

func (f *fakeTransport) Publish(_ context.Context, event hookbus.Event, _ hookbus.Payload) error {
	if f.failNext {
		return errors.New("broker unavailable")
	}

	f.published = append(f.published, event)

	return nil
}

func TestDispatch_RecordsActivityBeforeHandler(t *testing.T) {
	activity := &fakeActivity{}
	var handlerSawActivity bool

	bus := hookbus.New(activity, nil, nil)
	bus.On(hookbus.EventRecordCreated, hookbus.ModeSync, func(ctx context.Context, event hookbus.Event, payload hookbus.Payload) error {
		handlerSawActivity = len(activity.events) == 1
		return nil
	})

	err := bus.Dispatch(context.Background(), hookbus.EventRecordCreated, "clerk1", "Record", "abc", nil)
	require.NoError(t, err)
	assert.True(t, handlerSawActivity)
	assert.Equal(t, []string{"record:created"}, activity.events)
}

func TestDispatch_SyncHandlerErrorPropagates(t *testing.T) {
	bus := hookbus.New(&fakeActivity{}, nil, nil)
	bus.On(hookbus.EventRecordCreated, hookbus.ModeSync, func(ctx context.Context, event hookbus.Event, payload hookbus.Payload) error {
		return errors.New("handler exploded")
	})

	err := bus.Dispatch(context.Background(), hookbus.EventRecordCreated, "clerk1", "Record", "abc", nil)
	require.Error(t, err)
}

func TestDispatch_AsyncPublishesToTransport(t *testing.T) {
	transport := &fakeTransport{}
	bus := hookbus.New(&fakeActivity{}, transport, nil)
	bus.On(hookbus.EventRecordUpdated, hookbus.ModeAsync, nil)

	err := bus.Dispatch(context.Background(), hookbus.EventRecordUpdated, "clerk1", "Record", "abc", hookbus.Payload{"status": "proposed"})
	require.NoError(t, err)
	assert.Equal(t, []hookbus.Event{hookbus.EventRecordUpdated}, transport.published)
}

func TestDispatch_DryRunSuppressesHandlersButNotActivity(t *testing.T) {
	activity := &fakeActivity{}
	called := false

	bus := hookbus.New(activity, nil, nil)
	bus.On(hookbus.EventRecordDeleted, hookbus.ModeSync, func(ctx context.Context, event hookbus.Event, payload hookbus.Payload) error {
		called = true
		return nil
	})
	bus.SetDryRun(hookbus.EventRecordDeleted, true)

	err := bus.Dispatch(context.Background(), hookbus.EventRecordDeleted, "clerk1", "Record", "abc", nil)
	require.NoError(t, err)
	assert.False(t, called)
	assert.Equal(t, []string{"record:deleted"}, activity.events)
}
