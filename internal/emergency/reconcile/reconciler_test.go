// internal/emergency/reconcile/reconciler_test.go
package reconcile

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"maternalhub-agent/internal/common/logger"
	"maternalhub-agent/internal/emergency/api"
	"maternalhub-agent/internal/emergency/notify"
	"maternalhub-agent/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ==========================
// Test Fakes
// ==========================

// statusFunc lets each test script the hub's status replies.
type statusFunc func(callNum int) (*api.StatusResponse, error)

type fakeAPI struct {
	mu       sync.Mutex
	calls    int
	inFlight int32
	maxSeen  int32
	status   statusFunc
	block    chan struct{} // when non-nil, GetStatus waits on it
	entered  chan struct{} // when non-nil, signalled once per GetStatus entry
}

func (f *fakeAPI) GetStatus(ctx context.Context, id string) (*api.StatusResponse, error) {
	current := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	for {
		max := atomic.LoadInt32(&f.maxSeen)
		if current <= max || atomic.CompareAndSwapInt32(&f.maxSeen, max, current) {
			break
		}
	}

	f.mu.Lock()
	f.calls++
	callNum := f.calls
	entered := f.entered
	block := f.block
	fn := f.status
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if block != nil {
		<-block
	}
	if fn == nil {
		return pendingStatus()(callNum)
	}
	return fn(callNum)
}

func (f *fakeAPI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeAPI) SendAlert(ctx context.Context, req *api.AlertRequest) (*api.AlertResponse, error) {
	return nil, nil
}

func (f *fakeAPI) Cancel(ctx context.Context, id string) error { return nil }

type memStore struct {
	mu     sync.Mutex
	record *models.EmergencyRecord
}

func (m *memStore) Load(ctx context.Context) (*models.EmergencyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record.Clone(), nil
}

func (m *memStore) Save(ctx context.Context, record *models.EmergencyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record = record.Clone()
	return nil
}

func (m *memStore) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record = nil
	return nil
}

func (m *memStore) current() *models.EmergencyRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.record.Clone()
}

// collector records every emitted notification.
type collector struct {
	mu     sync.Mutex
	events []notify.Event
}

func (c *collector) Notify(ctx context.Context, event notify.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *collector) kinds() []notify.Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]notify.Kind, len(c.events))
	for i, e := range c.events {
		out[i] = e.Kind
	}
	return out
}

func (c *collector) countOf(kind notify.Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// ==========================
// Test Helper Functions
// ==========================

func pendingStatus() statusFunc {
	return func(int) (*api.StatusResponse, error) {
		return &api.StatusResponse{Emergency: api.EmergencyStatus{Status: models.StatusPending}}, nil
	}
}

func respondedStatus(hospitalID, name string) statusFunc {
	return func(int) (*api.StatusResponse, error) {
		return &api.StatusResponse{Emergency: api.EmergencyStatus{
			Status:            models.StatusResponded,
			RespondedHospital: &api.RespondedHospital{HospitalID: hospitalID, Name: name},
		}}, nil
	}
}

func pendingRecord() *models.EmergencyRecord {
	return &models.EmergencyRecord{
		ID: "em-42",
		Requester: models.RequesterInfo{
			Name: "Amina Yusuf", Phone: "+2348012345678",
			Email: "amina@example.com", Age: 29, Gender: "female",
		},
		Hospitals: []models.Hospital{{ID: "h-1", Name: "St. Mary Hospital"}},
		Status:    models.StatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

// slowConfig keeps the ticker out of the way so only the immediate poll and
// explicit triggers run.
func slowConfig() Config {
	return Config{PollInterval: time.Hour}
}

func createReconciler(t *testing.T, cfg Config, apiClient *fakeAPI, st *memStore, sink notify.Notifier) *Reconciler {
	r := New(cfg, apiClient, st, sink, logger.NewTestLogger(t))
	t.Cleanup(r.Stop)
	return r
}

// ==========================
// Push Merge Tests
// ==========================

func TestReconciler_HandlePushEvent_MergesFirstResponder(t *testing.T) {
	st := &memStore{}
	sink := &collector{}
	r := createReconciler(t, slowConfig(), &fakeAPI{}, st, sink)
	r.Track(pendingRecord())

	r.HandlePushEvent(models.HospitalResponseEvent{
		EmergencyID: "em-42",
		Hospital:    models.Hospital{ID: "h-1", Name: "St. Mary Hospital"},
	})

	active := r.Active()
	require.NotNil(t, active)
	assert.Equal(t, models.StatusResponded, active.Status)
	require.NotNil(t, active.RespondedHospital)
	assert.Equal(t, "h-1", active.RespondedHospital.ID)

	// write-through: a reload would reconstruct identical state
	persisted := st.current()
	require.NotNil(t, persisted)
	assert.Equal(t, models.StatusResponded, persisted.Status)

	assert.Equal(t, 1, sink.countOf(notify.KindHospitalResponded))
}

func TestReconciler_HandlePushEvent_DuplicateIsIdempotent(t *testing.T) {
	sink := &collector{}
	r := createReconciler(t, slowConfig(), &fakeAPI{}, &memStore{}, sink)
	r.Track(pendingRecord())

	event := models.HospitalResponseEvent{
		EmergencyID: "em-42",
		Hospital:    models.Hospital{ID: "h-1", Name: "St. Mary Hospital"},
	}
	r.HandlePushEvent(event)
	r.HandlePushEvent(event)
	r.HandlePushEvent(event)

	assert.Equal(t, 1, sink.countOf(notify.KindHospitalResponded))
}

func TestReconciler_HandlePushEvent_FirstResponderWins(t *testing.T) {
	sink := &collector{}
	r := createReconciler(t, slowConfig(), &fakeAPI{}, &memStore{}, sink)
	r.Track(pendingRecord())

	r.HandlePushEvent(models.HospitalResponseEvent{
		EmergencyID: "em-42",
		Hospital:    models.Hospital{ID: "h-1", Name: "St. Mary Hospital"},
	})
	r.HandlePushEvent(models.HospitalResponseEvent{
		EmergencyID: "em-42",
		Hospital:    models.Hospital{ID: "h-9", Name: "Late Responder Clinic"},
	})

	hospital := r.RespondedHospital()
	require.NotNil(t, hospital)
	assert.Equal(t, "h-1", hospital.ID)
	assert.Equal(t, 1, sink.countOf(notify.KindHospitalResponded))
}

func TestReconciler_HandlePushEvent_DroppedWhenNotTracking(t *testing.T) {
	sink := &collector{}
	r := createReconciler(t, slowConfig(), &fakeAPI{}, &memStore{}, sink)

	r.HandlePushEvent(models.HospitalResponseEvent{
		EmergencyID: "em-42",
		Hospital:    models.Hospital{ID: "h-1"},
	})

	assert.Nil(t, r.Active())
	assert.Empty(t, sink.kinds())
}

func TestReconciler_HandlePushEvent_DroppedOnIDMismatch(t *testing.T) {
	sink := &collector{}
	r := createReconciler(t, slowConfig(), &fakeAPI{}, &memStore{}, sink)
	r.Track(pendingRecord())

	r.HandlePushEvent(models.HospitalResponseEvent{
		EmergencyID: "em-other",
		Hospital:    models.Hospital{ID: "h-1"},
	})

	active := r.Active()
	require.NotNil(t, active)
	assert.Equal(t, models.StatusPending, active.Status)
	assert.Nil(t, active.RespondedHospital)
}

// ==========================
// Poll Path Tests
// ==========================

func TestReconciler_Track_ImmediatePoll(t *testing.T) {
	apiClient := &fakeAPI{status: pendingStatus()}
	r := createReconciler(t, slowConfig(), apiClient, &memStore{}, &collector{})

	r.Track(pendingRecord())

	require.Eventually(t, func() bool {
		return apiClient.callCount() >= 1
	}, 2*time.Second, 10*time.Millisecond, "tracking should poll immediately")
}

func TestReconciler_Poll_MergesRespondedHospital(t *testing.T) {
	apiClient := &fakeAPI{status: respondedStatus("h-1", "St. Mary Hospital")}
	st := &memStore{}
	sink := &collector{}
	r := createReconciler(t, slowConfig(), apiClient, st, sink)

	r.Track(pendingRecord())

	require.Eventually(t, func() bool {
		return r.RespondedHospital() != nil
	}, 2*time.Second, 10*time.Millisecond)

	hospital := r.RespondedHospital()
	assert.Equal(t, "h-1", hospital.ID)
	assert.Equal(t, models.StatusResponded, st.current().Status)
	assert.Equal(t, 1, sink.countOf(notify.KindHospitalResponded))
}

func TestReconciler_Poll_PollAndPushAgree(t *testing.T) {
	// push lands first, then the poll reports the same responder: one merge,
	// one notification, regardless of ordering
	apiClient := &fakeAPI{status: respondedStatus("h-1", "St. Mary Hospital"), block: make(chan struct{})}
	sink := &collector{}
	r := createReconciler(t, slowConfig(), apiClient, &memStore{}, sink)

	r.Track(pendingRecord())
	r.HandlePushEvent(models.HospitalResponseEvent{
		EmergencyID: "em-42",
		Hospital:    models.Hospital{ID: "h-1", Name: "St. Mary Hospital"},
	})
	close(apiClient.block)

	require.Eventually(t, func() bool {
		return apiClient.callCount() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, sink.countOf(notify.KindHospitalResponded))
	hospital := r.RespondedHospital()
	require.NotNil(t, hospital)
	assert.Equal(t, "h-1", hospital.ID)
}

func TestReconciler_Poll_CancelledClearsState(t *testing.T) {
	apiClient := &fakeAPI{status: func(int) (*api.StatusResponse, error) {
		return &api.StatusResponse{Emergency: api.EmergencyStatus{Status: models.StatusCancelled}}, nil
	}}
	st := &memStore{record: pendingRecord()}
	sink := &collector{}
	r := createReconciler(t, slowConfig(), apiClient, st, sink)

	r.Track(pendingRecord())

	require.Eventually(t, func() bool {
		return r.Active() == nil
	}, 2*time.Second, 10*time.Millisecond)

	assert.Nil(t, st.current())
	assert.Equal(t, 1, sink.countOf(notify.KindCancelled))
}

func TestReconciler_Poll_NoConcurrentRequests(t *testing.T) {
	apiClient := &fakeAPI{status: pendingStatus(), block: make(chan struct{})}
	cfg := Config{PollInterval: 20 * time.Millisecond}
	r := createReconciler(t, cfg, apiClient, &memStore{}, &collector{})

	r.Track(pendingRecord())

	// several ticks elapse while the first request is stuck in flight
	time.Sleep(150 * time.Millisecond)
	close(apiClient.block)

	require.Eventually(t, func() bool {
		return apiClient.callCount() >= 2
	}, 2*time.Second, 10*time.Millisecond)
	r.Stop()

	assert.Equal(t, int32(1), atomic.LoadInt32(&apiClient.maxSeen),
		"a tick during an in-flight request must be skipped, not queued")
}

// ==========================
// Poll Failure Tests
// ==========================

func TestReconciler_Poll_AuthExpiredSuspends(t *testing.T) {
	apiClient := &fakeAPI{status: func(int) (*api.StatusResponse, error) {
		return nil, &api.StatusError{StatusCode: http.StatusUnauthorized}
	}}
	sink := &collector{}
	r := createReconciler(t, slowConfig(), apiClient, &memStore{}, sink)

	r.Track(pendingRecord())

	require.Eventually(t, r.Suspended, 2*time.Second, 10*time.Millisecond)

	// the record survives; only polling pauses
	require.NotNil(t, r.Active())
	assert.Equal(t, 1, sink.countOf(notify.KindAuthExpired))
}

func TestReconciler_ResumePolling_AfterReauthentication(t *testing.T) {
	apiClient := &fakeAPI{status: func(call int) (*api.StatusResponse, error) {
		if call == 1 {
			return nil, &api.StatusError{StatusCode: http.StatusUnauthorized}
		}
		return respondedStatus("h-1", "St. Mary Hospital")(call)
	}}
	r := createReconciler(t, slowConfig(), apiClient, &memStore{}, &collector{})

	r.Track(pendingRecord())
	require.Eventually(t, r.Suspended, 2*time.Second, 10*time.Millisecond)

	r.ResumePolling()

	require.Eventually(t, func() bool {
		return r.RespondedHospital() != nil
	}, 2*time.Second, 10*time.Millisecond)
	assert.False(t, r.Suspended())
}

func TestReconciler_ResumePolling_NoOpWhenNotSuspended(t *testing.T) {
	apiClient := &fakeAPI{status: pendingStatus()}
	r := createReconciler(t, slowConfig(), apiClient, &memStore{}, &collector{})
	r.Track(pendingRecord())
	require.Eventually(t, func() bool { return apiClient.callCount() >= 1 }, 2*time.Second, 10*time.Millisecond)

	before := apiClient.callCount()
	r.ResumePolling()
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, before, apiClient.callCount())
}

func TestReconciler_Poll_NotFoundClearsQuietly(t *testing.T) {
	apiClient := &fakeAPI{status: func(int) (*api.StatusResponse, error) {
		return nil, &api.StatusError{StatusCode: http.StatusNotFound}
	}}
	st := &memStore{record: pendingRecord()}
	sink := &collector{}
	r := createReconciler(t, slowConfig(), apiClient, st, sink)

	r.Track(pendingRecord())

	require.Eventually(t, func() bool {
		return r.Active() == nil
	}, 2*time.Second, 10*time.Millisecond)

	assert.Nil(t, st.current())
	// resolved elsewhere is not an error worth announcing
	assert.Empty(t, sink.kinds())
}

func TestReconciler_Poll_RateLimitedKeepsGoing(t *testing.T) {
	apiClient := &fakeAPI{status: func(call int) (*api.StatusResponse, error) {
		if call == 1 {
			return nil, &api.StatusError{StatusCode: http.StatusTooManyRequests}
		}
		return pendingStatus()(call)
	}}
	cfg := Config{PollInterval: 20 * time.Millisecond}
	r := createReconciler(t, cfg, apiClient, &memStore{}, &collector{})

	r.Track(pendingRecord())

	require.Eventually(t, func() bool {
		return apiClient.callCount() >= 3
	}, 2*time.Second, 10*time.Millisecond, "polling must continue after a 429")
	require.NotNil(t, r.Active())
	assert.False(t, r.Suspended())
}

func TestReconciler_Poll_RateLimitedSwitchesToRateLimitedInterval(t *testing.T) {
	apiClient := &fakeAPI{status: func(call int) (*api.StatusResponse, error) {
		if call <= 2 {
			return nil, &api.StatusError{StatusCode: http.StatusTooManyRequests}
		}
		return pendingStatus()(call)
	}}
	// the regular interval would never fire inside this test; every poll
	// after the first 429 must come from the rate-limited interval
	cfg := Config{PollInterval: time.Hour, RateLimitedInterval: 20 * time.Millisecond}
	r := createReconciler(t, cfg, apiClient, &memStore{}, &collector{})

	r.Track(pendingRecord())

	require.Eventually(t, func() bool {
		return apiClient.callCount() >= 3
	}, 2*time.Second, 10*time.Millisecond, "429 must reschedule on the rate-limited interval")

	// the successful poll switches back to the regular interval; let a
	// tick already buffered by the ticker drain before sampling
	time.Sleep(50 * time.Millisecond)
	calls := apiClient.callCount()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, calls, apiClient.callCount())
	require.NotNil(t, r.Active())
}

func TestReconciler_Poll_TransientErrorsNeverStopTheLoop(t *testing.T) {
	apiClient := &fakeAPI{status: func(int) (*api.StatusResponse, error) {
		return nil, &api.StatusError{StatusCode: http.StatusInternalServerError}
	}}
	cfg := Config{PollInterval: 20 * time.Millisecond}
	sink := &collector{}
	r := createReconciler(t, cfg, apiClient, &memStore{}, sink)

	r.Track(pendingRecord())

	require.Eventually(t, func() bool {
		return apiClient.callCount() >= 4
	}, 2*time.Second, 10*time.Millisecond)
	require.NotNil(t, r.Active())
	assert.Empty(t, sink.kinds())
}

// ==========================
// Lifecycle Tests
// ==========================

func TestReconciler_Stop_NoFurtherPolls(t *testing.T) {
	apiClient := &fakeAPI{status: pendingStatus()}
	cfg := Config{PollInterval: 20 * time.Millisecond}
	r := createReconciler(t, cfg, apiClient, &memStore{}, &collector{})

	r.Track(pendingRecord())
	require.Eventually(t, func() bool { return apiClient.callCount() >= 1 }, 2*time.Second, 10*time.Millisecond)

	r.Stop()
	after := apiClient.callCount()
	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, after, apiClient.callCount())
}

func TestReconciler_Clear_DiscardsInFlightResult(t *testing.T) {
	// teardown races a response already in flight: the late result must not
	// resurrect cleared state or emit notifications
	apiClient := &fakeAPI{
		status:  respondedStatus("h-1", "St. Mary Hospital"),
		block:   make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	st := &memStore{record: pendingRecord()}
	sink := &collector{}
	r := createReconciler(t, slowConfig(), apiClient, st, sink)

	r.Track(pendingRecord())
	<-apiClient.entered // request is now in flight

	done := make(chan struct{})
	go func() {
		r.Clear(context.Background())
		close(done)
	}()
	// Clear waits for the loop; release the stuck request so it can finish
	time.Sleep(20 * time.Millisecond)
	close(apiClient.block)
	<-done

	assert.Nil(t, r.Active())
	assert.Nil(t, st.current())
	assert.Empty(t, sink.kinds(), "a discarded result must not notify")
}

func TestReconciler_Track_ReplacesPreviousRecord(t *testing.T) {
	apiClient := &fakeAPI{status: pendingStatus()}
	r := createReconciler(t, slowConfig(), apiClient, &memStore{}, &collector{})

	first := pendingRecord()
	r.Track(first)
	r.Clear(context.Background())

	second := pendingRecord()
	second.ID = "em-43"
	r.Track(second)

	active := r.Active()
	require.NotNil(t, active)
	assert.Equal(t, "em-43", active.ID)

	// events for the torn-down emergency no longer apply
	r.HandlePushEvent(models.HospitalResponseEvent{
		EmergencyID: "em-42",
		Hospital:    models.Hospital{ID: "h-1"},
	})
	assert.Nil(t, r.RespondedHospital())
}

func TestReconciler_Track_IgnoresInactiveRecords(t *testing.T) {
	apiClient := &fakeAPI{status: pendingStatus()}
	r := createReconciler(t, slowConfig(), apiClient, &memStore{}, &collector{})

	cancelled := pendingRecord()
	cancelled.Status = models.StatusCancelled
	r.Track(cancelled)

	assert.Nil(t, r.Active())
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, apiClient.callCount())
}

func TestReconciler_Active_ReturnsClone(t *testing.T) {
	r := createReconciler(t, slowConfig(), &fakeAPI{}, &memStore{}, &collector{})
	r.Track(pendingRecord())

	first := r.Active()
	first.Status = models.StatusCancelled
	first.Hospitals[0].Name = "mutated"

	second := r.Active()
	assert.Equal(t, models.StatusPending, second.Status)
	assert.Equal(t, "St. Mary Hospital", second.Hospitals[0].Name)
}
