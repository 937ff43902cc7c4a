package persistence

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// run carries the bookkeeping of one synchronization or dry run.
type run struct {
	id     string
	dryRun bool
	start  time.Time
	result *Result
}

func (s *Synchronizer) newRun(dryRun bool) *run {
	r := &run{id: uuid.New().String(), dryRun: dryRun, start: time.Now()}
	r.result = &Result{RunID: r.id, State: StateIdle, DryRun: dryRun}
	return r
}

// emitEvent is a helper method to emit events
func (s *Synchronizer) emitEvent(event SyncEvent) {
	if s.bus != nil {
		s.bus.Emit(string(event.Type), event)
	}
}

// transition moves the run to a new state and emits the matching event.
func (s *Synchronizer) transition(r *run, state RunState, eventType SyncEventType, err error, decorate func(*SyncEvent)) {
	r.result.State = state
	event := createEvent(eventType, r.id, state, err, r.start)
	event.DryRun = r.dryRun
	if decorate != nil {
		decorate(&event)
	}
	s.emitEvent(event)
}

// RegisterSubscription registers a callback for a synchronization event. It
// returns an id that can be used to unregister the subscription later.
func (s *Synchronizer) RegisterSubscription(options RegisterSubscriptionOptions) string {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	unsubscribe := s.bus.Subscribe(string(options.Event), options.Callback)
	id := uuid.New().String()

	s.subscriptions[id] = &SubscriptionInfo{
		Id:          &id,
		Event:       options.Event,
		Label:       options.Label,
		Description: options.Description,
		Unsubscribe: unsubscribe,
	}

	event := createEvent(SubscriptionRegister, "", "", nil, time.Time{})
	event.Context = map[string]any{"subscriptionId": id, "event": options.Event}
	s.emitEvent(event)
	s.logger.Debug("Subscription registered", zap.String("id", id), zap.String("event", string(options.Event)))
	return id
}

// UnregisterSubscription removes a subscription by its id.
func (s *Synchronizer) UnregisterSubscription(id string) {
	s.subMu.Lock()
	info, ok := s.subscriptions[id]
	if ok {
		info.Unsubscribe()
		delete(s.subscriptions, id)
	}
	s.subMu.Unlock()

	if !ok {
		return
	}
	event := createEvent(SubscriptionUnregister, "", "", nil, time.Time{})
	event.Context = map[string]any{"subscriptionId": id}
	s.emitEvent(event)
}

// Subscriptions returns the active subscriptions.
func (s *Synchronizer) Subscriptions() ([]SubscriptionInfo, error) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()

	subs := make([]SubscriptionInfo, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		subs = append(subs, *sub)
	}
	return subs, nil
}
