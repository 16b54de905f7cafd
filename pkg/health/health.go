// Package health tracks the health of the model service's dependencies
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/scttfrdmn/modelserve/pkg/errors"
)

// Component names registered by the service.
const (
	ComponentStore = "store"
	ComponentCache = "cache"
)

// HealthState represents the health state of a component or the service
type HealthState int

const (
	// StateHealthy indicates the component is fully operational
	StateHealthy HealthState = iota

	// StateDegraded indicates the component is failing intermittently
	StateDegraded

	// StateUnavailable indicates the component is not operational
	StateUnavailable
)

// String returns the string representation of a health state
func (s HealthState) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s HealthState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// ComponentHealth tracks the health of a specific component
type ComponentHealth struct {
	Name              string         `json:"name"`
	State             HealthState    `json:"state"`
	LastStateChange   time.Time      `json:"last_state_change"`
	LastHealthCheck   time.Time      `json:"last_health_check"`
	ConsecutiveErrors int            `json:"consecutive_errors"`
	LastError         error          `json:"-"`
	LastErrorMessage  string         `json:"last_error_message,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

func (h *ComponentHealth) clone() *ComponentHealth {
	c := *h
	c.Metadata = make(map[string]any, len(h.Metadata))
	for k, v := range h.Metadata {
		c.Metadata[k] = v
	}
	return &c
}

// CheckFunc probes a component.
type CheckFunc func(ctx context.Context) error

// StateChangeCallback is called when a component's health state changes
type StateChangeCallback func(component string, oldState, newState HealthState, err error)

// Tracker tracks the health of multiple components and determines overall service health
type Tracker struct {
	mu         sync.RWMutex
	components map[string]*ComponentHealth
	checks     map[string]CheckFunc
	config     TrackerConfig
	callbacks  []StateChangeCallback
	now        func() time.Time
}

// TrackerConfig configures health tracking behavior
type TrackerConfig struct {
	// ErrorThreshold is the number of consecutive errors before marking a component degraded
	ErrorThreshold int `yaml:"error_threshold" json:"error_threshold"`

	// UnavailableThreshold is the number of consecutive errors before marking unavailable
	UnavailableThreshold int `yaml:"unavailable_threshold" json:"unavailable_threshold"`

	// HealthCheckInterval is the interval for periodic checks
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`

	// CheckTimeout bounds a single check
	CheckTimeout time.Duration `yaml:"check_timeout" json:"check_timeout"`
}

// DefaultConfig returns a default tracker configuration
func DefaultConfig() TrackerConfig {
	return TrackerConfig{
		ErrorThreshold:       3,
		UnavailableThreshold: 10,
		HealthCheckInterval:  30 * time.Second,
		CheckTimeout:         5 * time.Second,
	}
}

// NewTracker creates a new health tracker
func NewTracker(config TrackerConfig) *Tracker {
	return &Tracker{
		components: make(map[string]*ComponentHealth),
		checks:     make(map[string]CheckFunc),
		config:     config,
		now:        time.Now,
	}
}

// RegisterComponent registers a component for health tracking. A non-nil
// check is run by RunChecks and StartHealthChecks.
func (t *Tracker) RegisterComponent(name string, check CheckFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.components[name]; !exists {
		now := t.now()
		t.components[name] = &ComponentHealth{
			Name:            name,
			State:           StateHealthy,
			LastStateChange: now,
			LastHealthCheck: now,
			Metadata:        make(map[string]any),
		}
	}
	if check != nil {
		t.checks[name] = check
	}
}

// RecordSuccess records a successful operation for a component
func (t *Tracker) RecordSuccess(component string) {
	t.mu.Lock()
	h, exists := t.components[component]
	if !exists {
		t.mu.Unlock()
		return
	}

	oldState := h.State
	h.LastHealthCheck = t.now()
	h.ConsecutiveErrors = 0
	if h.State != StateHealthy {
		t.transitionState(h, StateHealthy)
	}
	newState := h.State
	t.mu.Unlock()

	if oldState != newState {
		t.notifyStateChange(component, oldState, newState, nil)
	}
}

// RecordError records an error for a component. Errors caused by the
// caller (unknown model, bad input, a corrupt artifact, cancellation) say
// nothing about the component and are ignored.
func (t *Tracker) RecordError(component string, err error) {
	if err == nil || !affectsHealth(err) {
		return
	}

	t.mu.Lock()
	h, exists := t.components[component]
	if !exists {
		t.mu.Unlock()
		return
	}

	oldState := h.State
	h.LastHealthCheck = t.now()
	h.ConsecutiveErrors++
	h.LastError = err
	h.LastErrorMessage = err.Error()

	newState := oldState
	switch {
	case errors.CodeOf(err) == errors.ErrCodeServiceUnavailable:
		newState = StateUnavailable
	case h.ConsecutiveErrors >= t.config.UnavailableThreshold:
		newState = StateUnavailable
	case h.ConsecutiveErrors >= t.config.ErrorThreshold:
		newState = StateDegraded
	}
	if newState != oldState {
		t.transitionState(h, newState)
	}
	t.mu.Unlock()

	if oldState != newState {
		t.notifyStateChange(component, oldState, newState, err)
	}
}

// GetState returns the current health state of a component
func (t *Tracker) GetState(component string) HealthState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if h, exists := t.components[component]; exists {
		return h.State
	}
	return StateUnavailable
}

// GetComponentHealth returns the health information for a component
func (t *Tracker) GetComponentHealth(component string) (*ComponentHealth, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	h, exists := t.components[component]
	if !exists {
		return nil, fmt.Errorf("component %s not registered", component)
	}
	return h.clone(), nil
}

// GetAllComponents returns health information for all registered components
func (t *Tracker) GetAllComponents() map[string]*ComponentHealth {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]*ComponentHealth, len(t.components))
	for name, h := range t.components {
		result[name] = h.clone()
	}
	return result
}

// GetOverallHealth returns the worst state across all components
func (t *Tracker) GetOverallHealth() HealthState {
	t.mu.RLock()
	defer t.mu.RUnlock()

	overall := StateHealthy
	for _, h := range t.components {
		if h.State > overall {
			overall = h.State
		}
	}
	return overall
}

// IsHealthy returns true if the component is in a healthy state
func (t *Tracker) IsHealthy(component string) bool {
	return t.GetState(component) == StateHealthy
}

// CanServe returns true if the component can still take requests
func (t *Tracker) CanServe(component string) bool {
	return t.GetState(component) != StateUnavailable
}

// AddStateChangeCallback registers a callback for state changes
func (t *Tracker) AddStateChangeCallback(callback StateChangeCallback) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.callbacks = append(t.callbacks, callback)
}

// SetComponentMetadata sets metadata for a component
func (t *Tracker) SetComponentMetadata(component, key string, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if h, exists := t.components[component]; exists {
		h.Metadata[key] = value
	}
}

// RunChecks runs every registered check once.
func (t *Tracker) RunChecks(ctx context.Context) {
	t.mu.RLock()
	names := make([]string, 0, len(t.checks))
	for name := range t.checks {
		names = append(names, name)
	}
	t.mu.RUnlock()
	sort.Strings(names)

	for _, name := range names {
		t.mu.RLock()
		check := t.checks[name]
		t.mu.RUnlock()

		cctx := ctx
		cancel := context.CancelFunc(func() {})
		if t.config.CheckTimeout > 0 {
			cctx, cancel = context.WithTimeout(ctx, t.config.CheckTimeout)
		}
		err := check(cctx)
		cancel()

		if err != nil {
			if cctx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
				err = errors.Wrap(errors.ErrCodeOperationTimeout, err, "health check timed out").
					WithComponent(name)
			}
			t.RecordError(name, err)
		} else {
			t.RecordSuccess(name)
		}
	}
}

// StartHealthChecks runs checks periodically until ctx is done
func (t *Tracker) StartHealthChecks(ctx context.Context) {
	ticker := time.NewTicker(t.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.RunChecks(ctx)
		}
	}
}

// transitionState must be called with the lock held.
func (t *Tracker) transitionState(h *ComponentHealth, newState HealthState) {
	h.State = newState
	h.LastStateChange = t.now()

	if newState == StateHealthy {
		h.ConsecutiveErrors = 0
		h.LastError = nil
		h.LastErrorMessage = ""
	}
}

func (t *Tracker) notifyStateChange(component string, oldState, newState HealthState, err error) {
	t.mu.RLock()
	callbacks := append([]StateChangeCallback(nil), t.callbacks...)
	t.mu.RUnlock()

	for _, callback := range callbacks {
		callback(component, oldState, newState, err)
	}
}

func affectsHealth(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	switch errors.GetCategory(errors.CodeOf(err)) {
	case errors.CategoryLookup, errors.CategoryArtifact, errors.CategoryAccess:
		return false
	}
	return errors.CodeOf(err) != errors.ErrCodeOperationCanceled
}
