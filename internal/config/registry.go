package config

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/soundalert/internal/eventlog"
	"github.com/MrWong99/soundalert/internal/notify"
	"github.com/MrWong99/soundalert/pkg/audio"
	"github.com/MrWong99/soundalert/pkg/classifier"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	capture    map[string]func(ProviderEntry) (audio.Capturer, error)
	classifier map[string]func(ProviderEntry) (classifier.Classifier, error)
	eventlog   map[string]func(context.Context, EventLogConfig) (eventlog.Sink, error)
	notifier   map[string]func(NotifyConfig) (notify.Notifier, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		capture:    make(map[string]func(ProviderEntry) (audio.Capturer, error)),
		classifier: make(map[string]func(ProviderEntry) (classifier.Classifier, error)),
		eventlog:   make(map[string]func(context.Context, EventLogConfig) (eventlog.Sink, error)),
		notifier:   make(map[string]func(NotifyConfig) (notify.Notifier, error)),
	}
}

// RegisterCapture registers an audio capture factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterCapture(name string, factory func(ProviderEntry) (audio.Capturer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capture[name] = factory
}

// RegisterClassifier registers a classifier factory under name.
func (r *Registry) RegisterClassifier(name string, factory func(ProviderEntry) (classifier.Classifier, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classifier[name] = factory
}

// RegisterEventLog registers a detection log factory under name.
func (r *Registry) RegisterEventLog(name string, factory func(context.Context, EventLogConfig) (eventlog.Sink, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.eventlog[name] = factory
}

// RegisterNotifier registers a notifier factory under name.
func (r *Registry) RegisterNotifier(name string, factory func(NotifyConfig) (notify.Notifier, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifier[name] = factory
}

// CreateCapture instantiates a capturer using the factory registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered for that name.
func (r *Registry) CreateCapture(entry ProviderEntry) (audio.Capturer, error) {
	r.mu.RLock()
	factory, ok := r.capture[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: capture/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateClassifier instantiates a classifier using the factory registered under entry.Name.
func (r *Registry) CreateClassifier(entry ProviderEntry) (classifier.Classifier, error) {
	r.mu.RLock()
	factory, ok := r.classifier[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: classifier/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateEventLog instantiates a detection log using the factory registered under cfg.Name.
func (r *Registry) CreateEventLog(ctx context.Context, cfg EventLogConfig) (eventlog.Sink, error) {
	r.mu.RLock()
	factory, ok := r.eventlog[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: eventlog/%q", ErrProviderNotRegistered, cfg.Name)
	}
	return factory(ctx, cfg)
}

// CreateNotifier instantiates a notifier using the factory registered under cfg.Name.
func (r *Registry) CreateNotifier(cfg NotifyConfig) (notify.Notifier, error) {
	r.mu.RLock()
	factory, ok := r.notifier[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: notify/%q", ErrProviderNotRegistered, cfg.Name)
	}
	return factory(cfg)
}
