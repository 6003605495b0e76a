// ABOUTME: Model registry and resolver mapping logical keys to upstream routes
// ABOUTME: Resolves over an atomically-swapped snapshot; never reads the store on the request path

package modelmap

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/strandworks/strand-gateway/internal/store"
)

// Reason enumerates why a logical key could not be routed.
type Reason string

const (
	ReasonUnknownKey        Reason = "unknown_key"
	ReasonInactive          Reason = "inactive"
	ReasonMissingCredential Reason = "missing_credential"
	ReasonDeniedModel       Reason = "denied_model"
	ReasonEndpointOffline   Reason = "endpoint_offline"
)

// NotRoutableError is returned by Resolve when a logical key cannot be
// served. The Reason is stable and caller-facing.
type NotRoutableError struct {
	LogicalKey string
	Reason     Reason
}

func (e *NotRoutableError) Error() string {
	return fmt.Sprintf("model key %q not routable: %s", e.LogicalKey, e.Reason)
}

// Route is the result of a successful resolution.
type Route struct {
	LogicalKey    string
	Dialect       string
	VendorModelID string
	APIKey        string
	BaseURL       string
}

// snapshot is an immutable view of the mapping and credential tables.
// Registries never mutate a snapshot in place; refresh builds a new one and
// swaps the pointer.
type snapshot struct {
	mappings    map[string]*store.ModelMapping
	credentials map[string]*store.Credential
	denied      map[string]struct{}
	loadedAt    time.Time
}

// Registry caches the model-mapping table and resolves logical keys against
// it. Invalidate must be called after any mapping or credential write; the
// request path never touches the store.
type Registry struct {
	store     store.Store
	denied    []string
	endpoints map[string]string // dialect -> base URL override from config
	snap      atomic.Pointer[snapshot]
	logger    *slog.Logger
}

// NewRegistry creates a registry. Call Invalidate once before serving to
// load the initial snapshot. Pass nil logger for default.
func NewRegistry(st store.Store, deniedModels []string, endpoints map[string]string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		store:     st,
		denied:    deniedModels,
		endpoints: endpoints,
		logger:    logger.With("component", "modelmap"),
	}
	r.snap.Store(&snapshot{
		mappings:    map[string]*store.ModelMapping{},
		credentials: map[string]*store.Credential{},
		denied:      deniedSet(deniedModels),
	})
	return r
}

// Invalidate rebuilds the snapshot from the store and atomically swaps it in.
// Concurrent resolutions keep reading the previous snapshot until the swap;
// none ever observes a half-updated view.
func (r *Registry) Invalidate(ctx context.Context) error {
	mappings, err := r.store.ListMappings(ctx)
	if err != nil {
		return fmt.Errorf("loading mappings: %w", err)
	}
	credentials, err := r.store.ListCredentials(ctx)
	if err != nil {
		return fmt.Errorf("loading credentials: %w", err)
	}

	next := &snapshot{
		mappings:    make(map[string]*store.ModelMapping, len(mappings)),
		credentials: make(map[string]*store.Credential, len(credentials)),
		denied:      deniedSet(r.denied),
		loadedAt:    time.Now(),
	}
	for _, m := range mappings {
		next.mappings[m.LogicalKey] = m
	}
	for _, c := range credentials {
		next.credentials[c.Ref] = c
	}

	r.snap.Store(next)
	r.logger.Debug("mapping snapshot refreshed",
		"mappings", len(mappings),
		"credentials", len(credentials))
	return nil
}

// Resolve maps a logical key to a concrete upstream route. It is a pure
// lookup over the current snapshot: no store access, no side effects, and
// never a channel registration for failed attempts.
func (r *Registry) Resolve(logicalKey string) (*Route, error) {
	snap := r.snap.Load()

	m, ok := snap.mappings[logicalKey]
	if !ok {
		return nil, &NotRoutableError{LogicalKey: logicalKey, Reason: ReasonUnknownKey}
	}
	if !m.Active {
		return nil, &NotRoutableError{LogicalKey: logicalKey, Reason: ReasonInactive}
	}
	if _, deny := snap.denied[m.VendorModelID]; deny {
		return nil, &NotRoutableError{LogicalKey: logicalKey, Reason: ReasonDeniedModel}
	}

	cred, ok := snap.credentials[m.CredentialRef]
	if !ok || cred.Expired(time.Now()) {
		return nil, &NotRoutableError{LogicalKey: logicalKey, Reason: ReasonMissingCredential}
	}
	if cred.Offline {
		return nil, &NotRoutableError{LogicalKey: logicalKey, Reason: ReasonEndpointOffline}
	}

	baseURL := cred.BaseURL
	if baseURL == "" {
		baseURL = r.endpoints[m.Dialect]
	}

	return &Route{
		LogicalKey:    logicalKey,
		Dialect:       m.Dialect,
		VendorModelID: m.VendorModelID,
		APIKey:        cred.APIKey,
		BaseURL:       baseURL,
	}, nil
}

// SnapshotAge returns how long ago the current snapshot was loaded.
// Zero time snapshot (never loaded) reports a zero age.
func (r *Registry) SnapshotAge() time.Duration {
	snap := r.snap.Load()
	if snap.loadedAt.IsZero() {
		return 0
	}
	return time.Since(snap.loadedAt)
}

func deniedSet(denied []string) map[string]struct{} {
	set := make(map[string]struct{}, len(denied))
	for _, d := range denied {
		set[d] = struct{}{}
	}
	return set
}
