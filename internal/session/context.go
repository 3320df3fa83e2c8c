// Package session owns the student identity and the cache of accepted solution
// keys. Both live in the local store; no other package reads those keys.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"portal/internal/events"
	"portal/internal/keycodec"
	"portal/internal/localstore"
	"portal/internal/logging"
	"portal/internal/validate"
)

var ErrInvalidIdentity = errors.New("invalid identity")

// Identity is the self-declared student identity. There is no authentication.
type Identity struct {
	Klasse string `json:"klasse" validate:"notblank,max=100"`
	Name   string `json:"name" validate:"notblank,max=200"`
}

// Identifier is the submission identifier "klasse_name".
func (i Identity) Identifier() string {
	return i.Klasse + "_" + i.Name
}

func (i Identity) Normalize() Identity {
	return Identity{Klasse: strings.TrimSpace(i.Klasse), Name: strings.TrimSpace(i.Name)}
}

func (i Identity) Validate() error {
	if err := validate.Struct(i); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidIdentity, err)
	}
	return nil
}

// IdentityChange is the payload of events.IdentityChanged.
type IdentityChange struct {
	Identity Identity
	Present  bool
	// Remote is true when the change was made by another client of the same store.
	Remote bool
}

type Context struct {
	store localstore.Store
	bus   *events.Bus
	log   *logging.Logger

	// keysMu serializes read-modify-write cycles on the solution key blob.
	keysMu sync.Mutex
}

func New(store localstore.Store, bus *events.Bus, log *logging.Logger) *Context {
	if log == nil {
		log = logging.Nop()
	}
	return &Context{store: store, bus: bus, log: log.With("component", "session")}
}

// Identity returns the stored identity. A malformed value is logged and reported as absent.
func (c *Context) Identity(ctx context.Context) (Identity, bool, error) {
	raw, ok, err := c.store.Get(ctx, keycodec.StudentInfoKey)
	if err != nil {
		return Identity{}, false, fmt.Errorf("read identity: %w", err)
	}
	if !ok {
		return Identity{}, false, nil
	}
	id, ok := c.parseIdentity(raw)
	return id, ok, nil
}

func (c *Context) parseIdentity(raw string) (Identity, bool) {
	var id Identity
	if err := json.Unmarshal([]byte(raw), &id); err != nil {
		c.log.Warn("could not parse student info", "error", err)
		return Identity{}, false
	}
	return id, true
}

// SetIdentity validates and stores the identity.
func (c *Context) SetIdentity(ctx context.Context, id Identity) (Identity, error) {
	id = id.Normalize()
	if err := id.Validate(); err != nil {
		return Identity{}, err
	}
	raw, err := json.Marshal(id)
	if err != nil {
		return Identity{}, fmt.Errorf("marshal identity: %w", err)
	}
	if err := c.store.Set(ctx, keycodec.StudentInfoKey, string(raw)); err != nil {
		return Identity{}, fmt.Errorf("save identity: %w", err)
	}
	c.log.Info("student identity set", "klasse", id.Klasse)
	c.publish(IdentityChange{Identity: id, Present: true})
	return id, nil
}

// ClearIdentity removes the stored identity so the next submission asks again.
func (c *Context) ClearIdentity(ctx context.Context) error {
	if err := c.store.Delete(ctx, keycodec.StudentInfoKey); err != nil {
		return fmt.Errorf("clear identity: %w", err)
	}
	c.publish(IdentityChange{})
	return nil
}

func (c *Context) publish(change IdentityChange) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(events.Event{Topic: events.IdentityChanged, Payload: change})
}

// SolutionKey returns the last accepted key for an assignment.
func (c *Context) SolutionKey(ctx context.Context, assignmentID string) (string, bool, error) {
	keys, err := c.solutionKeys(ctx)
	if err != nil {
		return "", false, err
	}
	key, ok := keys[assignmentID]
	if !ok || key == "" {
		return "", false, nil
	}
	return key, true, nil
}

// RememberSolutionKey records a key the server accepted.
func (c *Context) RememberSolutionKey(ctx context.Context, assignmentID, key string) error {
	c.keysMu.Lock()
	defer c.keysMu.Unlock()
	keys, err := c.solutionKeys(ctx)
	if err != nil {
		return err
	}
	keys[assignmentID] = key
	return c.saveSolutionKeys(ctx, keys)
}

// ForgetSolutionKey drops a key the server rejected or could not confirm.
func (c *Context) ForgetSolutionKey(ctx context.Context, assignmentID string) error {
	c.keysMu.Lock()
	defer c.keysMu.Unlock()
	keys, err := c.solutionKeys(ctx)
	if err != nil {
		return err
	}
	if _, ok := keys[assignmentID]; !ok {
		return nil
	}
	delete(keys, assignmentID)
	return c.saveSolutionKeys(ctx, keys)
}

func (c *Context) solutionKeys(ctx context.Context) (map[string]string, error) {
	raw, ok, err := c.store.Get(ctx, keycodec.SolutionKeysKey)
	if err != nil {
		return nil, fmt.Errorf("read solution keys: %w", err)
	}
	keys := map[string]string{}
	if !ok || strings.TrimSpace(raw) == "" {
		return keys, nil
	}
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		c.log.Warn("could not parse solution key cache, starting empty", "error", err)
		return map[string]string{}, nil
	}
	if keys == nil {
		keys = map[string]string{}
	}
	return keys, nil
}

func (c *Context) saveSolutionKeys(ctx context.Context, keys map[string]string) error {
	raw, err := json.Marshal(keys)
	if err != nil {
		return fmt.Errorf("marshal solution keys: %w", err)
	}
	if err := c.store.Set(ctx, keycodec.SolutionKeysKey, string(raw)); err != nil {
		return fmt.Errorf("save solution keys: %w", err)
	}
	return nil
}

// Follow relays identity changes made by other clients of the store until ctx is
// done. Stores without change notifications return immediately.
func (c *Context) Follow(ctx context.Context) error {
	watcher, ok := c.store.(localstore.Watcher)
	if !ok {
		c.log.Debug("store has no change feed, identity follow disabled")
		return nil
	}
	changes, err := watcher.Watch(ctx)
	if err != nil {
		return fmt.Errorf("watch store: %w", err)
	}
	for change := range changes {
		if change.Local || change.Key != keycodec.StudentInfoKey {
			continue
		}
		if change.Deleted {
			c.publish(IdentityChange{Remote: true})
			continue
		}
		id, ok := c.parseIdentity(change.Value)
		if !ok {
			continue
		}
		c.publish(IdentityChange{Identity: id, Present: true, Remote: true})
	}
	return nil
}
