package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/iox2go/iceoryx2/internal/logx"
)

// openRetryInterval paces the bounded retry loop inside OpenOrCreate and
// the opener's wait for a racing creator.
const openRetryInterval = 5 * time.Millisecond

// Store publishes and resolves static-config files under a well-known
// directory. File names are derived from the xxhash of the service name so
// user-visible names may contain characters (like '/') the filesystem
// namespace cannot.
type Store struct {
	Root   string
	Prefix string
}

func (s *Store) dir() string {
	return filepath.Join(s.Root, "services")
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir(), fmt.Sprintf("%s%016x.service", s.Prefix, xxhash.Sum64String(name)))
}

// Create atomically publishes cfg as the static config of cfg.Name. The
// content is written to a hidden temp file first and linked into place with
// the filesystem's exclusive-create semantic, so openers never observe a
// partially written config.
func (s *Store) Create(cfg *StaticConfig) error {
	if err := os.MkdirAll(s.dir(), 0o750); err != nil {
		return err
	}
	data := cfg.Serialize()

	tmp, err := os.CreateTemp(s.dir(), ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}
	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}

	// Link, not rename: link fails if the target exists, which is exactly
	// the lose-the-race signal OpenOrCreate needs.
	if err := os.Link(tmpName, s.path(cfg.Name)); err != nil {
		os.Remove(tmpName)
		if os.IsExist(err) {
			return ErrAlreadyExists
		}
		return err
	}
	os.Remove(tmpName)
	logx.For("registry").Debugf("created service %q (id %s)", cfg.Name, cfg.ServiceID)
	return nil
}

// Open loads the static config published for name.
func (s *Store) Open(name string) (*StaticConfig, error) {
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrDoesNotExist
		}
		return nil, err
	}
	if len(data) == 0 {
		return nil, ErrIsBeingCreated
	}
	return Deserialize(data)
}

// OpenWithTimeout behaves like Open but keeps retrying a config observed
// mid-creation until timeout elapses.
func (s *Store) OpenWithTimeout(name string, timeout time.Duration) (*StaticConfig, error) {
	deadline := time.Now().Add(timeout)
	for {
		cfg, err := s.Open(name)
		if err != ErrIsBeingCreated || !time.Now().Before(deadline) {
			if err == ErrIsBeingCreated {
				return nil, ErrInitializationNotYetFinalized
			}
			return cfg, err
		}
		time.Sleep(openRetryInterval)
	}
}

// Remove deletes the static config of name, if present.
func (s *Store) Remove(name string) error {
	if err := os.Remove(s.path(name)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Exists reports whether a static config for name is published.
func (s *Store) Exists(name string) bool {
	_, err := os.Stat(s.path(name))
	return err == nil
}

// List loads every static config currently published under the store root.
// Unreadable or mid-creation entries are skipped.
func (s *Store) List() ([]*StaticConfig, error) {
	entries, err := os.ReadDir(s.dir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []*StaticConfig
	for _, e := range entries {
		if !strings.HasSuffix(e.Name(), ".service") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir(), e.Name()))
		if err != nil || len(data) == 0 {
			continue
		}
		cfg, err := Deserialize(data)
		if err != nil {
			logx.For("registry").Warnf("skipping unreadable service entry %s: %v", e.Name(), err)
			continue
		}
		out = append(out, cfg)
	}
	return out, nil
}

// Verifier collects attribute requirements an opener imposes on an
// existing service: exact key/value pairs and keys that must merely be
// present.
type Verifier struct {
	required     []Attribute
	requiredKeys []string
}

// Require adds an exact (key, value) requirement.
func (v *Verifier) Require(key, value string) {
	v.required = append(v.required, Attribute{Key: key, Value: value})
}

// RequireKey requires key to be present with any value.
func (v *Verifier) RequireKey(key string) {
	v.requiredKeys = append(v.requiredKeys, key)
}

// VerifyRequirements checks v against the attribute set of an existing
// service, returning the first unsatisfied requirement's key alongside
// ErrIncompatibleAttributes.
func (v *Verifier) VerifyRequirements(attrs []Attribute) (string, error) {
	for _, req := range v.required {
		found := false
		for _, a := range attrs {
			if a.Key == req.Key && a.Value == req.Value {
				found = true
				break
			}
		}
		if !found {
			return req.Key, ErrIncompatibleAttributes
		}
	}
	for _, key := range v.requiredKeys {
		found := false
		for _, a := range attrs {
			if a.Key == key {
				found = true
				break
			}
		}
		if !found {
			return key, ErrIncompatibleAttributes
		}
	}
	return "", nil
}

// VerifyCompatibility checks whether an opener's requested config can
// attach to the existing one: same pattern and compatible type details.
func VerifyCompatibility(existing, requested *StaticConfig) error {
	if existing.Pattern != requested.Pattern {
		return ErrIncompatiblePattern
	}
	switch existing.Pattern {
	case PatternPublishSubscribe:
		if !existing.Payload.CompatibleWith(requested.Payload) ||
			!existing.UserHeader.CompatibleWith(requested.UserHeader) {
			return ErrIncompatibleTypes
		}
	case PatternRequestResponse:
		if !existing.Request.CompatibleWith(requested.Request) ||
			!existing.Response.CompatibleWith(requested.Response) {
			return ErrIncompatibleTypes
		}
	}
	return nil
}

// OpenOrCreate is the three-verb state machine shared by every service
// builder: try open; if missing, try create; if the create lost a race, try
// open again, bounded by timeout. The created return reports which path
// won.
func (s *Store) OpenOrCreate(cfg *StaticConfig, timeout time.Duration) (existing *StaticConfig, created bool, err error) {
	deadline := time.Now().Add(timeout)
	for {
		existing, err = s.Open(cfg.Name)
		switch err {
		case nil:
			if verr := VerifyCompatibility(existing, cfg); verr != nil {
				return nil, false, verr
			}
			return existing, false, nil
		case ErrDoesNotExist:
			if err := cfg.Seal(); err != nil {
				return nil, false, err
			}
			switch cerr := s.Create(cfg); cerr {
			case nil:
				return cfg, true, nil
			case ErrAlreadyExists:
				// Lost the race; loop back to open.
			default:
				return nil, false, cerr
			}
		case ErrIsBeingCreated:
			// Fall through to the bounded wait below.
		default:
			return nil, false, err
		}
		if !time.Now().Before(deadline) {
			return nil, false, ErrInitializationNotYetFinalized
		}
		time.Sleep(openRetryInterval)
	}
}
