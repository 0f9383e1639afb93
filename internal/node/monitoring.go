// Package node implements the per-process Node: a monitoring token other
// processes can use to tell Alive from Dead from DoesNotExist, a registry of
// the ports a process currently holds open, and a Cleaner that removes the
// stale resources a crashed node left behind. Grounded on the teacher's
// node.rs/node_monitoring.rs design, reimplemented with golang.org/x/sys/unix
// flock tokens instead of the C core's platform abstraction.
package node

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/iox2go/iceoryx2/internal/logx"
)

// State is the liveness of a monitored node as observed by another process.
type State int

const (
	// Alive means the monitoring token is held by a running process.
	Alive State = iota
	// Dead means the token file exists but its owning process is gone; the
	// node's resources are eligible for Cleaner.
	Dead
	// DoesNotExist means no token file was ever created, or it has already
	// been removed by a Cleaner.
	DoesNotExist
)

func (s State) String() string {
	switch s {
	case Alive:
		return "Alive"
	case Dead:
		return "Dead"
	case DoesNotExist:
		return "DoesNotExist"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Token is the monitoring file a live node holds an exclusive flock on. Its
// filename encodes the node's id so any process can find and inspect it.
type Token struct {
	path string
	file *os.File
	mu   sync.Mutex
}

// tokenDir returns (and creates) the directory holding monitoring tokens
// under the given shared-memory root.
func tokenDir(root string) (string, error) {
	dir := filepath.Join(root, "nodes")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", err
	}
	return dir, nil
}

// Acquire creates the monitoring token for id under root and flocks it
// exclusively for the lifetime of this process. The lock is released, and
// the state becomes observable as Dead to others, automatically when the
// process exits or calls Token.Close. name is recorded in the token so
// listings can show it.
func Acquire(root string, id uint64, name string) (*Token, error) {
	dir, err := tokenDir(root)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(dir, fmt.Sprintf("%016x.node", id))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o640)
	if err != nil {
		return nil, fmt.Errorf("node: create monitoring token: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, fmt.Errorf("node: token already held by a live process: %w", err)
	}
	if err := f.Truncate(0); err == nil {
		fmt.Fprintf(f, "%d\n%s\n", os.Getpid(), name)
	}
	return &Token{path: path, file: f}, nil
}

// Abandon drops the flock and closes the file descriptor without removing
// the token file, leaving exactly the state a crashed process leaves
// behind: the node becomes observable as Dead.
func (t *Token) Abandon() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return
	}
	unix.Flock(int(t.file.Fd()), unix.LOCK_UN)
	t.file.Close()
	t.file = nil
}

// ReadName returns the node name recorded in id's token, or "" if the
// token does not exist or carries no name.
func ReadName(root string, id uint64) string {
	dir, err := tokenDir(root)
	if err != nil {
		return ""
	}
	f, err := os.Open(filepath.Join(dir, fmt.Sprintf("%016x.node", id)))
	if err != nil {
		return ""
	}
	defer f.Close()
	var pid int32
	var name string
	if _, err := fmt.Fscanf(f, "%d\n%s\n", &pid, &name); err != nil {
		return ""
	}
	return name
}

// Close releases the monitoring token, making this node observable as
// DoesNotExist (the file is removed) rather than Dead.
func (t *Token) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.file == nil {
		return nil
	}
	unix.Flock(int(t.file.Fd()), unix.LOCK_UN)
	err := t.file.Close()
	os.Remove(t.path)
	t.file = nil
	return err
}

// Inspect reports the liveness of the node identified by id under root,
// without taking ownership of its token.
func Inspect(root string, id uint64) State {
	dir, err := tokenDir(root)
	if err != nil {
		return DoesNotExist
	}
	path := filepath.Join(dir, fmt.Sprintf("%016x.node", id))
	f, err := os.Open(path)
	if err != nil {
		return DoesNotExist
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		// Someone still holds the lock exclusively: alive.
		return Alive
	}
	// We grabbed the lock, meaning no one else holds it; cross-check the PID
	// recorded in the file against the process table before declaring Dead,
	// guarding against a flock implementation that silently no-ops (e.g. over
	// certain network filesystems).
	unix.Flock(int(f.Fd()), unix.LOCK_UN)
	var pid int32
	if _, err := fmt.Fscanf(f, "%d", &pid); err == nil && pid > 0 {
		if alive, _ := process.PidExists(pid); alive {
			logx.For("node").Debugf("token %d unlocked but pid %d still running; treating as alive", id, pid)
			return Alive
		}
	}
	return Dead
}

// List enumerates every node id with a token under root, alongside its
// observed state.
func List(root string) (map[uint64]State, error) {
	dir, err := tokenDir(root)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make(map[uint64]State, len(entries))
	for _, e := range entries {
		var id uint64
		if _, err := fmt.Sscanf(e.Name(), "%016x.node", &id); err != nil {
			continue
		}
		out[id] = Inspect(root, id)
	}
	return out, nil
}
