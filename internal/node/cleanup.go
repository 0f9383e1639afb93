package node

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/iox2go/iceoryx2/internal/logx"
)

// ErrNodeStillAlive is returned by Remove when the node is observed Alive.
var ErrNodeStillAlive = errors.New("node: refusing to remove a node observed as alive")

// Cleaner removes the resources a node left behind after its process died
// without a graceful shutdown. It removes monitoring tokens only; port
// descriptors and connections are not touched. It never touches a node
// currently observed as Alive.
type Cleaner struct {
	root string
}

// NewCleaner returns a Cleaner operating against the given shared-memory root.
func NewCleaner(root string) *Cleaner {
	return &Cleaner{root: root}
}

// AbandonedNodes returns every node id currently observed as Dead: a token
// file exists but its owning process is gone.
func (c *Cleaner) AbandonedNodes() ([]uint64, error) {
	states, err := List(c.root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var dead []uint64
	for id, state := range states {
		if state == Dead {
			dead = append(dead, id)
		}
	}
	return dead, nil
}

// Remove deletes the monitoring token of a Dead node, making it observable
// as DoesNotExist. It refuses to act on a node observed as Alive.
func (c *Cleaner) Remove(id uint64) error {
	if Inspect(c.root, id) == Alive {
		return ErrNodeStillAlive
	}
	dir, err := tokenDir(c.root)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, fmt.Sprintf("%016x.node", id))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	logx.For("node").Infof("removed stale monitoring token for node %016x", id)
	return nil
}

// Sweep removes every currently Dead node's token and returns how many were
// removed. It is safe to call periodically from a CLI or janitor process.
func (c *Cleaner) Sweep() (int, error) {
	dead, err := c.AbandonedNodes()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, id := range dead {
		if err := c.Remove(id); err == nil {
			removed++
		}
	}
	return removed, nil
}
