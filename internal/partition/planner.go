// Package partition plans and applies GPT layouts for the install target.
//
// Applying a plan is a one-way trip through wipe, commit and rediscover.
// The wipe always runs first, which is what makes re-running the whole
// pipeline against an already-partitioned disk well defined: every run
// starts from a clean table, at the documented cost of destroying whatever
// was on the device.
package partition

import (
	"fmt"
	"time"

	"github.com/sigreer/metalforge/internal/blockdev"
	"github.com/sigreer/metalforge/internal/fault"
	"github.com/sigreer/metalforge/internal/logging"
	"github.com/sigreer/metalforge/internal/sysrun"
)

// ChildLister re-enumerates a disk's partitions after the table changed.
type ChildLister interface {
	Children(path string) ([]blockdev.BlockDevice, error)
}

// DefaultSettle is how long to wait after partprobe for the kernel to
// publish the new partition nodes. Node creation is not synchronous with
// the table re-read, so rediscovery without a settle races udev.
const DefaultSettle = 2 * time.Second

// Planner applies a Plan to a disk.
type Planner struct {
	run     sysrun.Runner
	catalog ChildLister
	settle  time.Duration
	sleep   func(time.Duration)
}

func NewPlanner(r sysrun.Runner, catalog ChildLister, settle time.Duration) *Planner {
	if settle <= 0 {
		settle = DefaultSettle
	}
	return &Planner{run: r, catalog: catalog, settle: settle, sleep: time.Sleep}
}

// Apply runs the full wipe → commit → rediscover sequence and returns the
// created partitions, one per plan entry, in creation order.
func (p *Planner) Apply(device string, plan Plan) ([]blockdev.BlockDevice, error) {
	if err := p.Wipe(device); err != nil {
		return nil, err
	}
	if err := p.Commit(device, plan); err != nil {
		return nil, err
	}
	return p.Rediscover(device, plan)
}

// Wipe destroys all filesystem signatures and the partition table on the
// device. This is the first mutation of every run and is not reversible;
// any failure aborts before anything else is attempted.
func (p *Planner) Wipe(device string) error {
	log := logging.GetLogger("partition")
	log.Info().Str("device", device).Msg("wiping signatures and partition table")

	if _, err := p.run.Run("wipefs", "-a", device); err != nil {
		return fault.New(fault.DestructiveOpFailed, "wipe", device, err)
	}
	if _, err := p.run.Run("sgdisk", "-Z", device); err != nil {
		return fault.New(fault.DestructiveOpFailed, "wipe", device, err)
	}
	return nil
}

// Commit creates each plan entry on the device, in plan order. Order
// matters: remainder-sized entries are only correct once everything before
// them has been carved out.
func (p *Planner) Commit(device string, plan Plan) error {
	log := logging.GetLogger("partition")

	for _, e := range plan {
		log.Info().
			Str("device", device).
			Int("index", e.Index).
			Str("size", e.Size).
			Str("type", e.TypeCode).
			Msg("creating partition")

		args := []string{
			"-n", fmt.Sprintf("%d:0:%s", e.Index, e.Size),
			"-t", fmt.Sprintf("%d:%s", e.Index, e.TypeCode),
			"-c", fmt.Sprintf("%d:%s", e.Index, e.Label),
			device,
		}
		if _, err := p.run.Run("sgdisk", args...); err != nil {
			return fault.New(fault.DestructiveOpFailed, "partition", device, err)
		}
	}
	return nil
}

// Rediscover prompts the kernel to re-read the table, waits out the settle
// delay, and re-enumerates the device's children. The Nth child is matched
// to the Nth plan entry by creation order; names are never parsed, which
// keeps NVMe-style child naming out of the picture entirely. Positional
// matching does not verify sizes or type codes against the plan; that is a
// known limitation, so each pairing is logged.
func (p *Planner) Rediscover(device string, plan Plan) ([]blockdev.BlockDevice, error) {
	log := logging.GetLogger("partition")

	if _, err := p.run.Run("partprobe", device); err != nil {
		// The kernel may already have picked up the change; the child
		// count check below decides whether it actually did.
		log.Warn().Err(err).Str("device", device).Msg("partprobe failed")
	}
	p.sleep(p.settle)

	children, err := p.catalog.Children(device)
	if err != nil {
		return nil, err
	}
	if len(children) < len(plan) {
		return nil, fault.New(fault.DiscoveryMismatch, "rediscover", device,
			fmt.Errorf("planned %d partitions, kernel reports %d", len(plan), len(children)))
	}

	matched := children[:len(plan)]
	for i, child := range matched {
		log.Debug().
			Int("entry", plan[i].Index).
			Str("partition", child.Path).
			Uint64("size_bytes", child.SizeBytes).
			Msg("matched plan entry by position")
	}
	return matched, nil
}
