package composite

import (
	"golang.org/x/sync/errgroup"

	"github.com/kevmo314/usb-composite-core/framework"
)

// maxFanout bounds how many framework/HCI round-trips run concurrently. The
// teacher's go.mod already names golang.org/x/sync as an (until now unused)
// indirect dependency; this is where the module actually puts errgroup to
// work, fanning out the independent per-child and per-configuration calls
// spec.md's original serial C loops had no structured way to parallelize.
const maxFanout = 8

// retractChildren issues framework.RemoveChild on every child concurrently,
// bounded by maxFanout, and returns the first error encountered (if any)
// after all removals have been attempted.
func retractChildren(fw framework.Capability, children []*InterfaceChild) error {
	if len(children) <= 1 {
		for _, c := range children {
			if err := fw.RemoveChild(c.node); err != nil {
				return newError(CodeIO, "retract_all", err)
			}
		}
		return nil
	}

	var g errgroup.Group
	g.SetLimit(maxFanout)
	for _, c := range children {
		child := c
		g.Go(func() error {
			if err := fw.RemoveChild(child.node); err != nil {
				return newError(CodeIO, "retract_all", err)
			}
			return nil
		})
	}
	return g.Wait()
}
