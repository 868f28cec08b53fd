package dietree

import "fmt"

// Validate checks the input-tree invariant of spec §3.3: every DIE
// reachable as a reference target from within a compile unit must also
// appear as a descendant of that same unit. It is not required — the
// tree encoder enforces the same invariant authoritatively as it walks
// the tree and reports DanglingReferenceError — but frontends can call it
// as a pre-flight check to get a diagnosis before spending time emitting
// bytes, mirroring how the original Python frontend
// (restructure.py/structure.py, out of scope for this encoder) was
// expected to guarantee the invariant before handing a tree to the
// serializer.
func Validate(units []*DIE) error {
	for _, unit := range units {
		reachable := map[*DIE]bool{}
		var mark func(d *DIE)
		mark = func(d *DIE) {
			if reachable[d] {
				return
			}
			reachable[d] = true
			for _, c := range d.Children {
				mark(c)
			}
		}
		mark(unit)

		var offenders []string
		seen := map[*DIE]bool{}
		var check func(d *DIE)
		check = func(d *DIE) {
			for _, v := range d.Attributes {
				if rv, ok := v.(RefValue); ok && rv.Target != nil && !reachable[rv.Target] {
					if !seen[rv.Target] {
						seen[rv.Target] = true
						offenders = append(offenders, fmt.Sprintf("%s (referenced from %s)", rv.Target, d))
					}
				}
			}
			for _, c := range d.Children {
				check(c)
			}
		}
		check(unit)

		if len(offenders) > 0 {
			return &DanglingReferenceError{Offenders: offenders}
		}
	}
	return nil
}
