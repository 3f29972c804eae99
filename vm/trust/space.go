package trust

import (
	"maps"

	"github.com/sarchlab/pmap/tracing"
	"github.com/sarchlab/pmap/vm"
)

// Evaluate decides whether the mapping in req may be entered. Only
// executable mappings of enforced spaces are checked.
func (g *Gate) Evaluate(req Request) error {
	if !g.enabled || !req.Enforced || !req.Prot.Allows(vm.ProtExecute) {
		return nil
	}

	taskID := tracing.StartTask("", g, "trust", "evaluate", req.Prot)

	err := g.call("evaluate", func() error {
		return g.evaluateLocked(req)
	})

	tracing.EndTask(taskID, g, err)

	return err
}

func (g *Gate) evaluateLocked(req Request) error {
	if req.Prot.Allows(vm.ProtWrite|vm.ProtExecute) && !req.JIT {
		return vm.Errorf(vm.KindDenied, "evaluate",
			"writable and executable mapping without JIT")
	}

	if !req.HasHash {
		if g.invalidAllowedLocked(req.Space) {
			return nil
		}

		return vm.Errorf(vm.KindDenied, "evaluate", "unsigned code")
	}

	switch {
	case g.static[req.Hash].Found():
		return nil
	case g.LookupLoadedTrustCaches(req.Hash):
		return nil
	case req.JIT && g.matchCompilationServiceLocked(req.Hash):
		return nil
	}

	if _, ok := g.unrestricted[req.Hash]; ok {
		return nil
	}

	if g.invalidAllowedLocked(req.Space) {
		return nil
	}

	return vm.Errorf(vm.KindDenied, "evaluate", "untrusted code %x", req.Hash)
}

func (g *Gate) invalidAllowedLocked(space Space) bool {
	if g.config&ConfigAllowInvalidCode != 0 {
		return true
	}

	return space != nil && g.allowInvalid[space.ASID()]
}

// AllowInvalid lets the space run code that fails validation. It is only
// permitted in developer mode.
func (g *Gate) AllowInvalid(space Space) error {
	return g.call("cs_allow_invalid", func() error {
		if g.enabled && g.config&ConfigDeveloperMode == 0 {
			return vm.Errorf(vm.KindDenied, "cs_allow_invalid",
				"developer mode is off")
		}

		g.allowInvalid[space.ASID()] = true

		return nil
	})
}

// InvalidAllowed reports whether AllowInvalid succeeded for the space.
func (g *Gate) InvalidAllowed(space Space) bool {
	allowed := false

	_ = g.call("cs_invalid_allowed", func() error {
		allowed = g.invalidAllowedLocked(space)
		return nil
	})

	return allowed
}

// SetEntitlements attaches entitlements to a space, replacing earlier ones.
func (g *Gate) SetEntitlements(space Space, entitlements map[string]any) {
	_ = g.call("set_entitlements", func() error {
		g.entitlements[space.ASID()] = maps.Clone(entitlements)
		return nil
	})
}

// Entitlements returns a copy of the entitlements of a space.
func (g *Gate) Entitlements(space Space) map[string]any {
	var out map[string]any

	_ = g.call("entitlements", func() error {
		out = maps.Clone(g.entitlements[space.ASID()])
		return nil
	})

	return out
}

// QueryEntitlement returns the value of one entitlement of a space.
func (g *Gate) QueryEntitlement(space Space, key string) (any, bool) {
	var (
		v  any
		ok bool
	)

	_ = g.call("query_entitlements", func() error {
		v, ok = g.entitlements[space.ASID()][key]
		return nil
	})

	return v, ok
}

// ForgetSpace drops the state kept for a destroyed space.
func (g *Gate) ForgetSpace(space Space) {
	_ = g.call("forget_space", func() error {
		delete(g.entitlements, space.ASID())
		delete(g.allowInvalid, space.ASID())

		return nil
	})
}
