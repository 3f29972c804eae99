package pmap

// CSAllowInvalid lets p run code that fails validation. The trust gate
// refuses unless developer mode is on.
func (m *Manager) CSAllowInvalid(p *Pmap) error {
	m.Require(p)

	if err := m.gate.AllowInvalid(p); err != nil {
		return err
	}

	p.allowInvalid.Store(true)

	return nil
}

// InvalidAllowed returns true once CSAllowInvalid succeeded for p.
func (p *Pmap) InvalidAllowed() bool {
	return p.allowInvalid.Load()
}

// CSForkPrepare carries the code signing state of parent over to child,
// its fork.
func (m *Manager) CSForkPrepare(parent, child *Pmap) error {
	m.Require(parent)
	m.Require(child)

	if parent.JITEntitled() {
		child.SetJITEntitled()
	}

	child.SetCSEnforced(parent.CSEnforced())

	if parent.InvalidAllowed() {
		if err := m.CSAllowInvalid(child); err != nil {
			return err
		}
	}

	if ents := m.gate.Entitlements(parent); ents != nil {
		m.gate.SetEntitlements(child, ents)
	}

	return nil
}
