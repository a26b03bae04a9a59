package vault

// Snapshot and restore hooks used by the deterministic core. The vault
// exposes copies only; callers never see the live position map.

// SnapshotPositions returns a copy of every open position.
func (v *Vault[K]) SnapshotPositions() map[K]Position {
	out := make(map[K]Position, len(v.positions))
	for key, pos := range v.positions {
		out[key] = *pos
	}
	return out
}

// RestoreState replaces the vault's settings, pool, and positions wholesale.
// Settings are not re-validated: they passed validation when first applied,
// and a snapshot is trusted state.
func (v *Vault[K]) RestoreState(settings Settings, pool DebtPool, positions map[K]Position) {
	v.settings = settings
	v.pool = pool
	v.positions = make(map[K]*Position, len(positions))
	for key, pos := range positions {
		p := pos
		v.positions[key] = &p
	}
}
