package block

// Version reports the mutation counter of b, for variants that carry
// one (OKB, ACB, GB). CHB, NB, and UB are not version-numbered — they
// are either immutable or replace-in-place — so ok is false for them.
func Version(b Block) (uint64, bool) {
	switch v := b.(type) {
	case *OKB:
		return v.Version, true
	case *ACB:
		return v.Version, true
	case *GB:
		return v.Version, true
	default:
		return 0, false
	}
}
