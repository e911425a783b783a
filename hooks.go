package nemocache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them on hot paths.
type Hooks interface {
	// A remote entry was removed by the cache on read.
	// reason ∈ {"corrupt", "value_decode"}
	SelfHeal(storageKey, reason string)

	// A read found an entry but refused it (treated as a miss).
	// reason ∈ {"expired", "version_mismatch", "kind_mismatch"}
	ReadRejected(storageKey, reason string)

	// A remote write or sliding refresh failed.
	RemoteWriteFailed(storageKey string, async bool, err error)

	// The async write queue was full and the write was dropped.
	AsyncWriteDropped(storageKey string)

	// A versioned write lost against a newer CAS token.
	CASConflict(storageKey string)

	// Lock acquisition found the lock already held.
	LockContended(storageKey string)

	// Lock verification read back a token that is not ours.
	LockReadbackMismatch(storageKey string)

	// Revision initialization lost an add race and re-read.
	RevisionRace(storageKey string, attempt int)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) SelfHeal(string, string)               {}
func (NopHooks) ReadRejected(string, string)           {}
func (NopHooks) RemoteWriteFailed(string, bool, error) {}
func (NopHooks) AsyncWriteDropped(string)              {}
func (NopHooks) CASConflict(string)                    {}
func (NopHooks) LockContended(string)                  {}
func (NopHooks) LockReadbackMismatch(string)           {}
func (NopHooks) RevisionRace(string, int)              {}
