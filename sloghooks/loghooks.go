// Package sloghooks reports cache events through log/slog.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/nemocache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery uint64
	RejectEvery   uint64
	ConflictEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr atomic.Uint64
	rejectCtr   atomic.Uint64
	conflictCtr atomic.Uint64
}

var _ nemocache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) SelfHeal(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Warn("nemocache.self_heal",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) ReadRejected(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.RejectEvery, &h.rejectCtr) {
		return
	}
	h.l.Debug("nemocache.read_rejected",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) RemoteWriteFailed(storageKey string, async bool, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("nemocache.remote_write_failed",
		"key", h.redact(storageKey),
		"async", async,
		"err", err)
}

func (h *Hooks) AsyncWriteDropped(storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Warn("nemocache.async_write_dropped",
		"key", h.redact(storageKey))
}

func (h *Hooks) CASConflict(storageKey string) {
	if h.l == nil || !sample(h.opts.ConflictEvery, &h.conflictCtr) {
		return
	}
	h.l.Info("nemocache.cas_conflict",
		"key", h.redact(storageKey))
}

func (h *Hooks) LockContended(storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Debug("nemocache.lock_contended",
		"key", h.redact(storageKey))
}

func (h *Hooks) LockReadbackMismatch(storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Warn("nemocache.lock_readback_mismatch",
		"key", h.redact(storageKey))
}

func (h *Hooks) RevisionRace(storageKey string, attempt int) {
	if h.l == nil {
		return
	}
	h.l.Debug("nemocache.revision_race",
		"key", h.redact(storageKey),
		"attempt", attempt)
}
