// Walvault - Backup, Archival and Point-in-Time Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/walvault

/*
orchestrator.go - Restore State Machine

A restore run walks a fixed state sequence:

	idle → preparing → safety_snapshot → base_restore → log_replay
	     → validating → promoted

Any failure after the safety snapshot diverts to rolled_back: the staged
session is discarded and the safety snapshot (taken unconditionally,
--force cannot skip it) is restored over the destination, returning it
to its exact pre-restore state. Failures before the safety snapshot
(busy destination, no suitable backup) abort with nothing touched.

Log replay is strict: segments are applied in sequence order, each one
checksum-verified first, and a hole or corrupt segment in the chain
aborts the run. Replaying past missing history would fabricate a state
the store was never in.
*/

package restore

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/walvault/internal/archive"
	"github.com/tomtom215/walvault/internal/backup"
	"github.com/tomtom215/walvault/internal/catalog"
	"github.com/tomtom215/walvault/internal/config"
	"github.com/tomtom215/walvault/internal/faults"
	"github.com/tomtom215/walvault/internal/logging"
	"github.com/tomtom215/walvault/internal/metrics"
	"github.com/tomtom215/walvault/internal/notify"
)

// State is a position in the restore lifecycle.
type State string

const (
	StateIdle           State = "idle"
	StatePreparing      State = "preparing"
	StateSafetySnapshot State = "safety_snapshot"
	StateBaseRestore    State = "base_restore"
	StateLogReplay      State = "log_replay"
	StateValidating     State = "validating"
	StatePromoted       State = "promoted"
	StateRolledBack     State = "rolled_back"
)

// Options tunes one restore run.
type Options struct {
	// Force proceeds past a busy destination. It never skips the
	// safety snapshot.
	Force bool
	// Scope limits the restore; the zero value restores everything.
	Scope Scope
}

// Result describes a finished restore run.
type Result struct {
	Outcome          catalog.RestoreOutcome
	State            State
	Base             catalog.Artifact
	Safety           catalog.Artifact
	SegmentsReplayed uint64
	Reason           string
}

// Orchestrator drives restore runs.
type Orchestrator struct {
	cfg       *config.Config
	transport archive.Transport
	cat       *catalog.Catalog
	producer  *backup.Producer
	notifier  *notify.Dispatcher

	mu      sync.Mutex
	running map[string]bool
}

// NewOrchestrator wires the orchestrator to its collaborators.
func NewOrchestrator(cfg *config.Config, t archive.Transport, cat *catalog.Catalog, p *backup.Producer, n *notify.Dispatcher) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		transport: t,
		cat:       cat,
		producer:  p,
		notifier:  n,
		running:   make(map[string]bool),
	}
}

// run carries one restore attempt through the state machine.
type run struct {
	o         *Orchestrator
	dest      Destination
	target    Target
	opts      Options
	plan      Plan
	safety    catalog.Artifact
	session   Session
	replayed  uint64
	state     State
	startedAt time.Time
}

func (r *run) transition(next State) {
	logging.Info().
		Str("store", r.dest.Name()).
		Str("from", string(r.state)).
		Str("to", string(next)).
		Msg("Restore state transition")
	r.state = next
}

// Run executes one restore. A returned error with a zero-outcome Result
// means nothing was modified; an error alongside a rolled_back Result
// carries the failure that triggered the rollback.
func (o *Orchestrator) Run(ctx context.Context, dest Destination, target Target, opts Options) (Result, error) {
	store := dest.Name()

	o.mu.Lock()
	if o.running[store] {
		o.mu.Unlock()
		return Result{}, faults.Wrap(faults.KindBusy,
			fmt.Sprintf("restore already running for store %s", store), faults.ErrDestinationBusy)
	}
	o.running[store] = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.running, store)
		o.mu.Unlock()
	}()

	r := &run{
		o:         o,
		dest:      dest,
		target:    target,
		opts:      opts,
		state:     StateIdle,
		startedAt: time.Now().UTC(),
	}
	return r.execute(ctx)
}

func (r *run) execute(ctx context.Context) (Result, error) {
	store := r.dest.Name()

	// Preparing: resolve the plan and check the destination, touching
	// nothing yet.
	r.transition(StatePreparing)
	plan, err := Resolve(ctx, r.o.cat, store, r.target)
	if err != nil {
		return Result{State: r.state}, err
	}
	r.plan = plan

	busy, err := r.dest.Busy(ctx)
	if err != nil {
		return Result{State: r.state}, err
	}
	if busy && !r.opts.Force {
		return Result{State: r.state}, faults.Wrap(faults.KindBusy,
			fmt.Sprintf("destination %s is busy", store), faults.ErrDestinationBusy)
	}

	// Safety snapshot: unconditional, the rollback anchor.
	r.transition(StateSafetySnapshot)
	safety, err := r.o.producer.CreateFull(ctx, r.dest, catalog.TriggerPreRestore)
	if err != nil {
		return Result{State: r.state}, faults.Wrap(faults.KindInternal, "safety snapshot failed, restore aborted", err)
	}
	r.safety = safety

	session, err := r.dest.BeginRestore(ctx, r.opts.Scope)
	if err != nil {
		return Result{State: r.state}, err
	}
	r.session = session

	// From here on, failure means rollback.
	if err := r.baseRestore(ctx); err != nil {
		return r.rollback(ctx, err)
	}
	if err := r.replay(ctx); err != nil {
		return r.rollback(ctx, err)
	}
	if err := r.validate(ctx); err != nil {
		return r.rollback(ctx, err)
	}

	if err := r.session.Commit(ctx); err != nil {
		return r.rollback(ctx, faults.Wrap(faults.KindTransientIO, "commit restore session", err))
	}
	r.transition(StatePromoted)

	result := Result{
		Outcome:          catalog.RestorePromoted,
		State:            StatePromoted,
		Base:             r.plan.Base,
		Safety:           r.safety,
		SegmentsReplayed: r.replayed,
	}
	r.finish(ctx, result, "")
	return result, nil
}

// baseRestore streams the base artifact's collections into the session.
func (r *run) baseRestore(ctx context.Context) error {
	r.transition(StateBaseRestore)

	if err := archive.Verify(ctx, r.o.transport, r.plan.Base.Key); err != nil {
		return err
	}
	rc, err := r.o.transport.Get(ctx, r.plan.Base.Key)
	if err != nil {
		return err
	}
	defer rc.Close() //nolint:errcheck // Read side

	scoped := !r.opts.Scope.IsFull()
	found := false
	_, err = backup.ExtractContainer(ctx, rc, r.plan.Base.Compression, func(collection string, data io.Reader) error {
		if scoped {
			if collection != r.opts.Scope.Table {
				return nil
			}
			found = true
		}
		return r.session.Load(ctx, collection, data)
	})
	if err != nil {
		return err
	}
	if scoped && !found {
		return faults.New(faults.KindValidationFailure,
			fmt.Sprintf("collection %s is not in the base backup", r.opts.Scope.Table))
	}
	return nil
}

// replay applies archived segments in strict sequence order.
func (r *run) replay(ctx context.Context) error {
	r.transition(StateLogReplay)

	if r.plan.SegmentCount() == 0 {
		logging.Info().
			Str("store", r.dest.Name()).
			Uint64("marker", r.plan.Base.Marker).
			Msg("Base backup already covers the target, no replay")
		return nil
	}

	segs, err := r.o.cat.SegmentsInRange(ctx, r.dest.Name(), r.plan.ReplayFrom, r.plan.ReplayTo)
	if err != nil {
		return err
	}

	expected := r.plan.ReplayFrom
	for _, seg := range segs {
		if seg.Seq != expected {
			return faults.Wrap(faults.KindGap,
				fmt.Sprintf("log chain broken: expected segment %d, found %d", expected, seg.Seq), faults.ErrGap)
		}
		if seg.Corrupt {
			return faults.Wrap(faults.KindCorruption,
				fmt.Sprintf("segment %d is flagged corrupt", seg.Seq), faults.ErrCorruption)
		}
		if err := archive.Verify(ctx, r.o.transport, seg.Key); err != nil {
			return err
		}
		rc, err := r.o.transport.Get(ctx, seg.Key)
		if err != nil {
			return err
		}
		applyErr := r.session.Apply(ctx, seg.Seq, rc)
		rc.Close() //nolint:errcheck // Read side
		if applyErr != nil {
			return faults.Wrap(faults.KindTransientIO,
				fmt.Sprintf("apply segment %d", seg.Seq), applyErr)
		}
		metrics.SegmentsReplayed.WithLabelValues(r.dest.Name()).Inc()
		r.replayed++
		expected++
	}
	if expected <= r.plan.ReplayTo {
		return faults.Wrap(faults.KindGap,
			fmt.Sprintf("log chain ends at segment %d, target needs %d", expected-1, r.plan.ReplayTo), faults.ErrGap)
	}
	return nil
}

// validate runs the reduced post-restore content check: everything the
// base backup carried is present and critical collections are non-empty.
func (r *run) validate(ctx context.Context) error {
	r.transition(StateValidating)

	counts, err := r.session.Counts(ctx)
	if err != nil {
		return faults.Wrap(faults.KindValidationFailure, "read restored counts", err)
	}

	if !r.opts.Scope.IsFull() {
		if counts[r.opts.Scope.Table] == 0 && r.plan.Base.Counts[r.opts.Scope.Table] > 0 {
			return faults.New(faults.KindValidationFailure,
				fmt.Sprintf("restored table %s is empty", r.opts.Scope.Table))
		}
		return nil
	}

	critical := make(map[string]bool)
	if sc, err := r.o.cfg.StoreByName(r.dest.Name()); err == nil {
		for _, name := range sc.CriticalCollections {
			critical[name] = true
		}
	}
	for name, baseCount := range r.plan.Base.Counts {
		got, ok := counts[name]
		if !ok {
			return faults.New(faults.KindValidationFailure,
				fmt.Sprintf("collection %s missing after restore", name))
		}
		if critical[name] && got == 0 && baseCount > 0 {
			return faults.New(faults.KindValidationFailure,
				fmt.Sprintf("critical collection %s restored empty", name))
		}
	}
	return nil
}

// rollback discards the staged session and restores the safety snapshot,
// returning the destination to its pre-restore state.
func (r *run) rollback(ctx context.Context, cause error) (Result, error) {
	logging.Error().Err(cause).
		Str("store", r.dest.Name()).
		Str("state", string(r.state)).
		Msg("Restore failed, rolling back")

	if err := r.session.Abort(ctx); err != nil {
		logging.Error().Err(err).Str("store", r.dest.Name()).Msg("Session abort failed")
	}

	if err := r.restoreSafety(ctx); err != nil {
		// The destination may be left aborted but not restored. This is
		// the one outcome that needs a human.
		r.notifyOutcome(ctx, notify.SeverityCritical, "restore.rollback_failed",
			fmt.Sprintf("rollback failed: %v (original failure: %v)", err, cause))
		return Result{State: r.state, Reason: cause.Error()},
			faults.Wrap(faults.KindInternal, "rollback failed", err)
	}

	r.transition(StateRolledBack)
	result := Result{
		Outcome:          catalog.RestoreRolledBack,
		State:            StateRolledBack,
		Base:             r.plan.Base,
		Safety:           r.safety,
		SegmentsReplayed: r.replayed,
		Reason:           cause.Error(),
	}
	r.finish(ctx, result, cause.Error())
	return result, cause
}

// restoreSafety loads the safety snapshot back into the destination. The
// snapshot is checksum-verified before a byte of it is applied.
func (r *run) restoreSafety(ctx context.Context) error {
	if err := archive.Verify(ctx, r.o.transport, r.safety.Key); err != nil {
		return err
	}
	rc, err := r.o.transport.Get(ctx, r.safety.Key)
	if err != nil {
		return err
	}
	defer rc.Close() //nolint:errcheck // Read side

	session, err := r.dest.BeginRestore(ctx, Scope{})
	if err != nil {
		return err
	}
	_, err = backup.ExtractContainer(ctx, rc, r.safety.Compression, func(collection string, data io.Reader) error {
		return session.Load(ctx, collection, data)
	})
	if err != nil {
		session.Abort(ctx) //nolint:errcheck // Already failing
		return err
	}
	return session.Commit(ctx)
}

// finish records the terminal state in the catalog and reports it.
func (r *run) finish(ctx context.Context, result Result, reason string) {
	elapsed := time.Since(r.startedAt)
	metrics.RestoreDuration.WithLabelValues(r.dest.Name(), string(result.Outcome)).Observe(elapsed.Seconds())

	record := catalog.RestoreRecord{
		ID:               uuid.New().String(),
		Store:            r.dest.Name(),
		ArtifactID:       r.plan.Base.ID,
		Target:           r.target.String(),
		Scope:            r.scopeLabel(),
		StartedAt:        r.startedAt,
		FinishedAt:       time.Now().UTC(),
		Outcome:          result.Outcome,
		SegmentsReplayed: result.SegmentsReplayed,
		Reason:           reason,
	}
	if err := r.o.cat.PutRestoreRecord(ctx, record); err != nil {
		logging.Error().Err(err).Str("store", r.dest.Name()).Msg("Failed to record restore outcome")
	}

	if result.Outcome == catalog.RestorePromoted {
		logging.Info().
			Str("store", r.dest.Name()).
			Str("target", r.target.String()).
			Uint64("segments_replayed", result.SegmentsReplayed).
			Dur("elapsed", elapsed).
			Msg("Restore promoted")
		r.notifyOutcome(ctx, notify.SeverityInfo, "restore.promoted",
			fmt.Sprintf("restore to %s promoted after replaying %d segments", r.target, result.SegmentsReplayed))
		return
	}
	r.notifyOutcome(ctx, notify.SeverityCritical, "restore.rolled_back",
		fmt.Sprintf("restore to %s rolled back: %s", r.target, reason))
}

func (r *run) scopeLabel() string {
	if r.opts.Scope.IsFull() {
		return "full"
	}
	return "table:" + r.opts.Scope.Table
}

func (r *run) notifyOutcome(ctx context.Context, sev notify.Severity, eventType, msg string) {
	r.o.notifier.Dispatch(ctx, notify.Event{
		Type:       eventType,
		Severity:   sev,
		Store:      r.dest.Name(),
		ArtifactID: r.plan.Base.ID,
		Message:    msg,
	})
}
