// Package spapipe implements the Pipeline Orchestrator (C7): the state
// machine that drives one received datagram through preprocessing, replay
// screening, policy lookup, the per-stanza decrypt/validate search loop,
// and dispatch. It is the only component that calls C1 through C6 and
// owns the per-packet control flow; everything downstream is driven
// exclusively from here.
package spapipe

import (
	"context"
	"errors"
	"log/slog"
	"net/netip"
	"time"

	"github.com/nullbind/spafwd/internal/dispatcher"
	spametrics "github.com/nullbind/spafwd/internal/metrics"
	"github.com/nullbind/spafwd/internal/policy"
	"github.com/nullbind/spafwd/internal/replaycache"
	"github.com/nullbind/spafwd/internal/spacrypto"
	"github.com/nullbind/spafwd/internal/spapacket"
	"github.com/nullbind/spafwd/internal/validator"
)

// Config bundles everything the orchestrator passes straight through to
// C1 and C5 without interpreting itself.
type Config struct {
	Packet    spapacket.Config
	Validator validator.Config
	TestMode  bool // mirrors opts->test: skip dispatch/commit, log only
}

// Orchestrator wires C1-C6 together and drives one packet at a time. The
// receiver loop (internal/netio) is the sole caller of Process; nothing
// else touches these collaborators concurrently per packet, matching §5's
// single-threaded-per-packet scheduling.
type Orchestrator struct {
	cfg      Config
	replay   *replaycache.Cache
	policy   *policy.Set
	services *policy.ServiceCatalog
	dispatch *dispatcher.Dispatcher
	logger   *slog.Logger

	now     func() time.Time
	feed    *VerdictFeed
	metrics *spametrics.Collector
}

// New builds an Orchestrator. now defaults to time.Now; tests may override
// it via WithClock for deterministic timestamp/expiration checks.
func New(cfg Config, replay *replaycache.Cache, policySet *policy.Set, services *policy.ServiceCatalog, dispatch *dispatcher.Dispatcher, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		replay:   replay,
		policy:   policySet,
		services: services,
		dispatch: dispatch,
		logger:   logger.With(slog.String("component", "spapipe")),
		now:      time.Now,
	}
}

// WithClock overrides the orchestrator's time source, for deterministic
// tests of timestamp-aging and expiration behavior.
func (o *Orchestrator) WithClock(now func() time.Time) { o.now = now }

// WithFeed attaches a VerdictFeed that every outcome is published to, for
// the admin control plane's TailVerdicts RPC. Optional: a nil feed (the
// default) simply skips publishing.
func (o *Orchestrator) WithFeed(feed *VerdictFeed) { o.feed = feed }

// WithMetrics attaches a Prometheus collector that pipeline events are
// recorded against. Optional: a nil collector (the default) skips metrics.
func (o *Orchestrator) WithMetrics(m *spametrics.Collector) { o.metrics = m }

func (o *Orchestrator) publish(kind validator.Kind, stanzaName string, src netip.Addr, reason error) {
	if o.feed == nil {
		return
	}
	o.feed.Publish(VerdictEvent{
		Kind:       kind,
		StanzaName: stanzaName,
		SourceAddr: src,
		Reason:     reason,
		Timestamp:  o.now(),
	})
}

// Process runs one received datagram through the full pipeline. It never
// returns a value the caller could route back to the sender — the only
// externally observable effect of failure is silence (§1 P1); the
// returned error exists purely for structured logging and metrics at the
// call site.
func (o *Orchestrator) Process(ctx context.Context, pkt spapacket.Packet) error {
	if o.metrics != nil {
		o.metrics.IncPacketsReceived()
	}

	norm, err := spapacket.Preprocess(o.cfg.Packet, pkt)
	if err != nil {
		o.logger.DebugContext(ctx, "dropped: preprocess failed", slog.String("error", err.Error()))
		return err
	}

	digest, err := o.replay.Screen(norm.Payload)
	if err != nil {
		if errors.Is(err, replaycache.ErrReplay) {
			o.logger.InfoContext(ctx, "dropped: replay detected", slog.String("src", norm.SrcAddr.String()))
			if o.metrics != nil {
				o.metrics.IncReplayRejected()
			}
		} else {
			o.logger.WarnContext(ctx, "dropped: replay cache error", slog.String("error", err.Error()))
		}
		return err
	}

	result, err := o.policy.Lookup(norm.SrcAddr.Addr(), norm.Identity)
	if err != nil {
		o.logger.DebugContext(ctx, "dropped: policy lookup miss", slog.String("error", err.Error()))
		if o.metrics != nil {
			o.metrics.IncPolicyMiss()
		}
		return err
	}

	return o.search(ctx, norm, digest, result.Candidates)
}

// search implements the classic-mode ordered stanza loop and the
// identity-mode one-shot attempt — identity mode's Result always carries
// exactly one candidate, so the same loop serves both (§4.7).
func (o *Orchestrator) search(ctx context.Context, norm spapacket.Normalized, digest replaycache.Digest, candidates []*policy.AccessStanza) error {
	now := o.now()

	var lastErr error
	for _, stanza := range candidates {
		log := o.logger.With(slog.String("stanza", stanza.Name))

		if !stanza.DestMatches(norm.DstAddr.Addr()) {
			continue
		}
		if stanza.Expired() {
			continue
		}

		ciphertext := norm.Decoded
		if norm.Identity.Present {
			ciphertext = ciphertext[4:]
		}

		plaintext, err := spacrypto.Attempt(o.logger, stanza, ciphertext)
		if err != nil {
			if !errors.Is(err, spacrypto.ErrNoMatchingKeyType) {
				log.DebugContext(ctx, "keep searching: decrypt failed", slog.String("error", err.Error()))
				if o.metrics != nil {
					o.metrics.IncDecryptFailure(stanza.Name)
				}
			}
			lastErr = err
			continue
		}

		if !o.cfg.TestMode {
			if err := o.replay.Commit(digest); err != nil {
				log.WarnContext(ctx, "replay digest commit failed", slog.String("error", err.Error()))
			} else if o.metrics != nil {
				if n, err := o.replay.Size(); err == nil && n >= 0 {
					o.metrics.SetReplayCacheSize(n)
				}
			}
		}

		decoded, err := validator.ParseDecodedMessage(plaintext)
		if err != nil {
			log.DebugContext(ctx, "keep searching: malformed decrypted message", slog.String("error", err.Error()))
			lastErr = err
			continue
		}

		verdict := validator.Validate(o.cfg.Validator, o.services, stanza, decoded, norm.SrcAddr.Addr(), now)
		switch verdict.Kind {
		case validator.KindAccept:
			return o.accept(ctx, log, verdict)
		case validator.KindStop:
			log.InfoContext(ctx, "stop searching: policy violation", slog.String("error", verdict.Reason.Error()))
			if o.metrics != nil {
				o.metrics.IncValidationRejected(stanza.Name)
			}
			o.publish(validator.KindStop, stanza.Name, norm.SrcAddr.Addr(), verdict.Reason)
			return verdict.Reason
		default: // KindKeep
			log.DebugContext(ctx, "keep searching", slog.String("error", verdict.Reason.Error()))
			lastErr = verdict.Reason
			continue
		}
	}

	if lastErr == nil {
		lastErr = errors.New("no candidate stanza matched")
	}
	o.logger.DebugContext(ctx, "dropped: no stanza accepted packet", slog.String("error", lastErr.Error()))
	o.publish(validator.KindKeep, "", norm.SrcAddr.Addr(), lastErr)
	return lastErr
}

func (o *Orchestrator) accept(ctx context.Context, log *slog.Logger, verdict validator.Verdict) error {
	src := verdict.Decoded.EffectiveSourceIP

	if o.cfg.TestMode {
		log.WarnContext(ctx, "test mode: accepted but skipping dispatch")
		o.publish(validator.KindAccept, verdict.Stanza.Name, src, nil)
		return nil
	}

	if err := o.dispatch.Dispatch(ctx, verdict); err != nil {
		log.ErrorContext(ctx, "dispatch failed", slog.String("error", err.Error()))
		if o.metrics != nil {
			o.metrics.IncDispatchFailure(o.dispatch.Backend())
		}
		return err
	}

	if o.metrics != nil {
		o.metrics.IncAdmitted(o.dispatch.Backend())
	}
	o.publish(validator.KindAccept, verdict.Stanza.Name, src, nil)

	log.InfoContext(ctx, "accepted and dispatched")
	return nil
}
