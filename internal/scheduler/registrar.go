// Package scheduler turns newly created guesses into one-shot settlement
// triggers.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/btcguess/internal/domain"
	"github.com/alanyoungcy/btcguess/internal/observability"
)

// Disposition is what HandleRecord did with a change-feed record.
type Disposition string

const (
	DispositionCreated   Disposition = "created"
	DispositionDuplicate Disposition = "duplicate"
	DispositionIgnored   Disposition = "ignored"
)

const (
	namePrefix    = "settle-"
	maxNameLength = 64
)

// RegistrarConfig identifies where triggers are created and what they invoke.
type RegistrarConfig struct {
	GroupName  string
	TargetID   string
	TargetAuth string
}

// Registrar registers one settlement trigger per guess.
type Registrar struct {
	triggers domain.TriggerService
	cfg      RegistrarConfig
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewRegistrar creates a Registrar. metrics may be nil.
func NewRegistrar(triggers domain.TriggerService, cfg RegistrarConfig, metrics *observability.Metrics, logger *slog.Logger) *Registrar {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registrar{
		triggers: triggers,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger.With(slog.String("component", "registrar")),
	}
}

// HandleRecord registers a trigger for a freshly inserted PENDING guess and
// ignores every other record. The change feed delivers all mutation types at
// least once, so filtering happens here.
func (r *Registrar) HandleRecord(ctx context.Context, rec domain.ChangeRecord) (Disposition, error) {
	img := rec.NewImage
	switch {
	case rec.EventType != domain.ChangeInsert:
		return r.ignore("not an insert", string(rec.EventType)), nil
	case img == nil || img.ID == "" || img.SettleAt == "":
		return r.ignore("missing id or settleAt", ""), nil
	case domain.GuessStatus(img.Status) != domain.GuessStatusPending:
		return r.ignore("not pending", img.ID), nil
	}

	settleAt, err := time.Parse(time.RFC3339Nano, img.SettleAt)
	if err != nil {
		r.logger.Warn("unparseable settleAt",
			slog.String("guess_id", img.ID),
			slog.String("settle_at", img.SettleAt),
		)
		return r.ignore("bad settleAt", img.ID), nil
	}
	return r.Register(ctx, img.ID, settleAt)
}

// Register creates the one-shot trigger that settles guessID at settleAt.
// An already-registered trigger counts as success.
func (r *Registrar) Register(ctx context.Context, guessID string, settleAt time.Time) (Disposition, error) {
	payload, err := json.Marshal(domain.SettleRequest{GuessID: guessID})
	if err != nil {
		return "", fmt.Errorf("marshal settle request: %w", err)
	}

	trigger := domain.OneShotTrigger{
		Name:                  ScheduleName(guessID),
		GroupName:             r.cfg.GroupName,
		FireAt:                settleAt.UTC().Truncate(time.Second),
		Timezone:              "UTC",
		TargetID:              r.cfg.TargetID,
		TargetAuth:            r.cfg.TargetAuth,
		PayloadJSON:           string(payload),
		AutoDeleteAfterFiring: true,
	}

	log := r.logger.With(
		slog.String("guess_id", guessID),
		slog.String("schedule", trigger.Name),
		slog.Time("fire_at", trigger.FireAt),
	)

	err = r.triggers.CreateOneShot(ctx, trigger)
	switch {
	case err == nil:
		log.Info("settlement trigger registered")
		r.metrics.Registration(string(DispositionCreated))
		return DispositionCreated, nil
	case errors.Is(err, domain.ErrAlreadyExists):
		log.Info("settlement trigger already registered")
		r.metrics.Registration(string(DispositionDuplicate))
		return DispositionDuplicate, nil
	default:
		r.metrics.Registration("error")
		return "", fmt.Errorf("register settlement for %s: %w", guessID, err)
	}
}

func (r *Registrar) ignore(why, detail string) Disposition {
	r.logger.Debug("change record ignored", slog.String("why", why), slog.String("detail", detail))
	r.metrics.Registration(string(DispositionIgnored))
	return DispositionIgnored
}

// ScheduleName derives the deterministic trigger name for a guess. Characters
// outside [0-9A-Za-z_.-] become '-' and the result is capped at 64 bytes.
func ScheduleName(guessID string) string {
	var b strings.Builder
	b.Grow(len(namePrefix) + len(guessID))
	b.WriteString(namePrefix)
	for _, c := range guessID {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '_', c == '.', c == '-':
			b.WriteRune(c)
		default:
			b.WriteByte('-')
		}
	}
	name := b.String()
	if len(name) > maxNameLength {
		name = name[:maxNameLength]
	}
	return name
}
