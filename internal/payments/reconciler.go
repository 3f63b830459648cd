package payments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/comunidade-viva/eventos-api/internal/database"
	"github.com/comunidade-viva/eventos-api/internal/models"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

var (
	ErrNoMatch          = errors.New("no registration matches the notification")
	ErrConcurrentUpdate = errors.New("registration was modified concurrently")
)

// NoMatchError carries the newest registrations so an operator can see why
// the identifiers did not line up.
type NoMatchError struct {
	Candidates []string
	Recent     []models.Registration
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("%s (ids %v)", ErrNoMatch.Error(), e.Candidates)
}

func (e *NoMatchError) Is(target error) bool { return target == ErrNoMatch }

const (
	StrategyPaymentID         = "payment_id"
	StrategyPreferenceID      = "preference_id"
	StrategyMerchantOrderID   = "merchant_order_id"
	StrategyExternalReference = "external_reference"
	StrategyPendingScan       = "pending_scan"
)

// Notifier is told about registrations that just became CONFIRMED.
type Notifier interface {
	NotifyConfirmed(event models.Event, reg models.Registration) error
}

type Result struct {
	Registration   models.Registration
	PreviousStatus models.RegistrationStatus
	Strategy       string
	// Skipped is set when the terminal guard refused the transition.
	Skipped bool
}

func (r *Result) Changed() bool {
	return !r.Skipped && r.PreviousStatus != r.Registration.Status
}

type Reconciler struct {
	conn          *database.Conn
	log           zerolog.Logger
	notifier      Notifier
	guardTerminal bool
}

type Option func(*Reconciler)

func WithNotifier(n Notifier) Option {
	return func(r *Reconciler) { r.notifier = n }
}

// WithTerminalGuard stops notifications from moving a registration out of
// CONFIRMED, CANCELLED or PAYMENT_FAILED.
func WithTerminalGuard(on bool) Option {
	return func(r *Reconciler) { r.guardTerminal = on }
}

func NewReconciler(conn *database.Conn, log zerolog.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{conn: conn, log: log.With().Str("component", "reconciler").Logger()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile finds the registration n refers to and applies its status.
// Lookup, update and history are committed together; the version column
// rejects a concurrent writer with ErrConcurrentUpdate.
func (r *Reconciler) Reconcile(ctx context.Context, n Notification) (*Result, error) {
	target, known := MapProviderStatus(n.Status)
	if !known {
		r.log.Warn().Str("provider_status", n.Status).Str("payment_id", n.PaymentID).Msg("unknown provider status, treating as pending")
	}

	var res *Result
	err := r.conn.Do(ctx, func(db *gorm.DB) error {
		res = nil
		return db.Transaction(func(tx *gorm.DB) error {
			reg, strategy, err := r.match(tx, n)
			if err != nil {
				return err
			}

			res = &Result{PreviousStatus: reg.Status, Strategy: strategy}

			if r.guardTerminal && reg.Status.Terminal() && reg.Status != target {
				res.Registration = reg
				res.Skipped = true
				return nil
			}

			return r.apply(tx, &reg, n, target, res)
		})
	})
	if err != nil {
		var noMatch *NoMatchError
		if errors.As(err, &noMatch) {
			noMatch.Recent = r.recent(ctx)
			r.log.Warn().Strs("ids", noMatch.Candidates).Int("recent", len(noMatch.Recent)).Msg("notification matched no registration")
		}
		return nil, err
	}

	logEvent := r.log.Info()
	if res.Skipped {
		logEvent = r.log.Warn()
	}
	logEvent.
		Uint("registration_id", res.Registration.ID).
		Str("strategy", res.Strategy).
		Str("from", string(res.PreviousStatus)).
		Str("to", string(target)).
		Str("provider_status", n.Status).
		Bool("skipped", res.Skipped).
		Msg("notification reconciled")

	if res.Changed() && res.Registration.Status == models.StatusConfirmed {
		r.notifyConfirmed(ctx, res.Registration)
	}

	return res, nil
}

func (r *Reconciler) apply(tx *gorm.DB, reg *models.Registration, n Notification, target models.RegistrationStatus, res *Result) error {
	details, _ := models.DecodePaymentDetails(reg.PaymentDetails)
	details.Provider = n.snapshot()

	paymentID := n.PaymentID
	if paymentID == "" {
		paymentID = reg.PaymentID
	}
	merchantOrderID := n.MerchantOrderID
	if merchantOrderID == "" {
		merchantOrderID = reg.MerchantOrderID
	}

	result := tx.Model(&models.Registration{}).
		Where("id = ? AND version = ?", reg.ID, reg.Version).
		Updates(map[string]any{
			"status":            target,
			"payment_id":        paymentID,
			"payment_error":     paymentError(n),
			"merchant_order_id": merchantOrderID,
			"payment_details":   details.Encode(),
			"version":           gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConcurrentUpdate
	}

	if reg.Status != target {
		history := models.RegistrationHistory{
			RegistrationID: reg.ID,
			FromStatus:     reg.Status,
			ToStatus:       target,
			Source:         models.HistorySourceWebhook,
			ProviderStatus: n.Status,
			Note:           n.StatusDetail,
		}
		if err := tx.Create(&history).Error; err != nil {
			return err
		}
	}

	var updated models.Registration
	if err := tx.First(&updated, reg.ID).Error; err != nil {
		return err
	}
	res.Registration = updated
	return nil
}

// match tries each lookup strategy in order; the first hit wins.
func (r *Reconciler) match(tx *gorm.DB, n Notification) (models.Registration, string, error) {
	lookups := []struct {
		name  string
		value string
		query string
	}{
		{StrategyPaymentID, n.PaymentID, "payment_id = @v"},
		{StrategyPreferenceID, n.PreferenceID, "payment_id = @v OR preference_id = @v"},
		{StrategyMerchantOrderID, n.MerchantOrderID, "payment_id = @v OR merchant_order_id = @v"},
		{StrategyExternalReference, n.ExternalReference, "external_reference = @v"},
	}

	for _, l := range lookups {
		if l.value == "" {
			continue
		}
		var reg models.Registration
		err := tx.Where(l.query, sql.Named("v", l.value)).
			Order("created_at DESC").Order("id DESC").
			First(&reg).Error
		if err == nil {
			return reg, l.name, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Registration{}, "", err
		}
	}

	ids := n.candidates()
	if reg, ok, err := scanPending(tx, ids); err != nil {
		return models.Registration{}, "", err
	} else if ok {
		r.log.Warn().Uint("registration_id", reg.ID).Strs("ids", ids).Msg("matched through pending scan")
		return reg, StrategyPendingScan, nil
	}

	return models.Registration{}, "", &NoMatchError{Candidates: ids}
}

// scanPending walks PENDING registrations newest first and returns the first
// whose stored payment details reference one of ids.
func scanPending(tx *gorm.DB, ids []string) (models.Registration, bool, error) {
	if len(ids) == 0 {
		return models.Registration{}, false, nil
	}

	var pending []models.Registration
	if err := tx.Where("status = ?", models.StatusPending).
		Order("created_at DESC").Order("id DESC").
		Find(&pending).Error; err != nil {
		return models.Registration{}, false, err
	}

	for _, reg := range pending {
		details, ok := models.DecodePaymentDetails(reg.PaymentDetails)
		if !ok {
			continue
		}
		for _, ref := range details.References() {
			if slices.Contains(ids, ref) {
				return reg, true, nil
			}
		}
	}
	return models.Registration{}, false, nil
}

func (r *Reconciler) recent(ctx context.Context) []models.Registration {
	var regs []models.Registration
	err := r.conn.Do(ctx, func(db *gorm.DB) error {
		return db.Order("created_at DESC").Order("id DESC").Limit(5).Find(&regs).Error
	})
	if err != nil {
		r.log.Error().Err(err).Msg("failed to load recent registrations")
	}
	return regs
}

func (r *Reconciler) notifyConfirmed(ctx context.Context, reg models.Registration) {
	if r.notifier == nil {
		return
	}

	var event models.Event
	if err := r.conn.DB(ctx).First(&event, reg.EventID).Error; err != nil {
		r.log.Warn().Err(err).Uint("event_id", reg.EventID).Msg("event not found for confirmation notice")
		event.ID = reg.EventID
	}

	start := time.Now()
	if err := r.notifier.NotifyConfirmed(event, reg); err != nil {
		r.log.Error().Err(err).Uint("registration_id", reg.ID).Msg("failed to send confirmation notice")
		return
	}
	r.log.Debug().Dur("elapsed", time.Since(start)).Uint("registration_id", reg.ID).Msg("confirmation notice sent")
}
