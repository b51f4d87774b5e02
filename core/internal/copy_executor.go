package internal

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/xKoRx/echo-bridge/sdk/domain"
	"github.com/xKoRx/echo-bridge/sdk/telemetry"
	"github.com/xKoRx/echo-bridge/sdk/telemetry/semconv"
	"github.com/xKoRx/echo-bridge/sdk/utils"
)

// livenessView es la parte del Liveness Registry que consulta el dispatcher.
type livenessView interface {
	AccountExists(accountID string) bool
	IsAlive(accountID string) bool
	GetStatus(accountID string) (domain.AccountState, bool)
}

// commandSink es la parte de la cola que usa el dispatcher.
type commandSink interface {
	Enqueue(ctx context.Context, cmd *domain.Command) (string, error)
}

// dispatchRecorder registra la decisión de cada intento (auditoría queued/rejected).
type dispatchRecorder interface {
	RecordDispatch(ctx context.Context, copyFrom, account string, payload map[string]interface{}, result domain.DispatchResult)
}

// Dispatcher decide si una señal puede entregarse a una cuenta slave y, si puede,
// construye el comando y lo encola.
//
// Sin estado propio: es seguro llamarlo concurrentemente para la misma cuenta o para cuentas distintas.
type Dispatcher struct {
	registry  livenessView
	queue     commandSink
	history   dispatchRecorder
	metrics   *Metrics
	telemetry *telemetry.Client
	clock     utils.Clock
}

// DispatcherOption configura dependencias opcionales del dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatchHistory registra cada decisión en el historial.
func WithDispatchHistory(h dispatchRecorder) DispatcherOption {
	return func(d *Dispatcher) { d.history = h }
}

// WithDispatchMetrics publica decisiones en Prometheus.
func WithDispatchMetrics(m *Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithDispatchClock reemplaza el reloj usado para el timestamp del comando.
func WithDispatchClock(clock utils.Clock) DispatcherOption {
	return func(d *Dispatcher) { d.clock = clock }
}

// NewDispatcher crea un dispatcher sobre el registry y la cola.
func NewDispatcher(registry livenessView, queue commandSink, tel *telemetry.Client, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry:  registry,
		queue:     queue,
		telemetry: tel,
		clock:     utils.SystemClock,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch valida la cuenta slave y encola la señal.
//
// Orden de validación: existencia, liveness, pausa, activación. Nunca retorna error ni
// propaga panics: toda falla es un DispatchResult con Success=false y su código.
func (d *Dispatcher) Dispatch(ctx context.Context, slaveAccount string, payload map[string]interface{}, origin domain.OriginPair) (result domain.DispatchResult) {
	ctx, span := d.telemetry.StartSpan(ctx, "core.dispatch")
	defer span.End()

	account := strings.TrimSpace(slaveAccount)
	copyFrom := origin.CopyFrom()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("dispatch panic: %v", r)
			d.telemetry.RecordError(ctx, err)
			result = domain.DispatchFailed(account, domain.ErrInternal, "internal error while dispatching command")
		}
		d.finish(ctx, copyFrom, account, payload, result)
	}()

	return d.dispatch(ctx, account, payload, copyFrom)
}

func (d *Dispatcher) dispatch(ctx context.Context, account string, payload map[string]interface{}, copyFrom string) domain.DispatchResult {
	if _, err := domain.NormalizeAccountID(account); err != nil {
		return domain.DispatchFailed(account, domain.ErrInvalidAccount, errorMessage(err))
	}
	if err := domain.ValidateCommandPayload(payload); err != nil {
		return domain.DispatchFailed(account, domain.CodeOf(err), errorMessage(err))
	}

	if !d.registry.AccountExists(account) {
		return domain.DispatchFailed(account, domain.ErrUnknownAccount,
			fmt.Sprintf("account %s is not registered", account))
	}
	if !d.registry.IsAlive(account) {
		return domain.DispatchFailed(account, domain.ErrAccountOffline,
			fmt.Sprintf("account %s is offline", account))
	}
	state, ok := d.registry.GetStatus(account)
	if !ok {
		// La cuenta se eliminó entre la validación de existencia y la de estado
		return domain.DispatchFailed(account, domain.ErrUnknownAccount,
			fmt.Sprintf("account %s is not registered", account))
	}
	switch {
	case state.Status == domain.AccountStatusPaused:
		return domain.DispatchFailed(account, domain.ErrAccountPaused,
			fmt.Sprintf("account %s is paused", account))
	case state.Status == domain.AccountStatusAwaitingActivation:
		return domain.DispatchFailed(account, domain.ErrAccountNotActivated,
			fmt.Sprintf("account %s is awaiting activation", account))
	case !state.SymbolReceived:
		return domain.DispatchFailed(account, domain.ErrAccountNotActivated,
			fmt.Sprintf("account %s has not reported its symbols", account))
	}

	cmd := d.buildCommand(account, payload, copyFrom)
	id, err := d.queue.Enqueue(ctx, cmd)
	if err != nil {
		code := domain.CodeOf(err)
		if code == domain.ErrInternal {
			code = domain.ErrQueueWriteFailed
		}
		return domain.DispatchFailed(account, code, errorMessage(err))
	}
	return domain.DispatchOK(account, id)
}

// buildCommand copia la señal y estampa cuenta, timestamp UTC, origen e id.
func (d *Dispatcher) buildCommand(account string, payload map[string]interface{}, copyFrom string) *domain.Command {
	return &domain.Command{
		CommandID: utils.GenerateUUIDv7(),
		Account:   account,
		Action:    utils.ExtractString(payload, domain.FieldAction),
		Symbol:    utils.ExtractString(payload, domain.FieldSymbol),
		CopyFrom:  copyFrom,
		Timestamp: d.clock().UTC(),
		Payload:   domain.ClonePayload(payload),
	}
}

// finish emite el log único del intento, métricas y auditoría.
func (d *Dispatcher) finish(ctx context.Context, copyFrom, account string, payload map[string]interface{}, result domain.DispatchResult) {
	attrs := []attribute.KeyValue{
		semconv.Bridge.Component.String(semconv.ComponentValues.Dispatcher),
		semconv.Bridge.AccountID.String(account),
		semconv.Bridge.MasterAccount.String(copyFrom),
		semconv.Bridge.Action.String(utils.ExtractString(payload, domain.FieldAction)),
		semconv.Bridge.Symbol.String(utils.ExtractString(payload, domain.FieldSymbol)),
	}

	label := "success"
	if result.Success {
		attrs = append(attrs, semconv.Bridge.CommandID.String(result.CommandID))
		d.telemetry.Info(ctx, "Command dispatched", attrs...)
	} else {
		label = string(result.Code)
		attrs = append(attrs,
			semconv.Bridge.ErrorCode.String(string(result.Code)),
			semconv.Bridge.Reason.String(result.Message),
		)
		if result.Code == domain.ErrInternal || result.Code == domain.ErrQueueWriteFailed {
			d.telemetry.Error(ctx, "Command dispatch failed", domain.NewError(result.Code, result.Message), attrs...)
		} else {
			d.telemetry.Warn(ctx, "Command dispatch rejected", attrs...)
		}
	}

	d.metrics.DispatchResult(label)
	d.telemetry.BridgeMetrics().RecordDispatch(ctx, result.Success, string(result.Code))
	if d.history != nil {
		d.history.RecordDispatch(ctx, copyFrom, account, payload, result)
	}
}

// errorMessage retorna el mensaje legible de un BridgeError o el texto del error.
func errorMessage(err error) string {
	var be *domain.BridgeError
	if errors.As(err, &be) {
		return be.Message
	}
	return err.Error()
}
