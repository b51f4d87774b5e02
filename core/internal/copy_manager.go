package internal

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/xKoRx/echo-bridge/sdk/domain"
	"github.com/xKoRx/echo-bridge/sdk/telemetry"
	"github.com/xKoRx/echo-bridge/sdk/telemetry/semconv"
)

type signalDispatcher interface {
	Dispatch(ctx context.Context, slaveAccount string, payload map[string]interface{}, origin domain.OriginPair) domain.DispatchResult
}

// CopyManager resuelve los slaves de un master y despacha la señal a cada uno.
type CopyManager struct {
	pairs      domain.CopyPairRepository
	dispatcher signalDispatcher
	telemetry  *telemetry.Client
}

// NewCopyManager crea el manager.
func NewCopyManager(pairs domain.CopyPairRepository, dispatcher signalDispatcher, tel *telemetry.Client) *CopyManager {
	return &CopyManager{pairs: pairs, dispatcher: dispatcher, telemetry: tel}
}

// CopySignal despacha payload a todos los slaves habilitados de master.
//
// Retorna un resultado por slave; el fallo de uno no detiene a los demás.
// Un master sin pares retorna un reporte vacío. Solo falla si no se pueden leer los pares.
func (m *CopyManager) CopySignal(ctx context.Context, master string, payload map[string]interface{}) (domain.FanOutReport, error) {
	master, err := domain.NormalizeAccountID(master)
	if err != nil {
		return domain.FanOutReport{}, err
	}
	if err := domain.ValidateCommandPayload(payload); err != nil {
		return domain.FanOutReport{}, err
	}

	report := domain.FanOutReport{MasterAccount: master, Results: []domain.DispatchResult{}}
	pairs, err := m.pairs.ListByMaster(ctx, master)
	if err != nil {
		return report, fmt.Errorf("list copy pairs for %s: %w", master, err)
	}

	for _, pair := range pairs {
		origin := domain.OriginPair{PairID: pair.ID, MasterAccount: master}
		report.Add(m.dispatcher.Dispatch(ctx, pair.SlaveAccount, payload, origin))
	}

	m.telemetry.Info(ctx, "Signal fanned out",
		semconv.Bridge.MasterAccount.String(master),
		semconv.Bridge.Count.Int(len(pairs)),
		semconv.Bridge.Action.String(fmt.Sprint(payload[domain.FieldAction])),
		semconv.Bridge.Symbol.String(fmt.Sprint(payload[domain.FieldSymbol])),
	)
	return report, nil
}

// AddPair vincula master → slave. Un par existente se retorna tal como está guardado,
// sin re-habilitarlo.
func (m *CopyManager) AddPair(ctx context.Context, master, slave string) (*domain.CopyPair, error) {
	master, err := domain.NormalizeAccountID(master)
	if err != nil {
		return nil, err
	}
	slave, err = domain.NormalizeAccountID(slave)
	if err != nil {
		return nil, err
	}
	if master == slave {
		return nil, domain.NewError(domain.ErrInvalidAccount, "master and slave must differ")
	}

	pair, err := m.pairs.Create(ctx, &domain.CopyPair{MasterAccount: master, SlaveAccount: slave, Enabled: true})
	if err != nil {
		return nil, fmt.Errorf("create copy pair %s→%s: %w", master, slave, err)
	}
	m.telemetry.Info(ctx, "Copy pair added",
		semconv.Bridge.PairID.Int64(pair.ID),
		attribute.Bool("enabled", pair.Enabled),
		semconv.Bridge.MasterAccount.String(master),
		semconv.Bridge.AccountID.String(slave),
	)
	return pair, nil
}

// ListPairs retorna todos los pares.
func (m *CopyManager) ListPairs(ctx context.Context) ([]*domain.CopyPair, error) {
	return m.pairs.List(ctx)
}

// SetPairEnabled habilita o deshabilita un par.
func (m *CopyManager) SetPairEnabled(ctx context.Context, id int64, enabled bool) error {
	if err := m.pairs.SetEnabled(ctx, id, enabled); err != nil {
		return err
	}
	m.telemetry.Info(ctx, "Copy pair updated",
		semconv.Bridge.PairID.Int64(id),
		semconv.Bridge.Status.Bool(enabled),
	)
	return nil
}

// RemovePair elimina un par.
func (m *CopyManager) RemovePair(ctx context.Context, id int64) error {
	if err := m.pairs.Delete(ctx, id); err != nil {
		return err
	}
	m.telemetry.Info(ctx, "Copy pair removed", semconv.Bridge.PairID.Int64(id))
	return nil
}
