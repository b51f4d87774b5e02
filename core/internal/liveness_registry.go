package internal

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/xKoRx/echo-bridge/sdk/domain"
	"github.com/xKoRx/echo-bridge/sdk/telemetry"
	"github.com/xKoRx/echo-bridge/sdk/telemetry/semconv"
	"github.com/xKoRx/echo-bridge/sdk/utils"
)

// LivenessRegistry mantiene las cuentas slave conocidas, su estado declarado y su último heartbeat.
//
// Thread-safe. Las cuentas las crean los operadores; los heartbeats solo actualizan cuentas existentes.
// Si hay repositorio, cada cambio se escribe también en él. Las escrituras de una misma cuenta
// se serializan con un lock por cuenta que se toma antes de mu, así el repositorio recibe los
// snapshots en el mismo orden en que se aplicaron en memoria.
type LivenessRegistry struct {
	mu       sync.RWMutex
	accounts map[string]*domain.SlaveAccount

	writeLocksMu sync.Mutex
	writeLocks   map[string]*sync.Mutex

	timeoutMu sync.RWMutex
	timeout   time.Duration

	repo      domain.AccountRepository
	telemetry *telemetry.Client
	clock     utils.Clock
}

// AccountView es una cuenta con su liveness calculada al momento de la consulta.
type AccountView struct {
	*domain.SlaveAccount
	Online bool `json:"online"`
}

// RegistryOption configura dependencias opcionales del registry.
type RegistryOption func(*LivenessRegistry)

// WithAccountRepository persiste las cuentas.
func WithAccountRepository(repo domain.AccountRepository) RegistryOption {
	return func(r *LivenessRegistry) { r.repo = repo }
}

// WithRegistryClock reemplaza el reloj (tests de liveness).
func WithRegistryClock(clock utils.Clock) RegistryOption {
	return func(r *LivenessRegistry) { r.clock = clock }
}

// NewLivenessRegistry crea un registry vacío.
func NewLivenessRegistry(timeout time.Duration, tel *telemetry.Client, opts ...RegistryOption) *LivenessRegistry {
	r := &LivenessRegistry{
		accounts:   make(map[string]*domain.SlaveAccount),
		writeLocks: make(map[string]*sync.Mutex),
		timeout:    timeout,
		telemetry:  tel,
		clock:      utils.SystemClock,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load carga las cuentas persistidas.
func (r *LivenessRegistry) Load(ctx context.Context) error {
	if r.repo == nil {
		return nil
	}
	accounts, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("load accounts: %w", err)
	}
	r.mu.Lock()
	for _, a := range accounts {
		r.accounts[a.AccountID] = a
	}
	r.mu.Unlock()

	r.telemetry.Info(ctx, "Accounts loaded",
		semconv.Bridge.Component.String(semconv.ComponentValues.Registry),
		semconv.Bridge.Count.Int(len(accounts)),
	)
	return nil
}

// writeLock retorna el lock de escritura de la cuenta. Las entradas sobreviven a RemoveAccount
// para que un heartbeat en espera vea la baja al re-validar.
func (r *LivenessRegistry) writeLock(accountID string) *sync.Mutex {
	r.writeLocksMu.Lock()
	defer r.writeLocksMu.Unlock()
	l, ok := r.writeLocks[accountID]
	if !ok {
		l = &sync.Mutex{}
		r.writeLocks[accountID] = l
	}
	return l
}

// UpdateTimeout cambia la ventana de liveness sin reiniciar.
func (r *LivenessRegistry) UpdateTimeout(timeout time.Duration) {
	r.timeoutMu.Lock()
	r.timeout = timeout
	r.timeoutMu.Unlock()
}

func (r *LivenessRegistry) getTimeout() time.Duration {
	r.timeoutMu.RLock()
	defer r.timeoutMu.RUnlock()
	return r.timeout
}

// AccountExists reporta si la cuenta está registrada.
func (r *LivenessRegistry) AccountExists(accountID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.accounts[accountID]
	return ok
}

// IsAlive reporta si el último heartbeat está dentro de liveness.timeout.
func (r *LivenessRegistry) IsAlive(accountID string) bool {
	r.mu.RLock()
	a, ok := r.accounts[accountID]
	var lastSeen time.Time
	if ok {
		lastSeen = a.LastSeen
	}
	r.mu.RUnlock()
	return ok && r.alive(lastSeen)
}

func (r *LivenessRegistry) alive(lastSeen time.Time) bool {
	if lastSeen.IsZero() {
		return false
	}
	return r.clock().Sub(lastSeen) <= r.getTimeout()
}

// GetStatus retorna el estado declarado de la cuenta.
func (r *LivenessRegistry) GetStatus(accountID string) (domain.AccountState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[accountID]
	if !ok {
		return domain.AccountState{}, false
	}
	return domain.AccountState{Status: a.Status, SymbolReceived: a.SymbolReceived}, true
}

// Get retorna una copia de la cuenta, o nil si no existe.
func (r *LivenessRegistry) Get(accountID string) *AccountView {
	r.mu.RLock()
	a, ok := r.accounts[accountID]
	var clone *domain.SlaveAccount
	if ok {
		clone = a.Clone()
	}
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return &AccountView{SlaveAccount: clone, Online: r.alive(clone.LastSeen)}
}

// List retorna todas las cuentas ordenadas por account_id.
func (r *LivenessRegistry) List() []AccountView {
	r.mu.RLock()
	out := make([]AccountView, 0, len(r.accounts))
	for _, a := range r.accounts {
		out = append(out, AccountView{SlaveAccount: a.Clone()})
	}
	r.mu.RUnlock()

	for i := range out {
		out[i].Online = r.alive(out[i].LastSeen)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out
}

// Heartbeat aplica un reporte del EA. Retorna false si la cuenta no está registrada
// (el reporte se ignora).
//
// Un reporte con símbolos marca symbol_received y activa una cuenta AWAITING_ACTIVATION.
func (r *LivenessRegistry) Heartbeat(ctx context.Context, report domain.HeartbeatReport) bool {
	accountID := strings.TrimSpace(report.Account)
	if !r.AccountExists(accountID) {
		r.telemetry.Debug(ctx, "Heartbeat from unknown account ignored",
			semconv.Bridge.AccountID.String(accountID),
		)
		return false
	}

	wl := r.writeLock(accountID)
	wl.Lock()
	defer wl.Unlock()

	r.mu.Lock()
	a, ok := r.accounts[accountID]
	if !ok {
		// eliminada mientras esperábamos el lock
		r.mu.Unlock()
		return false
	}

	a.LastSeen = r.clock().UTC()
	if report.Broker != "" {
		a.Broker = report.Broker
	}
	if report.Server != "" {
		a.Server = report.Server
	}
	if report.EAVersion != "" {
		a.EAVersion = report.EAVersion
	}
	if report.Balance != nil {
		a.Balance = *report.Balance
	}
	if report.Equity != nil {
		a.Equity = *report.Equity
	}
	activated := false
	if report.HasSymbols() {
		a.SymbolReceived = true
		if report.Symbol != "" {
			a.Symbol = report.Symbol
		} else if len(report.Symbols) > 0 {
			a.Symbol = report.Symbols[0]
		}
		if a.Status == domain.AccountStatusAwaitingActivation {
			a.Status = domain.AccountStatusActive
			activated = true
		}
	}
	snapshot := a.Clone()
	r.mu.Unlock()

	if activated {
		r.telemetry.Info(ctx, "Account activated after symbol report",
			semconv.Bridge.AccountID.String(accountID),
			semconv.Bridge.Symbol.String(snapshot.Symbol),
		)
	}
	r.persist(ctx, snapshot)
	return true
}

// Register es el alta del EA: actúa como heartbeat y falla con UNKNOWN_ACCOUNT
// si la cuenta no fue creada por un operador.
func (r *LivenessRegistry) Register(ctx context.Context, accountID, broker, server string) (*AccountView, error) {
	if !r.Heartbeat(ctx, domain.HeartbeatReport{Account: accountID, Broker: broker, Server: server}) {
		return nil, domain.NewError(domain.ErrUnknownAccount,
			fmt.Sprintf("account %s is not registered", accountID)).
			WithDetail("account", accountID)
	}
	r.telemetry.Info(ctx, "EA registered",
		semconv.Bridge.AccountID.String(accountID),
		attribute.String("broker", broker),
	)
	return r.Get(accountID), nil
}

// AddAccount registra una cuenta nueva. Sin estado explícito queda AWAITING_ACTIVATION.
func (r *LivenessRegistry) AddAccount(ctx context.Context, account *domain.SlaveAccount) (*AccountView, error) {
	if account == nil {
		return nil, domain.NewError(domain.ErrInvalidPayload, "account is required")
	}
	id, err := domain.NormalizeAccountID(account.AccountID)
	if err != nil {
		return nil, err
	}
	stored := account.Clone()
	stored.AccountID = id
	if stored.Status == "" {
		stored.Status = domain.AccountStatusAwaitingActivation
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = r.clock().UTC()
	}

	wl := r.writeLock(id)
	wl.Lock()
	defer wl.Unlock()

	r.mu.RLock()
	if existing, ok := r.accounts[id]; ok {
		stored.LastSeen = existing.LastSeen
	}
	r.mu.RUnlock()

	if r.repo != nil {
		if err := r.repo.Upsert(ctx, stored); err != nil {
			return nil, fmt.Errorf("persist account %s: %w", id, err)
		}
	}
	r.mu.Lock()
	r.accounts[id] = stored
	r.mu.Unlock()

	r.telemetry.Info(ctx, "Account added",
		semconv.Bridge.AccountID.String(id),
		semconv.Bridge.Status.String(string(stored.Status)),
	)
	return r.Get(id), nil
}

// RemoveAccount elimina una cuenta (y sus copy pairs en el repositorio).
func (r *LivenessRegistry) RemoveAccount(ctx context.Context, accountID string) error {
	wl := r.writeLock(accountID)
	wl.Lock()
	defer wl.Unlock()

	r.mu.Lock()
	_, ok := r.accounts[accountID]
	delete(r.accounts, accountID)
	r.mu.Unlock()
	if !ok {
		return domain.NewError(domain.ErrUnknownAccount, fmt.Sprintf("account %s is not registered", accountID))
	}
	if r.repo != nil {
		if err := r.repo.Delete(ctx, accountID); err != nil {
			return fmt.Errorf("delete account %s: %w", accountID, err)
		}
	}
	r.telemetry.Info(ctx, "Account removed", semconv.Bridge.AccountID.String(accountID))
	return nil
}

// SetStatus cambia el estado declarado (pause/resume).
func (r *LivenessRegistry) SetStatus(ctx context.Context, accountID string, status domain.AccountStatus) (*AccountView, error) {
	wl := r.writeLock(accountID)
	wl.Lock()
	defer wl.Unlock()

	r.mu.Lock()
	a, ok := r.accounts[accountID]
	if !ok {
		r.mu.Unlock()
		return nil, domain.NewError(domain.ErrUnknownAccount, fmt.Sprintf("account %s is not registered", accountID))
	}
	previous := a.Status
	a.Status = status
	snapshot := a.Clone()
	r.mu.Unlock()

	r.telemetry.Info(ctx, "Account status changed",
		semconv.Bridge.AccountID.String(accountID),
		semconv.Bridge.Status.String(string(status)),
		attribute.String("previous_status", string(previous)),
	)
	r.persist(ctx, snapshot)
	return r.Get(accountID), nil
}

func (r *LivenessRegistry) persist(ctx context.Context, account *domain.SlaveAccount) {
	if r.repo == nil {
		return
	}
	if err := r.repo.Upsert(ctx, account); err != nil {
		r.telemetry.Warn(ctx, "Failed to persist account",
			semconv.Bridge.AccountID.String(account.AccountID),
			attribute.String("error", err.Error()),
		)
	}
}
