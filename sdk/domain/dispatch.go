package domain

// OriginPair describe la procedencia de una señal copiada.
type OriginPair struct {
	PairID        int64  `json:"pair_id,omitempty"`
	MasterAccount string `json:"master_account"`
}

// CopyFrom retorna el valor de auditoría copy_from ("-" si no hay master).
func (o OriginPair) CopyFrom() string {
	if o.MasterAccount == "" {
		return NoMasterAccount
	}
	return o.MasterAccount
}

// DispatchResult es la decisión de dispatch para una cuenta slave.
//
// Nunca se representa como error: el pipeline de señales siempre recibe una decisión.
type DispatchResult struct {
	Account   string    `json:"account"`
	Success   bool      `json:"success"`
	CommandID string    `json:"command_id,omitempty"`
	Code      ErrorCode `json:"code,omitempty"`
	Message   string    `json:"message"`
}

// DispatchOK construye un resultado exitoso.
func DispatchOK(account, commandID string) DispatchResult {
	return DispatchResult{
		Account:   account,
		Success:   true,
		CommandID: commandID,
		Message:   "command queued",
	}
}

// DispatchFailed construye un resultado fallido.
func DispatchFailed(account string, code ErrorCode, message string) DispatchResult {
	return DispatchResult{
		Account: account,
		Success: false,
		Code:    code,
		Message: message,
	}
}

// FanOutReport agrupa los resultados por cuenta de una copia multi-slave.
type FanOutReport struct {
	MasterAccount string           `json:"master_account"`
	Results       []DispatchResult `json:"results"`
	Dispatched    int              `json:"dispatched"`
	Rejected      int              `json:"rejected"`
}

// Add incorpora un resultado y actualiza los contadores.
func (r *FanOutReport) Add(res DispatchResult) {
	r.Results = append(r.Results, res)
	if res.Success {
		r.Dispatched++
	} else {
		r.Rejected++
	}
}
