package internal

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/xKoRx/echo-bridge/sdk/domain"
	"github.com/xKoRx/echo-bridge/sdk/utils"
)

const defaultHistoryLimit = 100

type addAccountRequest struct {
	AccountID      string `json:"account_id"`
	Nickname       string `json:"nickname"`
	Broker         string `json:"broker"`
	Server         string `json:"server"`
	Status         string `json:"status"`
	SymbolReceived bool   `json:"symbol_received"`
}

type addPairRequest struct {
	MasterAccount string `json:"master_account"`
	SlaveAccount  string `json:"slave_account"`
}

func (s *HTTPServer) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"started_at":  utils.FormatISO8601(s.startedAt),
		"queue_depth": s.deps.Queue.Depth(),
	})
}

// ---- Colas ----

func (s *HTTPServer) handleQueueStatus(c *gin.Context) {
	account, err := domain.NormalizeAccountID(c.Param("account"))
	if err != nil {
		writeError(c, err)
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"account":  account,
		"pending":  s.deps.Queue.PendingCount(c.Request.Context(), account),
		"commands": s.deps.Queue.Peek(account, limit),
	})
}

func (s *HTTPServer) handleQueueClear(c *gin.Context) {
	account, err := domain.NormalizeAccountID(c.Param("account"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"account": account,
		"cleared": s.deps.Queue.Clear(c.Request.Context(), account),
	})
}

func (s *HTTPServer) handleQueueStatusAll(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Queue.StatusAll())
}

// ---- Cuentas ----

func (s *HTTPServer) handleListAccounts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"accounts": s.deps.Registry.List()})
}

func (s *HTTPServer) handleGetAccount(c *gin.Context) {
	view := s.deps.Registry.Get(c.Param("account"))
	if view == nil {
		writeError(c, domain.NewError(domain.ErrUnknownAccount, "account "+c.Param("account")+" is not registered"))
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *HTTPServer) handleAddAccount(c *gin.Context) {
	var req addAccountRequest
	if !bindJSON(c, &req) {
		return
	}
	account := &domain.SlaveAccount{
		AccountID:      req.AccountID,
		Nickname:       req.Nickname,
		Broker:         req.Broker,
		Server:         req.Server,
		SymbolReceived: req.SymbolReceived,
	}
	if req.Status != "" {
		status, ok := domain.ParseAccountStatus(req.Status)
		if !ok {
			writeError(c, domain.NewError(domain.ErrInvalidPayload, "unknown account status "+req.Status))
			return
		}
		account.Status = status
	}

	view, err := s.deps.Registry.AddAccount(c.Request.Context(), account)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (s *HTTPServer) handleRemoveAccount(c *gin.Context) {
	if err := s.deps.Registry.RemoveAccount(c.Request.Context(), c.Param("account")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *HTTPServer) handleSetAccountStatus(status domain.AccountStatus) gin.HandlerFunc {
	return func(c *gin.Context) {
		view, err := s.deps.Registry.SetStatus(c.Request.Context(), c.Param("account"), status)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

// ---- Copy pairs ----

func (s *HTTPServer) handleListPairs(c *gin.Context) {
	pairs, err := s.deps.Copier.ListPairs(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	if pairs == nil {
		pairs = []*domain.CopyPair{}
	}
	c.JSON(http.StatusOK, gin.H{"pairs": pairs})
}

func (s *HTTPServer) handleAddPair(c *gin.Context) {
	var req addPairRequest
	if !bindJSON(c, &req) {
		return
	}
	pair, err := s.deps.Copier.AddPair(c.Request.Context(), req.MasterAccount, req.SlaveAccount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, pair)
}

func pairID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(c, domain.NewError(domain.ErrInvalidPayload, "pair id must be a positive integer"))
		return 0, false
	}
	return id, true
}

func (s *HTTPServer) handleRemovePair(c *gin.Context) {
	id, ok := pairID(c)
	if !ok {
		return
	}
	if err := s.deps.Copier.RemovePair(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *HTTPServer) handleSetPairEnabled(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pairID(c)
		if !ok {
			return
		}
		if err := s.deps.Copier.SetPairEnabled(c.Request.Context(), id, enabled); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "id": id, "enabled": enabled})
	}
}

// ---- Historial ----

func (s *HTTPServer) handleHistory(c *gin.Context) {
	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(c, domain.NewError(domain.ErrInvalidPayload, "limit must be a positive integer"))
			return
		}
		limit = n
	}
	events := s.deps.History.List(c.Request.Context(), domain.HistoryFilter{
		Account: c.Query("account"),
		Limit:   limit,
	})
	if events == nil {
		events = []*domain.HistoryEvent{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
