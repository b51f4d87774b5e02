package internal

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/xKoRx/echo-bridge/sdk/domain"
	"github.com/xKoRx/echo-bridge/sdk/telemetry/semconv"
	"github.com/xKoRx/echo-bridge/sdk/utils"
)

// flexString acepta string o número (los EA envían el ticket como entero).
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*f = flexString(n.String())
	return nil
}

type ackRequest struct {
	CommandID string     `json:"command_id"`
	Status    string     `json:"status"`
	Ticket    flexString `json:"ticket"`
	Message   string     `json:"message"`
}

type confirmRequest struct {
	Account   string     `json:"account"`
	CommandID string     `json:"command_id"`
	SignalID  string     `json:"signal_id"`
	Ticket    flexString `json:"ticket"`
	Status    string     `json:"status"`
	Message   string     `json:"message"`
}

type registerRequest struct {
	Account string `json:"account"`
	Broker  string `json:"broker"`
	Server  string `json:"server"`
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		writeError(c, domain.WrapError(domain.ErrInvalidPayload, "invalid JSON body", err))
		return false
	}
	return true
}

func (s *HTTPServer) handleHeartbeat(c *gin.Context) {
	var report domain.HeartbeatReport
	if !bindJSON(c, &report) {
		return
	}
	account, err := domain.NormalizeAccountID(report.Account)
	if err != nil {
		writeError(c, err)
		return
	}
	report.Account = account

	ctx := c.Request.Context()
	known := s.deps.Registry.Heartbeat(ctx, report)
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"type":        "heartbeat",
		"account":     account,
		"registered":  known,
		"pending":     s.deps.Queue.PendingCount(ctx, account),
		"server_time": utils.FormatISO8601(s.clock()),
	})
}

// handleGetSignals es el poll histórico: la cuenta viaja en query o body.
func (s *HTTPServer) handleGetSignals(c *gin.Context) {
	account := c.Query("account")
	if account == "" && c.Request.ContentLength != 0 {
		var body struct {
			Account string `json:"account"`
		}
		if !bindJSON(c, &body) {
			return
		}
		account = body.Account
	}
	commands, ok := s.poll(c, account)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"type":       "get_signals",
		"account":    strings.TrimSpace(account),
		"has_signal": len(commands) > 0,
		"signals":    commands,
	})
}

func (s *HTTPServer) handlePollCommands(c *gin.Context) {
	account := c.Param("account")
	commands, ok := s.poll(c, account)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"type":     "get_commands",
		"account":  account,
		"count":    len(commands),
		"commands": commands,
	})
}

// poll aplica rate limit, refresca liveness (un EA que hace poll está vivo) y entrega comandos.
func (s *HTTPServer) poll(c *gin.Context, rawAccount string) ([]*domain.Command, bool) {
	account, err := domain.NormalizeAccountID(rawAccount)
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil {
			writeError(c, domain.NewError(domain.ErrInvalidPayload, "limit must be an integer"))
			return nil, false
		}
	}
	if !s.deps.Limiter.Allow(account) {
		s.deps.Metrics.RateLimited()
		c.Header("Retry-After", "1")
		writeError(c, domain.NewError(domain.ErrRateLimited, fmt.Sprintf("poll rate exceeded for account %s", account)))
		return nil, false
	}

	ctx := c.Request.Context()
	s.deps.Registry.Heartbeat(ctx, domain.HeartbeatReport{Account: account})
	commands, err := s.deps.Queue.Poll(ctx, account, limit)
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	if len(commands) > 0 {
		s.deps.Telemetry.Info(ctx, "Commands delivered",
			semconv.Bridge.AccountID.String(account),
			semconv.Bridge.Count.Int(len(commands)),
		)
	}
	return commands, true
}

func (s *HTTPServer) handleAckCommand(c *gin.Context) {
	var req ackRequest
	if !bindJSON(c, &req) {
		return
	}
	s.acknowledge(c, c.Param("account"), req.CommandID, req.Status, string(req.Ticket), req.Message, "ack_command")
}

func (s *HTTPServer) handleConfirmExecution(c *gin.Context) {
	var req confirmRequest
	if !bindJSON(c, &req) {
		return
	}
	commandID := req.CommandID
	if commandID == "" {
		commandID = req.SignalID
	}
	s.acknowledge(c, req.Account, commandID, req.Status, string(req.Ticket), req.Message, "confirm_execution")
}

func (s *HTTPServer) acknowledge(c *gin.Context, rawAccount, commandID, status, ticket, message, kind string) {
	account, err := domain.NormalizeAccountID(rawAccount)
	if err != nil {
		writeError(c, err)
		return
	}
	commandID = strings.TrimSpace(commandID)
	if commandID == "" {
		writeError(c, domain.NewError(domain.ErrInvalidPayload, "command_id is required"))
		return
	}

	cmd, err := s.deps.Queue.Acknowledge(c.Request.Context(), account, commandID, domain.ParseAckOutcome(status), ticket, message)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"type":         kind,
		"account":      account,
		"command_id":   cmd.CommandID,
		"status":       cmd.Status,
		"acknowledged": true,
	})
}

func (s *HTTPServer) handleRegister(c *gin.Context) {
	var req registerRequest
	if !bindJSON(c, &req) {
		return
	}
	account, err := domain.NormalizeAccountID(req.Account)
	if err != nil {
		writeError(c, err)
		return
	}
	view, err := s.deps.Registry.Register(c.Request.Context(), account, req.Broker, req.Server)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"type":    "register",
		"account": view,
	})
}

func (s *HTTPServer) handleEAStatus(c *gin.Context) {
	token := c.Param("token")
	base := "/" + token + "/api"
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"type":        "status",
		"token_valid": true,
		"server_time": utils.FormatISO8601(s.clock()),
		"accounts":    len(s.deps.Registry.List()),
		"endpoints": gin.H{
			"heartbeat":         base + "/ea/heartbeat",
			"get_signals":       base + "/ea/get_signals",
			"confirm_execution": base + "/ea/confirm_execution",
			"register":          base + "/ea/register",
			"status":            base + "/ea/status",
			"commands":          base + "/commands/{account}",
			"ack":               base + "/commands/{account}/ack",
			"copy_signal":       base + "/copy/signal",
		},
	})
}

// handleCopySignal recibe {master_account, action, symbol, ...} y hace fan-out a los slaves.
// Responde 200 aun con rechazos parciales: el resultado va por cuenta.
func (s *HTTPServer) handleCopySignal(c *gin.Context) {
	var body map[string]interface{}
	if !bindJSON(c, &body) {
		return
	}
	master := utils.ExtractString(body, "master_account")
	if master == "" {
		master = utils.ExtractString(body, "master")
	}
	payload := domain.ClonePayload(body)
	delete(payload, "master_account")
	delete(payload, "master")

	report, err := s.deps.Copier.CopySignal(c.Request.Context(), master, payload)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"type":    "copy_signal",
		"report":  report,
	})
}
