package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"

	"github.com/xKoRx/echo-bridge/core/internal"
	"github.com/xKoRx/echo-bridge/sdk/domain"
	"github.com/xKoRx/echo-bridge/sdk/utils"
)

// accountView es la cuenta tal como la expone el API (registro + liveness).
type accountView struct {
	domain.SlaveAccount
	Online bool `json:"online"`
}

func printJSON(raw []byte) {
	fmt.Println(utils.PrettyPrint(raw))
}

func since(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

func colorStatus(status string) string {
	switch status {
	case string(domain.AccountStatusActive), string(domain.CommandStatusAcked), string(domain.HistoryStatusAcked), string(domain.HistoryStatusQueued):
		return color.GreenString(status)
	case string(domain.AccountStatusPaused), string(domain.AccountStatusAwaitingActivation), string(domain.CommandStatusDelivered):
		return color.YellowString(status)
	case string(domain.CommandStatusFailed), string(domain.CommandStatusExpired),
		string(domain.HistoryStatusFailed), string(domain.HistoryStatusExpired), string(domain.HistoryStatusRejected):
		return color.RedString(status)
	default:
		return status
	}
}

func yesNo(b bool) string {
	if b {
		return color.GreenString("sí")
	}
	return color.RedString("no")
}

func renderQueueStatusAll(status internal.QueueStatus) {
	accounts := make([]string, 0, len(status.Accounts))
	for account := range status.Accounts {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Cuenta", "Total", "Pending", "Delivered")
	for _, account := range accounts {
		s := status.Accounts[account]
		table.Append(account, strconv.Itoa(s.Total), strconv.Itoa(s.Pending), strconv.Itoa(s.Delivered))
	}
	table.Render()

	st := status.Stats
	fmt.Printf("Comandos sin resolver: %d | agregados %d, entregados %d, ack %d, fallidos %d, expirados %d, descartados %d\n",
		status.TotalCommands, st.Added, st.Retrieved, st.Acknowledged, st.Failed, st.Expired, st.Cleared)
}

func renderQueue(account string, pending int, commands []*domain.Command) {
	fmt.Printf("Cuenta %s: %d comandos pendientes\n", account, pending)
	if len(commands) == 0 {
		return
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Command ID", "Acción", "Símbolo", "Volumen", "Origen", "Estado", "Entregas", "Encolado")
	for _, cmd := range commands {
		table.Append(
			cmd.CommandID,
			cmd.Action,
			cmd.Symbol,
			strconv.FormatFloat(cmd.Volume(), 'f', -1, 64),
			cmd.CopyFrom,
			colorStatus(string(cmd.Status)),
			strconv.Itoa(cmd.DeliveryCount),
			since(cmd.Timestamp),
		)
	}
	table.Render()
}

func renderAccounts(accounts []accountView) {
	if len(accounts) == 0 {
		fmt.Println("No hay cuentas registradas")
		return
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Cuenta", "Alias", "Estado", "Símbolo", "Online", "Último heartbeat", "Broker")
	for _, a := range accounts {
		symbol := a.Symbol
		if !a.SymbolReceived {
			symbol = "-"
		}
		table.Append(
			a.AccountID,
			a.Nickname,
			colorStatus(string(a.Status)),
			symbol,
			yesNo(a.Online),
			since(a.LastSeen),
			a.Broker,
		)
	}
	table.Render()
}

func renderPairs(pairs []*domain.CopyPair) {
	if len(pairs) == 0 {
		fmt.Println("No hay copy pairs")
		return
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("ID", "Master", "Slave", "Habilitado", "Creado")
	for _, p := range pairs {
		table.Append(strconv.FormatInt(p.ID, 10), p.MasterAccount, p.SlaveAccount, yesNo(p.Enabled), since(p.CreatedAt))
	}
	table.Render()
}

func renderHistory(events []*domain.HistoryEvent) {
	if len(events) == 0 {
		fmt.Println("Sin eventos")
		return
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Hora", "Estado", "Master", "Slave", "Acción", "Símbolo", "Volumen", "Ticket", "Mensaje")
	for _, ev := range events {
		message := ev.Message
		if ev.Code != "" {
			message = string(ev.Code) + ": " + message
		}
		table.Append(
			ev.Timestamp.Local().Format("2006-01-02 15:04:05"),
			colorStatus(string(ev.Status)),
			ev.Master,
			ev.Slave,
			ev.Action,
			ev.Symbol,
			strconv.FormatFloat(ev.Volume, 'f', -1, 64),
			ev.Ticket,
			message,
		)
	}
	table.Render()
}

func renderReport(report domain.FanOutReport) {
	fmt.Printf("Señal de %s: %d despachadas, %d rechazadas\n", report.MasterAccount, report.Dispatched, report.Rejected)
	if len(report.Results) == 0 {
		return
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Slave", "Resultado", "Command ID", "Detalle")
	for _, res := range report.Results {
		outcome := color.GreenString("OK")
		if !res.Success {
			outcome = color.RedString(string(res.Code))
		}
		table.Append(res.Account, outcome, res.CommandID, res.Message)
	}
	table.Render()
}
