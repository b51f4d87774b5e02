package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/xKoRx/echo-bridge/core/internal"
	"github.com/xKoRx/echo-bridge/sdk/domain"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	args := os.Args[2:]
	switch os.Args[1] {
	case "queue":
		runQueue(args)
	case "accounts":
		runAccounts(args)
	case "pairs":
		runPairs(args)
	case "history":
		runHistory(args)
	case "signal":
		runSignal(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "comando desconocido: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	usage := `echo-bridge-cli - herramientas operativas para Echo Bridge

Uso:
  echo-bridge-cli queue status [<account>] [--limit N]
  echo-bridge-cli queue clear <account>
  echo-bridge-cli accounts list
  echo-bridge-cli accounts add --account <id> [--nickname n] [--status ACTIVE|PAUSED|AWAITING_ACTIVATION]
  echo-bridge-cli accounts pause|resume|remove <account>
  echo-bridge-cli pairs list
  echo-bridge-cli pairs add --master <id> --slave <id>
  echo-bridge-cli pairs enable|disable|remove <pair-id>
  echo-bridge-cli history [--account <id>] [--limit N]
  echo-bridge-cli signal --master <id> --action BUY --symbol EURUSD [--volume 0.1] [--field clave=valor ...]

Flags comunes:
  --addr      Dirección del bridge (default: $ECHO_BRIDGE_ADDR o localhost:8080)
  --token     Token de administración (default: $ECHO_BRIDGE_ADMIN_TOKEN)
  --timeout   Timeout de la request (default: 10s)
  --json      Imprimir la respuesta cruda en JSON
`
	fmt.Fprintln(os.Stderr, usage)
}

// cliContext agrupa las flags comunes de todos los subcomandos.
type cliContext struct {
	addr    *string
	token   *string
	timeout *time.Duration
	json    *bool
}

func newFlagSet(name string) (*flag.FlagSet, *cliContext) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	addr := os.Getenv("ECHO_BRIDGE_ADDR")
	if addr == "" {
		addr = "localhost:8080"
	}
	cc := &cliContext{
		addr:    fs.String("addr", addr, "Dirección HTTP del bridge"),
		token:   fs.String("token", os.Getenv("ECHO_BRIDGE_ADMIN_TOKEN"), "Token de administración"),
		timeout: fs.Duration("timeout", 10*time.Second, "Timeout de la request"),
		json:    fs.Bool("json", false, "Imprimir la respuesta en formato JSON"),
	}
	return fs, cc
}

// parseArgs acepta flags antes o después de los argumentos posicionales.
func parseArgs(fs *flag.FlagSet, args []string) []string {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			fmt.Fprintf(os.Stderr, "error parseando flags: %v\n", err)
			os.Exit(1)
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

// call ejecuta la request y termina el proceso si falla.
func (cc *cliContext) call(method, path string, body, out any) []byte {
	ctx, cancel := context.WithTimeout(context.Background(), *cc.timeout)
	defer cancel()

	client := newAPIClient(*cc.addr, *cc.token, *cc.timeout)
	raw, err := client.do(ctx, method, path, body, out)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	return raw
}

// emit imprime el JSON crudo si se pidió --json; si no, delega en render.
func (cc *cliContext) emit(raw []byte, render func()) {
	if *cc.json {
		printJSON(raw)
		return
	}
	render()
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func subcommand(args []string) (string, []string) {
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}
	return args[0], args[1:]
}

// ---- queue ----

func runQueue(args []string) {
	sub, rest := subcommand(args)
	fs, cc := newFlagSet("queue " + sub)
	limit := fs.Int("limit", 0, "Máximo de comandos a mostrar")
	positional := parseArgs(fs, rest)

	switch sub {
	case "status":
		if len(positional) == 0 {
			var status internal.QueueStatus
			raw := cc.call(http.MethodGet, "/api/commands/status/all", nil, &status)
			cc.emit(raw, func() { renderQueueStatusAll(status) })
			return
		}
		account := positional[0]
		var resp struct {
			Pending  int               `json:"pending"`
			Commands []*domain.Command `json:"commands"`
		}
		path := "/api/commands/" + url.PathEscape(account) + "/status"
		if *limit > 0 {
			path += "?limit=" + strconv.Itoa(*limit)
		}
		raw := cc.call(http.MethodGet, path, nil, &resp)
		cc.emit(raw, func() { renderQueue(account, resp.Pending, resp.Commands) })
	case "clear":
		if len(positional) == 0 {
			fail("queue clear requiere <account>")
		}
		var resp struct {
			Cleared int `json:"cleared"`
		}
		raw := cc.call(http.MethodPost, "/api/commands/"+url.PathEscape(positional[0])+"/clear", nil, &resp)
		cc.emit(raw, func() { fmt.Printf("Cola de %s vaciada: %d comandos descartados\n", positional[0], resp.Cleared) })
	default:
		fail("subcomando queue desconocido: %s", sub)
	}
}

// ---- accounts ----

func runAccounts(args []string) {
	sub, rest := subcommand(args)
	fs, cc := newFlagSet("accounts " + sub)
	accountID := fs.String("account", "", "Cuenta (account_id)")
	nickname := fs.String("nickname", "", "Alias de la cuenta")
	status := fs.String("status", "", "Estado inicial")
	symbolReceived := fs.Bool("symbol-received", false, "Marcar la cuenta como ya activada por símbolo")
	positional := parseArgs(fs, rest)

	switch sub {
	case "list":
		var resp struct {
			Accounts []accountView `json:"accounts"`
		}
		raw := cc.call(http.MethodGet, "/api/accounts", nil, &resp)
		cc.emit(raw, func() { renderAccounts(resp.Accounts) })
	case "add":
		if *accountID == "" && len(positional) > 0 {
			*accountID = positional[0]
		}
		if *accountID == "" {
			fs.Usage()
			fail("--account es requerido")
		}
		body := map[string]any{
			"account_id":      *accountID,
			"nickname":        *nickname,
			"status":          strings.ToUpper(*status),
			"symbol_received": *symbolReceived,
		}
		var view accountView
		raw := cc.call(http.MethodPost, "/api/accounts", body, &view)
		cc.emit(raw, func() { renderAccounts([]accountView{view}) })
	case "pause", "resume":
		if len(positional) == 0 {
			fail("accounts %s requiere <account>", sub)
		}
		var view accountView
		raw := cc.call(http.MethodPost, "/api/accounts/"+url.PathEscape(positional[0])+"/"+sub, nil, &view)
		cc.emit(raw, func() { renderAccounts([]accountView{view}) })
	case "remove":
		if len(positional) == 0 {
			fail("accounts remove requiere <account>")
		}
		raw := cc.call(http.MethodDelete, "/api/accounts/"+url.PathEscape(positional[0]), nil, nil)
		cc.emit(raw, func() { fmt.Printf("Cuenta %s eliminada\n", positional[0]) })
	default:
		fail("subcomando accounts desconocido: %s", sub)
	}
}

// ---- pairs ----

func runPairs(args []string) {
	sub, rest := subcommand(args)
	fs, cc := newFlagSet("pairs " + sub)
	master := fs.String("master", "", "Cuenta master")
	slave := fs.String("slave", "", "Cuenta slave")
	positional := parseArgs(fs, rest)

	switch sub {
	case "list":
		var resp struct {
			Pairs []*domain.CopyPair `json:"pairs"`
		}
		raw := cc.call(http.MethodGet, "/api/pairs", nil, &resp)
		cc.emit(raw, func() { renderPairs(resp.Pairs) })
	case "add":
		if *master == "" || *slave == "" {
			fs.Usage()
			fail("--master y --slave son requeridos")
		}
		var pair domain.CopyPair
		raw := cc.call(http.MethodPost, "/api/pairs", map[string]string{
			"master_account": *master,
			"slave_account":  *slave,
		}, &pair)
		cc.emit(raw, func() { renderPairs([]*domain.CopyPair{&pair}) })
	case "enable", "disable", "remove":
		if len(positional) == 0 {
			fail("pairs %s requiere <pair-id>", sub)
		}
		id := positional[0]
		if _, err := strconv.ParseInt(id, 10, 64); err != nil {
			fail("pair-id inválido: %s", id)
		}
		method, path := http.MethodPost, "/api/pairs/"+id+"/"+sub
		if sub == "remove" {
			method, path = http.MethodDelete, "/api/pairs/"+id
		}
		raw := cc.call(method, path, nil, nil)
		cc.emit(raw, func() { fmt.Printf("Par %s: %s OK\n", id, sub) })
	default:
		fail("subcomando pairs desconocido: %s", sub)
	}
}

// ---- history ----

func runHistory(args []string) {
	fs, cc := newFlagSet("history")
	account := fs.String("account", "", "Filtrar por cuenta (master o slave)")
	limit := fs.Int("limit", 50, "Máximo de eventos")
	parseArgs(fs, args)

	query := url.Values{}
	if *account != "" {
		query.Set("account", *account)
	}
	query.Set("limit", strconv.Itoa(*limit))

	var resp struct {
		Events []*domain.HistoryEvent `json:"events"`
	}
	raw := cc.call(http.MethodGet, "/api/history?"+query.Encode(), nil, &resp)
	cc.emit(raw, func() { renderHistory(resp.Events) })
}

// ---- signal ----

// fieldFlags acumula --field clave=valor.
type fieldFlags map[string]any

func (f fieldFlags) String() string { return fmt.Sprint(map[string]any(f)) }

func (f fieldFlags) Set(v string) error {
	key, value, ok := strings.Cut(v, "=")
	if !ok || key == "" {
		return fmt.Errorf("se esperaba clave=valor, se recibió %q", v)
	}
	if n, err := strconv.ParseFloat(value, 64); err == nil {
		f[key] = n
		return nil
	}
	f[key] = value
	return nil
}

func runSignal(args []string) {
	fs, cc := newFlagSet("signal")
	master := fs.String("master", "", "Cuenta master que origina la señal")
	action := fs.String("action", "", "Acción (BUY, SELL, CLOSE, ...)")
	symbol := fs.String("symbol", "", "Símbolo")
	volume := fs.Float64("volume", 0, "Volumen (lotes)")
	fields := fieldFlags{}
	fs.Var(fields, "field", "Campo adicional clave=valor (repetible)")
	parseArgs(fs, args)

	if *master == "" || *action == "" || *symbol == "" {
		fs.Usage()
		fail("--master, --action y --symbol son requeridos")
	}

	body := map[string]any{}
	for k, v := range fields {
		body[k] = v
	}
	body["master_account"] = *master
	body[domain.FieldAction] = strings.ToUpper(*action)
	body[domain.FieldSymbol] = *symbol
	if *volume > 0 {
		body["volume"] = *volume
	}

	var resp struct {
		Report domain.FanOutReport `json:"report"`
	}
	raw := cc.call(http.MethodPost, "/api/copy/signal", body, &resp)
	cc.emit(raw, func() { renderReport(resp.Report) })
}
