package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/pflag"

	"github.com/g960059/pnp/internal/api"
	"github.com/g960059/pnp/internal/integration"
	"github.com/g960059/pnp/internal/model"
)

type Runner struct {
	baseURL    string
	socketPath string
	client     *http.Client
	out        io.Writer
	errOut     io.Writer
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Faint(true)
)

func NewRunner(socketPath string, out, errOut io.Writer) *Runner {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
	}
	r := NewRunnerWithClient("http://unix", &http.Client{Transport: transport}, out, errOut)
	r.socketPath = socketPath
	return r
}

func NewRunnerWithClient(baseURL string, client *http.Client, out, errOut io.Writer) *Runner {
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Runner{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		out:     out,
		errOut:  errOut,
	}
}

func (r *Runner) Run(ctx context.Context, args []string) int {
	socketPath, rest, err := parseGlobalArgs(args)
	if err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	if socketPath != "" && r.baseURL == "http://unix" {
		*r = *NewRunner(socketPath, r.out, r.errOut)
	}
	if len(rest) == 0 {
		r.printUsage()
		return 2
	}
	switch rest[0] {
	case "pick", "place", "chuck", "toss", "spike":
		return r.runPipe(ctx, rest[0], rest[1:])
	case "pipe":
		if len(rest) < 2 || strings.HasPrefix(rest[1], "-") {
			_, _ = fmt.Fprintln(r.errOut, "usage: pnp pipe <word> [--json]")
			return 2
		}
		return r.runPipe(ctx, rest[1], rest[2:])
	case "status":
		return r.runStatus(ctx, rest[1:])
	case "history":
		return r.runHistory(ctx, rest[1:])
	case "health":
		return r.runHealth(ctx, rest[1:])
	case "install":
		return r.runInstall(rest[1:])
	case "doctor":
		return r.runDoctor(rest[1:])
	default:
		_, _ = fmt.Fprintf(r.errOut, "unknown command: %s\n", rest[0])
		r.printUsage()
		return 2
	}
}

func parseGlobalArgs(args []string) (string, []string, error) {
	fs := pflag.NewFlagSet("pnp", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.SetInterspersed(false)
	socket := fs.String("socket", "", "daemon socket path (default from config)")
	if err := fs.Parse(args); err != nil {
		return "", nil, err
	}
	return *socket, fs.Args(), nil
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func (r *Runner) runPipe(ctx context.Context, word string, args []string) int {
	fs := newFlagSet(word)
	jsonOut := fs.Bool("json", false, "output JSON")
	requestID := fs.String("request-id", "", "request id recorded in the journal")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	body, err := r.request(ctx, http.MethodPost, "/v1/pipe", nil, api.PipeRequest{RequestID: *requestID, Payload: word})
	if err != nil {
		return r.handleErr(err)
	}
	if *jsonOut {
		return r.writeRaw(body)
	}
	var resp api.PipeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return r.handleErr(err)
	}
	for _, op := range resp.Executed {
		_, _ = fmt.Fprintln(r.out, describeOperation(op))
	}
	if resp.State.Pending != "" {
		_, _ = fmt.Fprintf(r.out, "%s queued until the pane inventory is complete\n", resp.State.Pending)
	}
	return 0
}

func (r *Runner) runStatus(ctx context.Context, args []string) int {
	fs := newFlagSet("status")
	jsonOut := fs.Bool("json", false, "output JSON")
	rows := fs.Int("rows", 0, "clip the picker to this many rows")
	cols := fs.Int("cols", 0, "clip the picker to this many columns")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	query := url.Values{}
	if *rows > 0 {
		query.Set("rows", strconv.Itoa(*rows))
	}
	if *cols > 0 {
		query.Set("cols", strconv.Itoa(*cols))
	}
	body, err := r.request(ctx, http.MethodGet, "/v1/render", query, nil)
	if err != nil {
		return r.handleErr(err)
	}
	if *jsonOut {
		return r.writeRaw(body)
	}
	var resp api.RenderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return r.handleErr(err)
	}
	st := resp.State
	header := fmt.Sprintf("pnp %s  permission=%s  inventory=%s", shortID(st.InstanceID), st.Permission, readiness(st.InventoryReady))
	_, _ = fmt.Fprintln(r.out, headerStyle.Render(header))
	if st.Pending != "" || st.Buffered > 0 {
		_, _ = fmt.Fprintln(r.out, dimStyle.Render(fmt.Sprintf("pending=%s buffered=%d", orDash(st.Pending), st.Buffered)))
	}
	_, _ = fmt.Fprintln(r.out, resp.Text)
	return 0
}

func (r *Runner) runHistory(ctx context.Context, args []string) int {
	fs := newFlagSet("history")
	jsonOut := fs.Bool("json", false, "output JSON")
	limit := fs.Int("limit", 20, "number of operations to show")
	id := fs.String("id", "", "show one operation by id")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	query := url.Values{}
	if *id != "" {
		query.Set("id", *id)
	} else {
		query.Set("limit", strconv.Itoa(*limit))
	}
	body, err := r.request(ctx, http.MethodGet, "/v1/history", query, nil)
	if err != nil {
		return r.handleErr(err)
	}
	if *jsonOut {
		return r.writeRaw(body)
	}
	var env api.HistoryEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return r.handleErr(err)
	}
	if *id != "" && len(env.Operations) == 1 {
		op := env.Operations[0]
		_, _ = fmt.Fprintln(r.out, headerStyle.Render(describeOperation(op)))
		_, _ = fmt.Fprintf(r.out, "operation\t%s\nrequest\t%s\ninstance\t%s\nat\t%s\n",
			op.OperationID, orDash(op.RequestID), op.InstanceID, op.CreatedAt)
		return 0
	}
	for _, op := range env.Operations {
		tab := "-"
		if op.TabPosition != nil {
			tab = strconv.Itoa(*op.TabPosition)
		}
		_, _ = fmt.Fprintf(r.out, "%s\t%s\t%s\t%s\ttab=%s\t%s\n",
			op.CreatedAt, op.Command, op.Outcome, strings.Join(op.Panes, ","), tab, shortID(op.InstanceID))
	}
	return 0
}

func (r *Runner) runHealth(ctx context.Context, args []string) int {
	fs := newFlagSet("health")
	jsonOut := fs.Bool("json", false, "output JSON")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	body, err := r.request(ctx, http.MethodGet, "/v1/health", nil, nil)
	if err != nil {
		return r.handleErr(err)
	}
	if *jsonOut {
		return r.writeRaw(body)
	}
	var resp api.HealthResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return r.handleErr(err)
	}
	_, _ = fmt.Fprintf(r.out, "%s\ttarget=%s (%s)\tbackend=%s\tpermission=%s\n",
		resp.Status, resp.Target, resp.TargetHealth, resp.Backend, orDash(resp.Permission))
	if resp.Status != "ok" {
		return 1
	}
	return 0
}

func (r *Runner) runInstall(args []string) int {
	fs := newFlagSet("install")
	tmuxConf := fs.String("tmux-conf", "", "tmux config file to update (default ~/.tmux.conf)")
	bin := fs.String("bin", "", "pnp binary invoked by the key bindings")
	prefixKey := fs.String("prefix-key", "", "key (after the tmux prefix) that enters the pnp key table")
	dryRun := fs.Bool("dry-run", false, "report changes without writing")
	jsonOut := fs.Bool("json", false, "output JSON")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	res, err := integration.Install(integration.InstallOptions{
		TmuxConf:  *tmuxConf,
		PNPBin:    *bin,
		PrefixKey: *prefixKey,
		DryRun:    *dryRun,
	})
	if err != nil {
		return r.handleErr(err)
	}
	if *jsonOut {
		return r.writeJSON(res)
	}
	verb := "updated"
	if res.DryRun {
		verb = "would update"
	}
	if len(res.FilesWritten) == 0 {
		_, _ = fmt.Fprintf(r.out, "%s already up to date\n", res.TmuxConf)
	}
	for _, path := range res.FilesWritten {
		_, _ = fmt.Fprintf(r.out, "%s %s\n", verb, path)
	}
	for _, path := range res.Backups {
		_, _ = fmt.Fprintf(r.out, "backup %s\n", path)
	}
	for _, w := range res.Warnings {
		_, _ = fmt.Fprintln(r.out, dimStyle.Render(w))
	}
	return 0
}

func (r *Runner) runDoctor(args []string) int {
	fs := newFlagSet("doctor")
	tmuxConf := fs.String("tmux-conf", "", "tmux config file holding the key bindings")
	configPath := fs.String("config", "", "pnp config file (default $XDG_CONFIG_HOME/pnp/config.toml)")
	jsonOut := fs.Bool("json", false, "output JSON")
	if err := fs.Parse(args); err != nil {
		_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
		return 2
	}
	res, err := integration.Doctor(integration.DoctorOptions{
		TmuxConf:   *tmuxConf,
		ConfigPath: *configPath,
		SocketPath: r.socketPath,
	})
	if err != nil {
		return r.handleErr(err)
	}
	if *jsonOut {
		_ = r.writeJSON(res)
	} else {
		for _, c := range res.Checks {
			_, _ = fmt.Fprintf(r.out, "%-4s\t%s\t%s\t%s\n", c.Status, c.Name, c.Message, orDash(c.Path))
		}
	}
	if !res.OK {
		return 1
	}
	return 0
}

func describeOperation(op api.OperationItem) string {
	panes := strings.Join(op.Panes, " ")
	switch model.Outcome(op.Outcome) {
	case model.OutcomePicked:
		return "picked " + panes
	case model.OutcomeAlreadyPicked:
		return panes + " already picked"
	case model.OutcomeNoCurrentClient:
		return "no focused pane to pick"
	case model.OutcomePlaced:
		tab := "?"
		if op.TabPosition != nil {
			tab = strconv.Itoa(*op.TabPosition)
		}
		return fmt.Sprintf("placed %s into tab %s", panes, tab)
	case model.OutcomeNoFocusedTab:
		return "no focused tab; picked panes stay hidden"
	case model.OutcomeChucked:
		return "chucked " + panes + " into a new tab"
	case model.OutcomeChuckDeferred:
		return "opening a new tab for " + panes
	case model.OutcomeTossed:
		return "tossed " + panes
	case model.OutcomeSpiked:
		return "spiked " + panes
	case model.OutcomeNothingPicked:
		return op.Command + ": nothing picked"
	default:
		return op.Command + ": " + op.Outcome
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return orDash(id)
}

func readiness(ready bool) string {
	if ready {
		return "ready"
	}
	return "incomplete"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func (r *Runner) writeRaw(body []byte) int {
	_, _ = r.out.Write(bytes.TrimRight(body, "\n"))
	_, _ = fmt.Fprintln(r.out)
	return 0
}

func (r *Runner) writeJSON(v any) int {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return r.handleErr(err)
	}
	return 0
}

func (r *Runner) request(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	u := r.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var reqBody io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reqBody = buf
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		var er api.ErrorResponse
		if unmarshalErr := json.Unmarshal(payload, &er); unmarshalErr == nil && er.Error.Code != "" {
			return nil, fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
		}
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	return payload, nil
}

func (r *Runner) handleErr(err error) int {
	_, _ = fmt.Fprintf(r.errOut, "error: %v\n", err)
	return 1
}

func (r *Runner) printUsage() {
	_, _ = fmt.Fprintln(r.errOut, "usage: pnp [--socket <path>] <pick|place|chuck|toss|spike|pipe <word>|status|history|health|install|doctor> ...")
}
