package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	spafwv1 "github.com/nullbind/spafwd/pkg/spafwpb/spafw/v1"
)

const (
	formatJSON  = "json"
	formatTable = "table"
	valueNA     = "N/A"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// formatStanzas renders a slice of access stanzas in the requested format.
func formatStanzas(stanzas []*spafwv1.StanzaInfo, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatStanzasJSON(stanzas)
	case formatTable:
		return formatStanzasTable(stanzas)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// formatStanza renders a single access stanza in the requested format.
func formatStanza(stanza *spafwv1.StanzaInfo, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatStanzaJSON(stanza)
	case formatTable:
		return formatStanzaDetail(stanza)
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// formatVerdict renders a pipeline verdict event in the requested format.
func formatVerdict(event *spafwv1.TailVerdictsResponse, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatVerdictJSON(event)
	case formatTable:
		return formatVerdictTable(event), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// --- Table formatters ---

func formatStanzasTable(stanzas []*spafwv1.StanzaInfo) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSOURCES\tOPEN-PORTS\tCRYPTO\tCMD-EXEC\tEXPIRED")

	for _, st := range stanzas {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%t\n",
			st.GetName(),
			joinOrNA(st.GetSourceList()),
			joinOrNA(st.GetOpenPorts()),
			shortCrypto(st),
			st.GetEnableCmdExec(),
			st.GetExpired(),
		)
	}

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}

func formatStanzaDetail(st *spafwv1.StanzaInfo) (string, error) {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "Name:\t%s\n", st.GetName())
	fmt.Fprintf(w, "Source List:\t%s\n", joinOrNA(st.GetSourceList()))
	fmt.Fprintf(w, "Open Ports:\t%s\n", joinOrNA(st.GetOpenPorts()))
	fmt.Fprintf(w, "Crypto:\t%s\n", shortCrypto(st))
	fmt.Fprintf(w, "Cmd Exec Enabled:\t%t\n", st.GetEnableCmdExec())

	if d := st.GetFwAccessTimeout(); d != nil {
		fmt.Fprintf(w, "Firewall Access Timeout:\t%s\n", d.AsDuration())
	}
	if ts := st.GetExpireTime(); ts != nil {
		fmt.Fprintf(w, "Expire Time:\t%s\n", ts.AsTime().Format(time.RFC3339))
	}

	fmt.Fprintf(w, "Expired:\t%t\n", st.GetExpired())

	if err := w.Flush(); err != nil {
		return "", fmt.Errorf("flush tabwriter: %w", err)
	}

	return buf.String(), nil
}

func formatVerdictTable(event *spafwv1.TailVerdictsResponse) string {
	ts := valueNA
	if t := event.GetTimestamp(); t != nil {
		ts = t.AsTime().Format(time.RFC3339)
	}

	src := valueNA
	if s := event.GetSourceAddr(); s != "" {
		src = s
	}

	line := fmt.Sprintf("[%s] %s  stanza=%s  src=%s",
		ts,
		event.GetKind().String(),
		event.GetStanzaName(),
		src,
	)

	if reason := event.GetReason(); reason != "" {
		line += "  reason=" + reason
	}

	return line
}

// --- JSON formatters ---

func formatStanzasJSON(stanzas []*spafwv1.StanzaInfo) (string, error) {
	data, err := json.MarshalIndent(stanzasToView(stanzas), "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal stanzas to JSON: %w", err)
	}

	return string(data), nil
}

func formatStanzaJSON(stanza *spafwv1.StanzaInfo) (string, error) {
	data, err := json.MarshalIndent(stanzaToView(stanza), "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal stanza to JSON: %w", err)
	}

	return string(data), nil
}

func formatVerdictJSON(event *spafwv1.TailVerdictsResponse) (string, error) {
	data, err := json.MarshalIndent(verdictToView(event), "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal verdict to JSON: %w", err)
	}

	return string(data), nil
}

// --- View types for clean JSON output ---

type stanzaView struct {
	Name            string   `json:"name"`
	SourceList      []string `json:"source_list,omitempty"`
	OpenPorts       []string `json:"open_ports,omitempty"`
	UseRijndael     bool     `json:"use_rijndael"`
	UseGPG          bool     `json:"use_gpg"`
	EnableCmdExec   bool     `json:"enable_cmd_exec"`
	FwAccessTimeout string   `json:"fw_access_timeout,omitempty"`
	ExpireTime      string   `json:"expire_time,omitempty"`
	Expired         bool     `json:"expired"`
}

type verdictView struct {
	Timestamp  string `json:"timestamp"`
	Kind       string `json:"kind"`
	StanzaName string `json:"stanza_name"`
	SourceAddr string `json:"source_addr,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

func stanzaToView(st *spafwv1.StanzaInfo) *stanzaView {
	v := &stanzaView{
		Name:          st.GetName(),
		SourceList:    st.GetSourceList(),
		OpenPorts:     st.GetOpenPorts(),
		UseRijndael:   st.GetUseRijndael(),
		UseGPG:        st.GetUseGpg(),
		EnableCmdExec: st.GetEnableCmdExec(),
		Expired:       st.GetExpired(),
	}

	if d := st.GetFwAccessTimeout(); d != nil {
		v.FwAccessTimeout = d.AsDuration().String()
	}
	if ts := st.GetExpireTime(); ts != nil {
		v.ExpireTime = ts.AsTime().Format(time.RFC3339)
	}

	return v
}

func stanzasToView(stanzas []*spafwv1.StanzaInfo) []*stanzaView {
	views := make([]*stanzaView, 0, len(stanzas))
	for _, st := range stanzas {
		views = append(views, stanzaToView(st))
	}

	return views
}

func verdictToView(event *spafwv1.TailVerdictsResponse) *verdictView {
	v := &verdictView{
		Kind:       event.GetKind().String(),
		StanzaName: event.GetStanzaName(),
		SourceAddr: event.GetSourceAddr(),
		Reason:     event.GetReason(),
	}

	if ts := event.GetTimestamp(); ts != nil {
		v.Timestamp = ts.AsTime().Format(time.RFC3339)
	}

	return v
}

// --- helpers ---

func joinOrNA(entries []string) string {
	if len(entries) == 0 {
		return valueNA
	}

	return strings.Join(entries, ",")
}

func shortCrypto(st *spafwv1.StanzaInfo) string {
	switch {
	case st.GetUseGpg():
		return "gpg"
	case st.GetUseRijndael():
		return "rijndael"
	default:
		return "unknown"
	}
}
