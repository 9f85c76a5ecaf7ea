package policy

import (
	"fmt"
	"net/netip"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileGPG mirrors GPGConfig with yaml tags for the on-disk stanza format.
type fileGPG struct {
	Exe            string   `yaml:"exe"`
	HomeDir        string   `yaml:"home_dir"`
	DecryptID      string   `yaml:"decrypt_id"`
	DecryptPW      string   `yaml:"decrypt_pw"`
	AllowNoPW      bool     `yaml:"allow_no_pw"`
	RequireSig     bool     `yaml:"require_sig"`
	IgnoreSigError bool     `yaml:"ignore_sig_error"`
	RemoteIDList   []string `yaml:"remote_id_list"`
	RemoteFprList  []string `yaml:"remote_fpr_list"`
}

// fileStanza mirrors AccessStanza with yaml tags for the on-disk format.
type fileStanza struct {
	Name     string `yaml:"name"`
	Identity string `yaml:"identity"` // only consulted in identity mode

	SymKey   string `yaml:"sym_key"`
	HMACKey  string `yaml:"hmac_key"`
	HMACType string `yaml:"hmac_type"`

	Encryption string  `yaml:"encryption"` // "rijndael" or "gpg"
	GPG        fileGPG `yaml:"gpg"`

	Source      []string `yaml:"source"`
	Destination []string `yaml:"destination"`

	RequireUsername      string `yaml:"require_username"`
	RequireSourceAddress bool   `yaml:"require_source_address"`

	OpenPorts     []string `yaml:"open_ports"`
	RestrictPorts []string `yaml:"restrict_ports"`
	Services      []string `yaml:"services"`

	EnableCmdExec     bool   `yaml:"enable_cmd_exec"`
	EnableCmdSudoExec bool   `yaml:"enable_cmd_sudo_exec"`
	CmdExecUser       string `yaml:"cmd_exec_user"`
	CmdExecGroup      string `yaml:"cmd_exec_group"`
	CmdExecUid        uint32 `yaml:"cmd_exec_uid"`
	CmdExecGid        uint32 `yaml:"cmd_exec_gid"`
	CmdCycleOpen      string `yaml:"cmd_cycle_open"`

	FWAccessTimeoutSeconds int   `yaml:"fw_access_timeout"`
	AccessExpireTimeUnix   int64 `yaml:"access_expire_time"`
}

// file is the top-level on-disk policy document.
type file struct {
	Mode     string                 `yaml:"mode"` // "classic" or "identity"
	Stanzas  []fileStanza           `yaml:"stanzas"`
	Services map[string][]string    `yaml:"services"`
}

// Load reads and parses a policy file into a ready-to-use Set and
// ServiceCatalog, following the teacher's config-loading shape of
// read-then-validate-then-construct.
func Load(path string) (*Set, *ServiceCatalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read policy file %q: %w", path, err)
	}

	var doc file
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, nil, fmt.Errorf("parse policy file %q: %w", path, err)
	}

	services := map[string][]PortProto{}
	for name, entries := range doc.Services {
		parsed := make([]PortProto, 0, len(entries))
		for _, e := range entries {
			pp, err := ParsePortProto(e)
			if err != nil {
				return nil, nil, fmt.Errorf("service %q: %w", name, err)
			}
			parsed = append(parsed, pp)
		}
		services[name] = parsed
	}

	stanzas := make([]*AccessStanza, 0, len(doc.Stanzas))
	byIdentity := map[string]*AccessStanza{}
	for _, fs := range doc.Stanzas {
		st, err := parseStanza(fs)
		if err != nil {
			return nil, nil, fmt.Errorf("stanza %q: %w", fs.Name, err)
		}
		stanzas = append(stanzas, st)
		if fs.Identity != "" {
			byIdentity[fs.Identity] = st
		}
	}

	var set *Set
	switch doc.Mode {
	case "identity":
		set = NewIdentitySet(byIdentity)
	default:
		set = NewClassicSet(stanzas)
	}

	return set, NewServiceCatalog(services), nil
}

// LoadInto re-reads path and swaps the parsed stanzas into live in place,
// so callers holding a *Set pointer (the pipeline, the admin server) see
// the new stanzas without needing to be handed a new pointer. The service
// catalog is not swapped: a fresh *ServiceCatalog is returned, and any
// catalog a caller already holds keeps its old entries. Also returns the
// number of stanzas loaded.
func LoadInto(path string, live *Set) (*ServiceCatalog, int, error) {
	fresh, services, err := Load(path)
	if err != nil {
		return nil, 0, err
	}

	count := len(fresh.All())
	live.Reload(fresh.mode, fresh.ordered, fresh.byIdentity)

	return services, count, nil
}

func parseStanza(fs fileStanza) (*AccessStanza, error) {
	source, err := parsePrefixList(fs.Source)
	if err != nil {
		return nil, fmt.Errorf("source list: %w", err)
	}
	dest, err := parsePrefixList(fs.Destination)
	if err != nil {
		return nil, fmt.Errorf("destination list: %w", err)
	}
	openPorts, err := parsePortProtoList(fs.OpenPorts)
	if err != nil {
		return nil, fmt.Errorf("open_ports: %w", err)
	}
	restrictPorts, err := parsePortProtoList(fs.RestrictPorts)
	if err != nil {
		return nil, fmt.Errorf("restrict_ports: %w", err)
	}

	var expire time.Time
	if fs.AccessExpireTimeUnix > 0 {
		expire = time.Unix(fs.AccessExpireTimeUnix, 0)
	}

	st := &AccessStanza{
		Name:     fs.Name,
		SymKey:   []byte(fs.SymKey),
		HMACKey:  []byte(fs.HMACKey),
		HMACType: fs.HMACType,

		UseRijndael: fs.Encryption == "rijndael" || fs.Encryption == "",
		UseGPG:      fs.Encryption == "gpg",
		GPG: GPGConfig{
			Exe:            fs.GPG.Exe,
			HomeDir:        fs.GPG.HomeDir,
			DecryptID:      fs.GPG.DecryptID,
			DecryptPW:      fs.GPG.DecryptPW,
			AllowNoPW:      fs.GPG.AllowNoPW,
			RequireSig:     fs.GPG.RequireSig,
			IgnoreSigError: fs.GPG.IgnoreSigError,
			RemoteIDList:   fs.GPG.RemoteIDList,
			RemoteFprList:  fs.GPG.RemoteFprList,
		},

		SourceList:      source,
		DestinationList: dest,

		RequireUsername:      fs.RequireUsername,
		RequireSourceAddress: fs.RequireSourceAddress,

		OpenPorts:     openPorts,
		RestrictPorts: restrictPorts,
		Services:      fs.Services,

		Exec: ExecPolicy{
			EnableCmdExec:  fs.EnableCmdExec,
			EnableSudoExec: fs.EnableCmdSudoExec,
			User:           fs.CmdExecUser,
			Group:          fs.CmdExecGroup,
			Uid:            fs.CmdExecUid,
			Gid:            fs.CmdExecGid,
			CmdCycleOpen:   fs.CmdCycleOpen,
		},

		FWAccessTimeout:  time.Duration(fs.FWAccessTimeoutSeconds) * time.Second,
		AccessExpireTime: expire,
	}

	return st, nil
}

func parsePrefixList(entries []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(entries))
	for _, e := range entries {
		p, err := netip.ParsePrefix(e)
		if err != nil {
			// Allow a bare address as a /32.
			addr, aerr := netip.ParseAddr(e)
			if aerr != nil {
				return nil, fmt.Errorf("entry %q: %w", e, err)
			}
			p = netip.PrefixFrom(addr, addr.BitLen())
		}
		out = append(out, p)
	}
	return out, nil
}

func parsePortProtoList(entries []string) ([]PortProto, error) {
	out := make([]PortProto, 0, len(entries))
	for _, e := range entries {
		pp, err := ParsePortProto(e)
		if err != nil {
			return nil, err
		}
		out = append(out, pp)
	}
	return out, nil
}
