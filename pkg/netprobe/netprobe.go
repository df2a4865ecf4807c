// Package netprobe parses the kernel socket tables under /proc/net and
// correlates sockets to their owning processes.
package netprobe

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// Listener is a socket bound and accepting/receiving on a local port.
type Listener struct {
	Protocol    string `json:"protocol"`
	LocalAddr   string `json:"local_addr"`
	LocalPort   int    `json:"local_port"`
	State       string `json:"state"`
	PID         int    `json:"pid"`
	ProcessName string `json:"process_name"`
}

// Connection is an established TCP socket with both endpoints.
type Connection struct {
	Protocol    string `json:"protocol"`
	LocalAddr   string `json:"local_addr"`
	LocalPort   int    `json:"local_port"`
	RemoteAddr  string `json:"remote_addr"`
	RemotePort  int    `json:"remote_port"`
	State       string `json:"state"`
	PID         int    `json:"pid"`
	ProcessName string `json:"process_name"`
}

// Result is the outcome of one probe cycle. A missing table source
// contributes zero records and one failure; the probe itself never fails.
type Result struct {
	Listeners    []Listener
	Connections  []Connection
	UnusualPorts int
	Failures     int
}

// Prober reads the kernel socket tables.
type Prober struct {
	// Root is the proc filesystem mount point, normally /proc.
	Root string

	log *logrus.Logger
}

// New creates a Prober rooted at /proc.
func New(log *logrus.Logger) *Prober {
	return &Prober{Root: "/proc", log: log}
}

// socket state codes as reported by the kernel.
const (
	stateEstablished = 1
	stateListen      = 10
)

// stateNames maps kernel socket state codes to canonical names.
var stateNames = [12]string{
	"UNKNOWN",
	"ESTABLISHED",
	"SYN_SENT",
	"SYN_RECV",
	"FIN_WAIT1",
	"FIN_WAIT2",
	"TIME_WAIT",
	"CLOSE",
	"CLOSE_WAIT",
	"LAST_ACK",
	"LISTEN",
	"CLOSING",
}

// StateName returns the canonical name for a kernel socket state code.
// Codes outside [0,11] map to UNKNOWN.
func StateName(code int) string {
	if code < 0 || code >= len(stateNames) {
		return stateNames[0]
	}
	return stateNames[code]
}

// commonPorts are well-known service ports; a listener elsewhere is unusual.
var commonPorts = map[int]bool{
	22: true, 25: true, 53: true, 80: true, 110: true, 143: true,
	443: true, 465: true, 587: true, 993: true, 995: true,
	3306: true, 5432: true, 6379: true, 8080: true, 8443: true, 27017: true,
}

// ephemeralPortStart is the lowest port treated as ephemeral/outbound.
const ephemeralPortStart = 32768

// IsCommonPort reports whether a listener on port is unremarkable: either a
// well-known service port or in the ephemeral range.
func IsCommonPort(port int) bool {
	return commonPorts[port] || port >= ephemeralPortStart
}

// Probe parses all four socket tables and resolves socket owners through a
// single inode index built up front.
func (p *Prober) Probe() Result {
	var res Result
	index := p.buildInodeIndex()

	tables := []struct {
		file  string
		proto string
		udp   bool
	}{
		{"tcp", "tcp", false},
		{"tcp6", "tcp6", false},
		{"udp", "udp", true},
		{"udp6", "udp6", true},
	}

	for _, tbl := range tables {
		path := filepath.Join(p.Root, "net", tbl.file)
		if err := p.parseTable(path, tbl.proto, tbl.udp, index, &res); err != nil {
			p.log.WithError(err).WithField("table", tbl.file).Debug("Socket table unavailable")
			res.Failures++
		}
	}

	return res
}

// parseTable reads one /proc/net table. Malformed lines are skipped.
func (p *Prober) parseTable(path, proto string, udp bool, index map[uint64]int, res *Result) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	first := true
	for scanner.Scan() {
		if first {
			first = false // header line
			continue
		}
		entry, err := parseSocketLine(scanner.Text())
		if err != nil {
			continue
		}
		p.classify(entry, proto, udp, index, res)
	}
	return scanner.Err()
}

// socketEntry is one parsed line of a /proc/net table.
type socketEntry struct {
	localAddr  string
	localPort  int
	remoteAddr string
	remotePort int
	state      int
	inode      uint64
}

// parseSocketLine parses the whitespace-separated fields of a socket table
// line: sl, local_address, rem_address, st, queues, timers, retrnsmt, uid,
// timeout, inode, ...
func parseSocketLine(line string) (socketEntry, error) {
	fields := strings.Fields(line)
	if len(fields) < 10 {
		return socketEntry{}, fmt.Errorf("short socket line")
	}

	localAddr, localPort, err := parseHexAddr(fields[1])
	if err != nil {
		return socketEntry{}, err
	}
	remoteAddr, remotePort, err := parseHexAddr(fields[2])
	if err != nil {
		return socketEntry{}, err
	}
	state, err := strconv.ParseInt(fields[3], 16, 32)
	if err != nil {
		return socketEntry{}, err
	}
	inode, err := strconv.ParseUint(fields[9], 10, 64)
	if err != nil {
		return socketEntry{}, err
	}

	return socketEntry{
		localAddr:  localAddr,
		localPort:  localPort,
		remoteAddr: remoteAddr,
		remotePort: remotePort,
		state:      int(state),
		inode:      inode,
	}, nil
}

// parseHexAddr decodes a "HEXADDR:HEXPORT" token. IPv4 addresses are stored
// little-endian by the kernel, so the four octets are read in reverse order.
// IPv6 addresses are kept in the kernel's hex representation.
func parseHexAddr(s string) (string, int, error) {
	idx := strings.LastIndex(s, ":")
	if idx < 0 {
		return "", 0, fmt.Errorf("invalid address %q", s)
	}
	addrHex, portHex := s[:idx], s[idx+1:]

	port, err := strconv.ParseInt(portHex, 16, 32)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q", portHex)
	}

	switch len(addrHex) {
	case 8: // IPv4
		b, err := hex.DecodeString(addrHex)
		if err != nil {
			return "", 0, fmt.Errorf("invalid ipv4 %q", addrHex)
		}
		return fmt.Sprintf("%d.%d.%d.%d", b[3], b[2], b[1], b[0]), int(port), nil
	case 32: // IPv6
		return strings.ToLower(addrHex), int(port), nil
	default:
		return "", 0, fmt.Errorf("invalid address length %d", len(addrHex))
	}
}

// classify turns a parsed socket entry into a Listener or Connection.
func (p *Prober) classify(e socketEntry, proto string, udp bool, index map[uint64]int, res *Result) {
	if udp {
		// UDP reports a pseudo-close state for bound sockets; any entry
		// with a bound local port is a listener.
		if e.localPort <= 0 {
			return
		}
		pid, name := p.resolveOwner(e.inode, index)
		res.Listeners = append(res.Listeners, Listener{
			Protocol:    proto,
			LocalAddr:   e.localAddr,
			LocalPort:   e.localPort,
			State:       StateName(stateListen),
			PID:         pid,
			ProcessName: name,
		})
		if !IsCommonPort(e.localPort) {
			res.UnusualPorts++
		}
		return
	}

	switch e.state {
	case stateListen:
		pid, name := p.resolveOwner(e.inode, index)
		res.Listeners = append(res.Listeners, Listener{
			Protocol:    proto,
			LocalAddr:   e.localAddr,
			LocalPort:   e.localPort,
			State:       StateName(e.state),
			PID:         pid,
			ProcessName: name,
		})
		if !IsCommonPort(e.localPort) {
			res.UnusualPorts++
		}
	case stateEstablished:
		pid, name := p.resolveOwner(e.inode, index)
		res.Connections = append(res.Connections, Connection{
			Protocol:    proto,
			LocalAddr:   e.localAddr,
			LocalPort:   e.localPort,
			RemoteAddr:  e.remoteAddr,
			RemotePort:  e.remotePort,
			State:       StateName(e.state),
			PID:         pid,
			ProcessName: name,
		})
	}
}

// resolveOwner looks up the owning pid for a socket inode. Unresolved sockets
// belong to the kernel or a process we cannot inspect.
func (p *Prober) resolveOwner(inode uint64, index map[uint64]int) (int, string) {
	pid, ok := index[inode]
	if !ok || pid == 0 {
		return 0, "[kernel]"
	}
	return pid, p.processName(pid)
}

// buildInodeIndex walks /proc/[pid]/fd once and maps socket inodes to pids.
// One pass per probe cycle replaces a per-socket rescan of every process.
func (p *Prober) buildInodeIndex() map[uint64]int {
	index := make(map[uint64]int)

	entries, err := os.ReadDir(p.Root)
	if err != nil {
		p.log.WithError(err).Debug("Failed to read proc root for socket index")
		return index
	}

	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		fdDir := filepath.Join(p.Root, entry.Name(), "fd")
		fds, err := os.ReadDir(fdDir)
		if err != nil {
			continue // process exited or fd dir not readable
		}
		for _, fd := range fds {
			target, err := os.Readlink(filepath.Join(fdDir, fd.Name()))
			if err != nil {
				continue
			}
			if inode, ok := socketInode(target); ok {
				index[inode] = pid
			}
		}
	}

	return index
}

// socketInode extracts the inode from a "socket:[12345]" link target.
func socketInode(target string) (uint64, bool) {
	if !strings.HasPrefix(target, "socket:[") || !strings.HasSuffix(target, "]") {
		return 0, false
	}
	inode, err := strconv.ParseUint(target[len("socket:["):len(target)-1], 10, 64)
	if err != nil {
		return 0, false
	}
	return inode, true
}

// processName reads the comm of a pid, or "[unknown]" if unreadable.
func (p *Prober) processName(pid int) string {
	data, err := os.ReadFile(filepath.Join(p.Root, strconv.Itoa(pid), "comm"))
	if err != nil {
		return "[unknown]"
	}
	return strings.TrimRight(string(data), "\n")
}
