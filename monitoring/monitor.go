// Package monitoring turns a running circuit into a small HTTP server for
// external inspection and control.
package monitoring

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"runtime/pprof"
	"strconv"
	"time"

	// Enable profiling
	_ "net/http/pprof"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/pkg/browser"
	"github.com/shirou/gopsutil/process"
	"github.com/syifan/goseth"

	"github.com/ladderkit/ladder/sim"
)

// Monitor can turn a circuit into a server and allows external inspection
// and controlling of the simulation.
type Monitor struct {
	circuit     *sim.Circuit
	portNumber  int
	openBrowser bool

	listener net.Listener
	server   *http.Server
}

// NewMonitor creates a new Monitor.
func NewMonitor() *Monitor {
	return &Monitor{}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber < 1000 {
		fmt.Fprintf(os.Stderr,
			"Port number %d is assigned to the monitoring server, "+
				"which is not allowed. Using a random port instead.\n", portNumber)
		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithBrowser opens the monitor page in the default browser when the server
// starts.
func (m *Monitor) WithBrowser() *Monitor {
	m.openBrowser = true
	return m
}

// RegisterCircuit registers the circuit to be monitored.
func (m *Monitor) RegisterCircuit(c *sim.Circuit) {
	m.circuit = c
}

// StartServer starts the monitor as a web server with a custom port if
// wanted.
func (m *Monitor) StartServer() error {
	r := mux.NewRouter()

	r.HandleFunc("/api/state", m.circuitState)
	r.HandleFunc("/api/blocks", m.listBlocks)
	r.HandleFunc("/api/block/{name}", m.listBlockDetails)
	r.HandleFunc("/api/resource", m.listResources)
	r.HandleFunc("/api/profile", m.collectProfile)
	r.HandleFunc("/api/shutdown", m.shutdown)

	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	if err != nil {
		return err
	}

	m.listener = listener
	m.server = &http.Server{Handler: r}

	url := fmt.Sprintf("http://localhost:%d/api/state", m.Port())
	fmt.Fprintf(os.Stderr, "Monitoring circuit with %s\n", url)

	go func() {
		serveErr := m.server.Serve(listener)
		if serveErr != http.ErrServerClosed {
			dieOnErr(serveErr)
		}
	}()

	if m.openBrowser {
		if err := browser.OpenURL(url); err != nil {
			fmt.Fprintf(os.Stderr, "Cannot open browser: %v\n", err)
		}
	}

	return nil
}

// StopServer shuts the web server down.
func (m *Monitor) StopServer() error {
	if m.server == nil {
		return nil
	}

	return m.server.Close()
}

// Port returns the port the server listens on.
func (m *Monitor) Port() int {
	if m.listener == nil {
		return 0
	}

	return m.listener.Addr().(*net.TCPAddr).Port
}

type stateRsp struct {
	Circuit string `json:"circuit"`
	State   string `json:"state"`
	Error   string `json:"error,omitempty"`
}

func (m *Monitor) circuitState(w http.ResponseWriter, _ *http.Request) {
	rsp := stateRsp{
		Circuit: m.circuit.Name(),
		State:   m.circuit.State().String(),
	}
	if err := m.circuit.Err(); err != nil {
		rsp.Error = err.Error()
	}

	writeJSON(w, rsp)
}

type blockRsp struct {
	Name    string    `json:"name"`
	Desc    string    `json:"desc,omitempty"`
	Defined bool      `json:"defined"`
	Output  sim.Value `json:"output,omitempty"`
}

func (m *Monitor) listBlocks(w http.ResponseWriter, _ *http.Request) {
	blocks := m.circuit.Blocks()

	rsp := make([]blockRsp, 0, len(blocks))
	for _, b := range blocks {
		entry := blockRsp{
			Name:    b.Name(),
			Desc:    b.Desc(),
			Defined: sim.IsDefined(b.Output()),
		}
		if entry.Defined {
			entry.Output = b.Output()
		}

		rsp = append(rsp, entry)
	}

	writeJSON(w, rsp)
}

func (m *Monitor) listBlockDetails(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	b := m.circuit.Block(name)
	if b == nil {
		w.WriteHeader(http.StatusNotFound)
		_, err := w.Write([]byte("Block not found"))
		dieOnErr(err)

		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(b)
	serializer.SetMaxDepth(1)
	err := serializer.Serialize(w)

	dieOnErr(err)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	proc, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := proc.CPUPercent()
	dieOnErr(err)

	memorySize, err := proc.MemoryInfo()
	dieOnErr(err)

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	dieOnErr(err)

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func (m *Monitor) shutdown(w http.ResponseWriter, _ *http.Request) {
	// Respond before taking the circuit down; Shutdown blocks until full
	// termination.
	w.WriteHeader(http.StatusOK)

	go func() {
		if err := m.circuit.Shutdown(); err != nil {
			fmt.Fprintf(os.Stderr, "Shutdown failed: %v\n", err)
		}
	}()
}

func writeJSON(w http.ResponseWriter, v any) {
	encoded, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")

	_, err = w.Write(encoded)
	dieOnErr(err)
}

func dieOnErr(err error) {
	if err != nil {
		log.Panic(err)
	}
}
